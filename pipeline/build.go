package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// Env is what a stage factory may use to build its stage.
type Env struct {
	Logger     logrus.FieldLogger
	Store      storage.Store
	Type       content.Type
	Registerer prometheus.Registerer

	// Options holds the plugin settings read from configuration, keyed by
	// plugin name.
	Options map[string]map[string]interface{}
}

// Option returns a plugin setting or nil.
func (e Env) Option(plugin, key string) interface{} {
	return e.Options[plugin][key]
}

// StageFactory builds a stage in front of next. The innermost factory
// receives a nil next.
type StageFactory[T Object] func(env Env, next Stage[T]) (Stage[T], error)

// Build assembles a chain from factories given outermost first. At least
// two factories are required: an outer stage and the backing stage.
func Build[T Object](env Env, factories ...StageFactory[T]) (Stage[T], error) {
	if len(factories) < 2 {
		return nil, rErrors.Errorf(rErrors.Configuration, "%s pipeline needs at least two stages, got %d", env.Type, len(factories))
	}
	var next Stage[T]
	for i := len(factories) - 1; i >= 0; i-- {
		if factories[i] == nil {
			return nil, rErrors.Errorf(rErrors.Configuration, "%s pipeline: stage %d has no factory", env.Type, i)
		}
		stage, err := factories[i](env, next)
		if err != nil {
			return nil, rErrors.NewWithError(rErrors.Configuration, err)
		}
		if stage == nil {
			return nil, rErrors.Errorf(rErrors.Configuration, "%s pipeline: stage %d could not be constructed", env.Type, i)
		}
		next = stage
	}
	return next, nil
}

// Assemble builds the chain [outer, plugins from registry, backing].
func Assemble[T Object](env Env, r *Registry, outer, backing StageFactory[T]) (Stage[T], error) {
	plugins, err := PluginSequence[T](r, env.Type)
	if err != nil {
		return nil, err
	}
	factories := make([]StageFactory[T], 0, len(plugins)+2)
	factories = append(factories, outer)
	factories = append(factories, plugins...)
	factories = append(factories, backing)
	return Build(env, factories...)
}
