package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/cast"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
)

type pluginKey struct {
	name string
	t    content.Type
}

// Registry maps plugin names to stage factories per object type, and holds
// the per-type plugin sequences and the feature flags read from site
// configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[pluginKey]interface{}
	sequences map[content.Type][]string
	enabled   map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		factories: map[pluginKey]interface{}{},
		sequences: map[content.Type][]string{},
		enabled:   map[string]bool{},
	}
}

// DefaultRegistry is the registry plugins add themselves to from init.
var DefaultRegistry = NewRegistry()

// Register adds a factory to DefaultRegistry. factory must be a
// StageFactory of the pointer type matching t.
func Register(name string, t content.Type, factory interface{}) {
	DefaultRegistry.Register(name, t, factory)
}

// Register panics when the same name is registered twice for a type.
func (r *Registry) Register(name string, t content.Type, factory interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pluginKey{name, t}
	if _, ok := r.factories[key]; ok {
		panic(fmt.Sprintf("pipeline: plugin %s registered twice for %s", name, t))
	}
	r.factories[key] = factory
}

// Plugins lists the registered plugin names.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var names []string
	for key := range r.factories {
		if !seen[key.name] {
			seen[key.name] = true
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names
}

// SetSequence sets the ordered plugin names for a type, outermost first.
func (r *Registry) SetSequence(t content.Type, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences[t] = append([]string(nil), names...)
}

// Enable turns a plugin feature flag on or off.
func (r *Registry) Enable(name string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[name] = on
}

// Enabled reports a feature flag.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// Configure reads feature flags and sequences from loosely typed
// configuration values. flags maps plugin names to anything cast can turn
// into a bool; sequences maps type names to a list of plugin names.
func (r *Registry) Configure(flags, sequences map[string]interface{}) error {
	for name, v := range flags {
		on, err := cast.ToBoolE(v)
		if err != nil {
			return rErrors.Errorf(rErrors.Configuration, "plugin flag %s: %v", name, err)
		}
		r.Enable(name, on)
	}
	for typeName, v := range sequences {
		t, ok := content.ParseType(typeName)
		if !ok {
			return rErrors.Errorf(rErrors.Configuration, "plugin sequence for unknown type %q", typeName)
		}
		names, err := cast.ToStringSliceE(v)
		if err != nil {
			return rErrors.Errorf(rErrors.Configuration, "plugin sequence %s: %v", typeName, err)
		}
		r.SetSequence(t, names...)
	}
	return nil
}

// PluginSequence returns the factories of the enabled plugins configured
// for t, outermost first. A configured name that is not registered for t,
// or whose factory is not a StageFactory[T], is a Configuration error.
func PluginSequence[T Object](r *Registry, t content.Type) ([]StageFactory[T], error) {
	if r == nil {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []StageFactory[T]
	for _, name := range r.sequences[t] {
		if !r.enabled[name] {
			continue
		}
		f, ok := r.factories[pluginKey{name, t}]
		if !ok {
			return nil, rErrors.Errorf(rErrors.Configuration, "plugin %s is not registered for %s", name, t)
		}
		factory, ok := f.(StageFactory[T])
		if !ok {
			return nil, rErrors.Errorf(rErrors.Configuration, "plugin %s has a factory of type %T for %s", name, f, t)
		}
		out = append(out, factory)
	}
	return out, nil
}
