// Package audit is a pipeline plugin that logs every mutating operation
// with the acting principal. Enable it with the "audit" feature flag and
// list it in the plugin sequence of the types to audit.
//
// Options: "reads" (bool) also logs retrievals.
package audit

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/session"
)

// Name is the plugin name used in configuration.
const Name = "audit"

func init() {
	pipeline.Register(Name, content.TypeCommunity, pipeline.StageFactory[*content.Community](New[*content.Community]))
	pipeline.Register(Name, content.TypeCollection, pipeline.StageFactory[*content.Collection](New[*content.Collection]))
	pipeline.Register(Name, content.TypeItem, pipeline.StageFactory[*content.Item](New[*content.Item]))
	pipeline.Register(Name, content.TypeBundle, pipeline.StageFactory[*content.Bundle](New[*content.Bundle]))
	pipeline.Register(Name, content.TypeBitstream, pipeline.StageFactory[*content.Bitstream](New[*content.Bitstream]))
}

// Stage logs the operations passing through it.
type Stage[T pipeline.Object] struct {
	pipeline.Forward[T]
	logger logrus.FieldLogger
	reads  bool
}

// New is the StageFactory of the plugin.
func New[T pipeline.Object](env pipeline.Env, next pipeline.Stage[T]) (pipeline.Stage[T], error) {
	return &Stage[T]{
		Forward: pipeline.Forward[T]{Next: next},
		logger:  env.Logger.WithFields(logrus.Fields{"component": Name, "type": env.Type.String()}),
		reads:   cast.ToBool(env.Option(Name, "reads")),
	}, nil
}

func (a *Stage[T]) log(s *session.Session, op string, id uuid.UUID, err error) {
	logger := a.logger.WithFields(logrus.Fields{
		"op":        op,
		"id":        id,
		"principal": s.PrincipalID(),
	})
	if err != nil {
		logger.WithField("error", err).Warn("Operation failed")
		return
	}
	logger.Info("Operation")
}

func (a *Stage[T]) Create(s *session.Session) (T, error) {
	o, err := a.Next.Create(s)
	var id uuid.UUID
	if !pipeline.IsZero(o) {
		id = o.ID()
	}
	a.log(s, "create", id, err)
	return o, err
}

func (a *Stage[T]) Retrieve(s *session.Session, id uuid.UUID) (T, error) {
	o, err := a.Next.Retrieve(s, id)
	if a.reads {
		a.log(s, "retrieve", id, err)
	}
	return o, err
}

func (a *Stage[T]) Update(s *session.Session, o T) error {
	err := a.Next.Update(s, o)
	a.log(s, "update", o.ID(), err)
	return err
}

func (a *Stage[T]) Delete(s *session.Session, id uuid.UUID) error {
	err := a.Next.Delete(s, id)
	a.log(s, "delete", id, err)
	return err
}

func (a *Stage[T]) Link(s *session.Session, parent T, child content.Object) error {
	err := a.Next.Link(s, parent, child)
	a.log(s, "link:"+child.Type().String()+":"+child.ID().String(), parent.ID(), err)
	return err
}

func (a *Stage[T]) Unlink(s *session.Session, parent T, child content.Object) error {
	err := a.Next.Unlink(s, parent, child)
	a.log(s, "unlink:"+child.Type().String()+":"+child.ID().String(), parent.ID(), err)
	return err
}
