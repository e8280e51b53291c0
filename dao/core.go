package dao

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/events"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/session"
)

// rules holds what the core stage does differently per object type. Every
// hook is optional.
type rules[T pipeline.Object] struct {
	// seed runs once a new object has been persisted.
	seed func(s *session.Session, o T) error

	// load fills in the children of a retrieved object. The object is
	// already cached when it runs.
	load func(s *session.Session, o T) error

	// check runs after the WRITE check and before any write of an update.
	check func(s *session.Session, o T) error

	// sync persists what the row does not hold, such as child links.
	sync func(s *session.Session, o T) error

	// purge empties an object that is about to be deleted.
	purge func(s *session.Session, o T) error

	// remove replaces the backing-store delete.
	remove func(s *session.Session, o T) error

	// hidden objects are not returned by Retrieve.
	hidden func(o T) bool

	// linked runs after child has been linked to parent.
	linked func(s *session.Session, parent T, child content.Object) error

	// unlinking runs before child is unlinked from parent.
	unlinking func(s *session.Session, parent T, child content.Object) error
}

// coreStage is the outermost stage of every pipeline. It authorizes,
// mints identifiers, caches, reconciles metadata, runs the cascade rules and
// buffers domain events. The plugin stages and the backing store stage see
// only operations that passed its checks.
type coreStage[T pipeline.Object] struct {
	pipeline.Forward[T]
	r      *Repository
	typ    content.Type
	logger logrus.FieldLogger
	rules  rules[T]
}

// coreFactory returns the StageFactory of the core stage of T and keeps a
// pointer to the stage in out.
func coreFactory[T pipeline.Object](r *Repository, rl rules[T], out **coreStage[T]) pipeline.StageFactory[T] {
	return func(env pipeline.Env, next pipeline.Stage[T]) (pipeline.Stage[T], error) {
		c := &coreStage[T]{
			Forward: pipeline.Forward[T]{Next: next},
			r:       r,
			typ:     env.Type,
			logger:  env.Logger.WithFields(logrus.Fields{"component": "dao", "type": env.Type.String()}),
			rules:   rl,
		}
		*out = c
		return c, nil
	}
}

// Create instantiates, identifies and persists a new object. It does not
// authorize: the DAO methods creating objects check the right to do so on
// the container or require an administrator.
func (c *coreStage[T]) Create(s *session.Session) (T, error) {
	var zero T
	o, err := c.Next.Create(s)
	if err != nil {
		return zero, err
	}
	c.r.minter.Mint(o)
	if _, err := c.r.minter.MintExternal(s, o); err != nil {
		return zero, err
	}
	if _, err := c.persist(s, o); err != nil {
		return zero, err
	}
	if c.rules.seed != nil {
		if err := c.rules.seed(s, o); err != nil {
			return zero, err
		}
	}
	c.logger.WithField("id", o.ID()).Debug("Created")
	s.Emit(events.New(events.EventCreate, o))
	return o, nil
}

// Retrieve returns the cached instance if the session loaded it before.
func (c *coreStage[T]) Retrieve(s *session.Session, id uuid.UUID) (T, error) {
	var zero T
	if o, ok := session.Cached[T](s, c.typ, id); ok {
		return o, nil
	}
	o, err := c.Next.Retrieve(s, id)
	if err != nil || pipeline.IsZero(o) {
		return zero, err
	}
	if c.rules.hidden != nil && c.rules.hidden(o) {
		return zero, nil
	}
	if err := c.r.values.Load(s, o); err != nil {
		return zero, err
	}
	s.Cache(o)
	if c.rules.load != nil {
		if err := c.rules.load(s, o); err != nil {
			s.RemoveCached(c.typ, id)
			return zero, err
		}
	}
	return o, nil
}

func (c *coreStage[T]) Update(s *session.Session, o T) error {
	if err := c.r.gate.Authorize(s, o, content.ActionWrite); err != nil {
		return err
	}
	changed, err := c.persist(s, o)
	if err != nil {
		return err
	}
	s.Emit(events.New(events.EventModify, o))
	if changed {
		s.Emit(events.New(events.EventModifyMetadata, o))
	}
	return nil
}

// persist writes o through without authorizing. It reports whether the
// metadata changed.
func (c *coreStage[T]) persist(s *session.Session, o T) (bool, error) {
	if o.ID() == uuid.Nil {
		c.logger.WithField("id", c.r.minter.Mint(o)).Warn("Object reached update without an identifier")
	}
	if c.rules.check != nil {
		if err := c.rules.check(s, o); err != nil {
			return false, err
		}
	}
	changed, err := c.r.values.Sync(s, o)
	if err != nil {
		return false, err
	}
	if c.rules.sync != nil {
		if err := c.rules.sync(s, o); err != nil {
			return false, err
		}
	}
	o.Touch(time.Now().UTC())
	if err := c.Next.Update(s, o); err != nil {
		return false, err
	}
	s.Cache(o)
	return changed, nil
}

func (c *coreStage[T]) Delete(s *session.Session, id uuid.UUID) error {
	o, err := c.Retrieve(s, id)
	if err != nil {
		return err
	}
	if pipeline.IsZero(o) {
		return rErrors.Errorf(rErrors.NotFound, "%s %s", c.typ, id)
	}
	return c.delete(s, o)
}

// delete empties o, strips its policies, identifiers and metadata, detaches
// it from its parents and removes it.
func (c *coreStage[T]) delete(s *session.Session, o T) error {
	if err := c.r.gate.Authorize(s, o, content.ActionDelete); err != nil {
		return err
	}
	c.logger.WithField("id", o.ID()).Debug("Deleting")
	if c.rules.purge != nil {
		if err := c.rules.purge(s, o); err != nil {
			return err
		}
	}
	if err := c.r.cascade.DetachAll(s, o); err != nil {
		return err
	}
	if err := c.r.gate.RemoveAllPolicies(s, o); err != nil {
		return err
	}
	if err := c.r.minter.Release(s, o); err != nil {
		return err
	}
	if err := c.r.values.DeleteAll(s, o.ID()); err != nil {
		return err
	}
	var err error
	if c.rules.remove != nil {
		err = c.rules.remove(s, o)
	} else {
		err = c.Next.Delete(s, o.ID())
	}
	if err != nil {
		return err
	}
	s.RemoveCached(c.typ, o.ID())
	s.Emit(events.New(events.EventDelete, o))
	return nil
}

// Link attaches child to parent. Linking twice is a no-op.
func (c *coreStage[T]) Link(s *session.Session, parent T, child content.Object) error {
	if err := c.r.gate.Authorize(s, parent, content.ActionAdd); err != nil {
		return err
	}
	ok, err := c.Next.Linked(s, parent, child)
	if err != nil || ok {
		return err
	}
	if err := c.Next.Link(s, parent, child); err != nil {
		return err
	}
	if c.rules.linked != nil {
		if err := c.rules.linked(s, parent, child); err != nil {
			return err
		}
	}
	c.logger.WithFields(logrus.Fields{
		"parent":    parent.ID(),
		"child":     child.ID(),
		"principal": s.PrincipalID(),
	}).Debug("Linked")
	s.Emit(events.New(events.EventAdd, parent).WithObject(child))
	return nil
}

// Unlink detaches child from parent and deletes it if it has no parent
// left. Children with other parents survive.
func (c *coreStage[T]) Unlink(s *session.Session, parent T, child content.Object) error {
	return c.detach(s, parent, child, true)
}

func (c *coreStage[T]) detach(s *session.Session, parent T, child content.Object, collect bool) error {
	if err := c.r.gate.Authorize(s, parent, content.ActionRemove); err != nil {
		return err
	}
	ok, err := c.Next.Linked(s, parent, child)
	if err != nil || !ok {
		return err
	}
	if c.rules.unlinking != nil {
		if err := c.rules.unlinking(s, parent, child); err != nil {
			return err
		}
	}
	if err := c.Next.Unlink(s, parent, child); err != nil {
		return err
	}
	s.Emit(events.New(events.EventRemove, parent).WithObject(child))
	if !collect {
		return nil
	}
	_, err = c.r.cascade.Collect(s, child)
	return err
}
