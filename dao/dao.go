// Package dao is the typed surface of the repository core. Each object type
// has a DAO over an immutable pipeline whose outermost stage authorizes,
// caches, mints identifiers, reconciles metadata and applies the cascade
// rules; plugin stages and the backing store follow.
//
// Every operation takes the session of the calling request. Nothing here is
// safe for concurrent use of the same session.
package dao

import (
	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/session"
)

// DAO is the operation set shared by the object types.
type DAO[T pipeline.Object] struct {
	r     *Repository
	chain pipeline.Stage[T]
	core  *coreStage[T]
}

// Create makes a free-standing object. Only administrators may do this; the
// usual way in is through the container, e.g. CollectionDAO.CreateIn.
func (d *DAO[T]) Create(s *session.Session) (T, error) {
	var zero T
	if err := d.r.gate.AuthorizeAdmin(s); err != nil {
		return zero, err
	}
	return d.chain.Create(s)
}

// Retrieve returns the object or nil when it does not exist.
func (d *DAO[T]) Retrieve(s *session.Session, id uuid.UUID) (T, error) {
	return d.chain.Retrieve(s, id)
}

// Update writes o through after checking WRITE on it.
func (d *DAO[T]) Update(s *session.Session, o T) error {
	return d.chain.Update(s, o)
}

// Delete checks DELETE on the object and deletes it with its orphaned
// descendants.
func (d *DAO[T]) Delete(s *session.Session, id uuid.UUID) error {
	return d.chain.Delete(s, id)
}

// Link checks ADD on parent and links child to it.
func (d *DAO[T]) Link(s *session.Session, parent T, child content.Object) error {
	return d.chain.Link(s, parent, child)
}

// Unlink checks REMOVE on parent, unlinks child and deletes it if it was
// its last parent.
func (d *DAO[T]) Unlink(s *session.Session, parent T, child content.Object) error {
	return d.chain.Unlink(s, parent, child)
}

// Remove is Unlink without the orphan check: child survives even when it
// has no parent left.
func (d *DAO[T]) Remove(s *session.Session, parent T, child content.Object) error {
	return d.core.detach(s, parent, child, false)
}

func (d *DAO[T]) Linked(s *session.Session, parent T, child content.Object) (bool, error) {
	return d.chain.Linked(s, parent, child)
}

// retrieveAll loads the objects with the given ids, skipping missing ones.
func (d *DAO[T]) retrieveAll(s *session.Session, ids []uuid.UUID) ([]T, error) {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		o, err := d.chain.Retrieve(s, id)
		if err != nil {
			return nil, err
		}
		if pipeline.IsZero(o) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// children loads the children of parent held by d's type.
func (d *DAO[T]) children(s *session.Session, parent content.Object) ([]T, error) {
	ids, err := d.r.cascade.Children(s, parent, d.core.typ)
	if err != nil {
		return nil, err
	}
	return d.retrieveAll(s, ids)
}

// parents loads the parents of child held by d's type.
func (d *DAO[T]) parents(s *session.Session, child content.Object) ([]T, error) {
	ids, err := d.r.cascade.Parents(s, child)
	if err != nil {
		return nil, err
	}
	return d.retrieveAll(s, ids)
}
