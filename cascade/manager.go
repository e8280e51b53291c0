// Package cascade maintains the reference-counted ownership of the object
// graph. An object left with no parent in its anchoring relation after an
// unlink is an orphan: the acting principal is granted DELETE and REMOVE on
// it and it is deleted.
//
// Authorization of the unlink itself, and any pointer clean-up that must
// happen before the orphan check, are the caller's business.
package cascade

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// Granter gives the session principal transient rights on an object.
type Granter interface {
	GrantTransient(s *session.Session, o content.Object, actions ...content.Action) error
}

// Deleter deletes an object through the pipeline of its type.
type Deleter interface {
	DeleteObject(s *session.Session, o content.Object) error
}

// Manager runs orphan checks against the backing store.
type Manager struct {
	logger  logrus.FieldLogger
	store   storage.Store
	granter Granter
	deleter Deleter
}

func New(logger logrus.FieldLogger, store storage.Store, granter Granter, deleter Deleter) *Manager {
	return &Manager{
		logger:  logger.WithField("component", "cascade"),
		store:   store,
		granter: granter,
		deleter: deleter,
	}
}

// ParentCount returns the number of parents child has left in its anchoring
// relation. Top-level communities have no anchoring relation besides the
// community one, so they count their parent communities too.
func (m *Manager) ParentCount(s *session.Session, child content.Object) (int, error) {
	rel, _, ok := storage.ParentOf(child.Type())
	if !ok {
		return 0, rErrors.Errorf(rErrors.InvalidOperation, "%s has no parent relation", child.Type())
	}
	n, err := storage.ParentCount(s.Context(), m.store, rel, child.ID())
	return n, rErrors.NewWithError(rErrors.StorageFailure, err)
}

// Parents returns the ids of the parents of child in link order.
func (m *Manager) Parents(s *session.Session, child content.Object) ([]uuid.UUID, error) {
	rel, _, ok := storage.ParentOf(child.Type())
	if !ok {
		return nil, nil
	}
	ids, err := m.store.Parents(s.Context(), rel, child.ID())
	return ids, rErrors.NewWithError(rErrors.StorageFailure, err)
}

// Children returns the ids of the children of parent of the given type in
// link order.
func (m *Manager) Children(s *session.Session, parent content.Object, childType content.Type) ([]uuid.UUID, error) {
	rel, ok := storage.RelationBetween(parent.Type(), childType)
	if !ok {
		return nil, nil
	}
	ids, err := m.store.Children(s.Context(), rel, parent.ID())
	return ids, rErrors.NewWithError(rErrors.StorageFailure, err)
}

// DetachAll removes child from every parent of its anchoring relation.
// It does not authorize: an item whose owning collection is deleted loses its
// mappings with it.
func (m *Manager) DetachAll(s *session.Session, child content.Object) error {
	rel, _, ok := storage.ParentOf(child.Type())
	if !ok {
		return nil
	}
	return rErrors.NewWithError(rErrors.StorageFailure, storage.UnlinkAll(s.Context(), m.store, rel, child.ID()))
}

// Collect deletes child if it has no parent left. It reports whether the
// child was deleted.
func (m *Manager) Collect(s *session.Session, child content.Object) (bool, error) {
	n, err := m.ParentCount(s, child)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	logger := m.logger.WithFields(logrus.Fields{"type": child.Type().String(), "id": child.ID()})
	logger.Debug("Orphan found, deleting")

	// The right to remove the child came from the link that is now gone.
	if err := m.granter.GrantTransient(s, child, content.ActionDelete, content.ActionRemove); err != nil {
		return false, err
	}
	if err := m.deleter.DeleteObject(s, child); err != nil {
		return false, err
	}
	return true, nil
}
