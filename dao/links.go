package dao

import (
	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

func storageFailure(err error) error {
	return rErrors.NewWithError(rErrors.StorageFailure, err)
}

// linkDiff compares the children parent should have in rel with the stored
// links. Children must have been created before they are added.
func (r *Repository) linkDiff(s *session.Session, parent content.Object, rel storage.Relation, want []uuid.UUID) (added, removed []uuid.UUID, err error) {
	have, err := r.store.Children(s.Context(), rel, parent.ID())
	if err != nil {
		return nil, nil, storageFailure(err)
	}
	stored := make(map[uuid.UUID]bool, len(have))
	for _, id := range have {
		stored[id] = true
	}
	wanted := make(map[uuid.UUID]bool, len(want))
	for _, id := range want {
		if id == uuid.Nil {
			return nil, nil, rErrors.Errorf(rErrors.InvalidOperation, "%s %s holds a child that was never created", parent.Type(), parent.ID())
		}
		if wanted[id] {
			continue
		}
		wanted[id] = true
		if !stored[id] {
			added = append(added, id)
		}
	}
	for _, id := range have {
		if !wanted[id] {
			removed = append(removed, id)
		}
	}
	return added, removed, nil
}

// authorizeDiff checks ADD and REMOVE on parent for a pending link change.
func (r *Repository) authorizeDiff(s *session.Session, parent content.Object, added, removed []uuid.UUID) error {
	if len(added) > 0 {
		if err := r.gate.Authorize(s, parent, content.ActionAdd); err != nil {
			return err
		}
	}
	if len(removed) > 0 {
		if err := r.gate.Authorize(s, parent, content.ActionRemove); err != nil {
			return err
		}
	}
	return nil
}

// forget drops child from the in-memory lists of the cached parents it is
// about to lose.
func (r *Repository) forget(s *session.Session, child content.Object) error {
	parents, err := r.cascade.Parents(s, child)
	if err != nil {
		return err
	}
	for _, id := range parents {
		switch child := child.(type) {
		case *content.Bundle:
			if item, ok := session.Cached[*content.Item](s, content.TypeItem, id); ok {
				item.RemoveBundle(child)
			}
		case *content.Bitstream:
			if b, ok := session.Cached[*content.Bundle](s, content.TypeBundle, id); ok {
				b.RemoveBitstream(child)
			}
		}
	}
	return nil
}
