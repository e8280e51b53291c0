package pipeline

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// StoreStage is the backing-store stage. Objects are encoded as JSON rows
// in the table of their type; links go to the relation between the parent
// and child types. Every store error is wrapped as StorageFailure.
//
// Create only instantiates: the object is persisted by the first Update.
type StoreStage[T Object] struct {
	store storage.Store
	table string
	newFn func() T
}

var _ Stage[*content.Item] = (*StoreStage[*content.Item])(nil)

// StoreFactory returns the backing StageFactory for T. newFn returns an
// empty instance.
func StoreFactory[T Object](newFn func() T) StageFactory[T] {
	return func(env Env, next Stage[T]) (Stage[T], error) {
		if next != nil {
			return nil, errors.New("the backing stage must be the last one")
		}
		if env.Store == nil {
			return nil, errors.New("no backing store")
		}
		return &StoreStage[T]{
			store: env.Store,
			table: storage.TableOf(env.Type),
			newFn: newFn,
		}, nil
	}
}

func (st *StoreStage[T]) Create(_ *session.Session) (T, error) {
	return st.newFn(), nil
}

func (st *StoreStage[T]) Retrieve(s *session.Session, id uuid.UUID) (T, error) {
	var zero T
	row, err := st.store.Get(s.Context(), st.table, id)
	if err != nil {
		return zero, rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	if row == nil {
		return zero, nil
	}
	o := st.newFn()
	if err := json.Unmarshal(row, o); err != nil {
		return zero, rErrors.NewWithError(rErrors.StorageFailure, errors.Wrapf(err, "%s %s", st.table, id))
	}
	return o, nil
}

func (st *StoreStage[T]) Update(s *session.Session, o T) error {
	row, err := json.Marshal(o)
	if err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, errors.Wrapf(err, "%s %s", st.table, o.ID()))
	}
	return rErrors.NewWithError(rErrors.StorageFailure, st.store.Put(s.Context(), st.table, o.ID(), row))
}

func (st *StoreStage[T]) Delete(s *session.Session, id uuid.UUID) error {
	return rErrors.NewWithError(rErrors.StorageFailure, st.store.Delete(s.Context(), st.table, id))
}

func (st *StoreStage[T]) relation(parent T, child content.Object) (storage.Relation, error) {
	rel, ok := storage.RelationBetween(parent.Type(), child.Type())
	if !ok {
		return "", rErrors.Errorf(rErrors.InvalidOperation, "a %s cannot contain a %s", parent.Type(), child.Type())
	}
	return rel, nil
}

func (st *StoreStage[T]) Link(s *session.Session, parent T, child content.Object) error {
	rel, err := st.relation(parent, child)
	if err != nil {
		return err
	}
	return rErrors.NewWithError(rErrors.StorageFailure, st.store.Link(s.Context(), rel, parent.ID(), child.ID()))
}

func (st *StoreStage[T]) Unlink(s *session.Session, parent T, child content.Object) error {
	rel, err := st.relation(parent, child)
	if err != nil {
		return err
	}
	return rErrors.NewWithError(rErrors.StorageFailure, st.store.Unlink(s.Context(), rel, parent.ID(), child.ID()))
}

func (st *StoreStage[T]) Linked(s *session.Session, parent T, child content.Object) (bool, error) {
	rel, err := st.relation(parent, child)
	if err != nil {
		return false, err
	}
	ok, err := st.store.Linked(s.Context(), rel, parent.ID(), child.ID())
	return ok, rErrors.NewWithError(rErrors.StorageFailure, err)
}
