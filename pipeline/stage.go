// Package pipeline implements the persistence pipeline: per object type, an
// immutable chain of stages ending in the backing-store stage. Each stage
// may intercept an operation or forward it to the next stage.
//
// Chains are assembled once by Build from stage factories: the outer core
// stage, the optional plugin stages found in the plugin registry and the
// backing stage. The next pointer of a stage is given to its factory and
// never changes afterwards.
package pipeline

import (
	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/session"
)

// Object constrains the types a pipeline can carry: pointers to content
// structs.
type Object interface {
	comparable
	content.Object
}

// Stage is one link of a pipeline for objects of type T.
//
// Retrieve returns the zero T when the object does not exist. Link, Unlink
// and Linked take the parent as T and the child as any object type.
type Stage[T Object] interface {
	Create(s *session.Session) (T, error)
	Retrieve(s *session.Session, id uuid.UUID) (T, error)
	Update(s *session.Session, o T) error
	Delete(s *session.Session, id uuid.UUID) error
	Link(s *session.Session, parent T, child content.Object) error
	Unlink(s *session.Session, parent T, child content.Object) error
	Linked(s *session.Session, parent T, child content.Object) (bool, error)
}

// Forward passes every operation to Next. Stages embed it and override the
// operations they intercept.
type Forward[T Object] struct {
	Next Stage[T]
}

func (f Forward[T]) Create(s *session.Session) (T, error) {
	return f.Next.Create(s)
}

func (f Forward[T]) Retrieve(s *session.Session, id uuid.UUID) (T, error) {
	return f.Next.Retrieve(s, id)
}

func (f Forward[T]) Update(s *session.Session, o T) error {
	return f.Next.Update(s, o)
}

func (f Forward[T]) Delete(s *session.Session, id uuid.UUID) error {
	return f.Next.Delete(s, id)
}

func (f Forward[T]) Link(s *session.Session, parent T, child content.Object) error {
	return f.Next.Link(s, parent, child)
}

func (f Forward[T]) Unlink(s *session.Session, parent T, child content.Object) error {
	return f.Next.Unlink(s, parent, child)
}

func (f Forward[T]) Linked(s *session.Session, parent T, child content.Object) (bool, error) {
	return f.Next.Linked(s, parent, child)
}

// IsZero reports whether o is the zero T, i.e. an absent result.
func IsZero[T Object](o T) bool {
	var zero T
	return o == zero
}
