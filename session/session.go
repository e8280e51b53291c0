// Package session implements the request-scoped context of the repository
// core: the current principal, the identity map of loaded objects, the
// buffered domain events and the transient grants made while cascading.
//
// A Session is created per request and closed at the end of it. It is not
// safe for concurrent use.
package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/events"
)

type cacheKey struct {
	t  content.Type
	id uuid.UUID
}

// Session holds the state of one unit of work.
type Session struct {
	ctx        context.Context
	principal  *content.Principal
	cache      map[cacheKey]content.Object
	events     []*events.Event
	grants     []content.Policy
	ignoreAuth int
	closed     bool
}

// New returns a session acting as principal. A nil principal is anonymous.
func New(ctx context.Context, principal *content.Principal) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Session{
		ctx:       ctx,
		principal: principal,
		cache:     map[cacheKey]content.Object{},
	}
}

// Context is used for every backing-store call made on behalf of the
// session.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Principal() *content.Principal {
	return s.principal
}

// PrincipalID returns uuid.Nil for the anonymous principal.
func (s *Session) PrincipalID() uuid.UUID {
	if s.principal == nil {
		return uuid.Nil
	}
	return s.principal.ID
}

func (s *Session) SetPrincipal(p *content.Principal) {
	s.principal = p
}

// FromCache returns the instance loaded earlier in this session, or nil.
func (s *Session) FromCache(t content.Type, id uuid.UUID) content.Object {
	if s.closed {
		return nil
	}
	return s.cache[cacheKey{t, id}]
}

// Cache records o as the instance for its type and id. Later retrievals in
// the session return the same pointer.
func (s *Session) Cache(o content.Object) {
	if s.closed || o.ID() == uuid.Nil {
		return
	}
	s.cache[cacheKey{o.Type(), o.ID()}] = o
}

// RemoveCached evicts an entry so the next retrieval reloads it.
func (s *Session) RemoveCached(t content.Type, id uuid.UUID) {
	delete(s.cache, cacheKey{t, id})
}

// CacheSize is the number of loaded objects.
func (s *Session) CacheSize() int {
	return len(s.cache)
}

// Emit buffers a domain event until the session commits.
func (s *Session) Emit(e *events.Event) {
	if s.closed {
		return
	}
	e.Principal = s.PrincipalID()
	s.events = append(s.events, e)
}

// Events returns the buffered events in emission order.
func (s *Session) Events() []*events.Event {
	return s.events
}

// DropEvents discards the buffered events.
func (s *Session) DropEvents() {
	s.events = nil
}

// RecordGrant logs a policy granted on the fly so it can be revoked if the
// session aborts.
func (s *Session) RecordGrant(p content.Policy) {
	s.grants = append(s.grants, p)
}

// Grants returns the transient grants made in this session.
func (s *Session) Grants() []content.Policy {
	return s.grants
}

// TurnOffAuthorization disables authorization checks until the matching
// RestoreAuthorization. Calls nest.
func (s *Session) TurnOffAuthorization() {
	s.ignoreAuth++
}

func (s *Session) RestoreAuthorization() {
	if s.ignoreAuth > 0 {
		s.ignoreAuth--
	}
}

// IgnoreAuthorization reports whether checks are currently disabled.
func (s *Session) IgnoreAuthorization() bool {
	return s.ignoreAuth > 0
}

// Close clears every piece of state held by the session. A closed session
// caches nothing.
func (s *Session) Close() {
	s.cache = map[cacheKey]content.Object{}
	s.principal = nil
	s.events = nil
	s.grants = nil
	s.ignoreAuth = 0
	s.closed = true
}

func (s *Session) Closed() bool {
	return s.closed
}

// Cached is the typed form of FromCache.
func Cached[T content.Object](s *Session, t content.Type, id uuid.UUID) (T, bool) {
	var zero T
	o := s.FromCache(t, id)
	if o == nil {
		return zero, false
	}
	typed, ok := o.(T)
	return typed, ok
}
