package session

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/events"
)

func TestSession_CacheIdentity(t *testing.T) {
	s := New(context.Background(), nil)
	item := &content.Item{}
	item.SetID(uuid.New())

	assert.Nil(t, s.FromCache(content.TypeItem, item.ID()))
	s.Cache(item)

	got, ok := Cached[*content.Item](s, content.TypeItem, item.ID())
	require.True(t, ok)
	assert.Same(t, item, got)

	_, ok = Cached[*content.Bundle](s, content.TypeItem, item.ID())
	assert.False(t, ok)
	assert.Nil(t, s.FromCache(content.TypeBundle, item.ID()))

	s.RemoveCached(content.TypeItem, item.ID())
	assert.Nil(t, s.FromCache(content.TypeItem, item.ID()))
}

func TestSession_IgnoresObjectsWithoutID(t *testing.T) {
	s := New(nil, nil)
	s.Cache(&content.Item{})
	assert.Zero(t, s.CacheSize())
	assert.NotNil(t, s.Context())
}

func TestSession_Authorization(t *testing.T) {
	s := New(context.Background(), nil)
	assert.False(t, s.IgnoreAuthorization())

	s.TurnOffAuthorization()
	s.TurnOffAuthorization()
	s.RestoreAuthorization()
	assert.True(t, s.IgnoreAuthorization())

	s.RestoreAuthorization()
	s.RestoreAuthorization()
	assert.False(t, s.IgnoreAuthorization())
}

func TestSession_Close(t *testing.T) {
	p := &content.Principal{ID: uuid.New(), Email: "kat@example.org"}
	s := New(context.Background(), p)
	item := &content.Item{}
	item.SetID(uuid.New())
	s.Cache(item)
	s.Emit(events.New(events.EventCreate, item))
	s.RecordGrant(content.Policy{ID: uuid.New()})
	s.TurnOffAuthorization()

	require.Len(t, s.Events(), 1)
	assert.Equal(t, p.ID, s.Events()[0].Principal)

	s.Close()

	assert.True(t, s.Closed())
	assert.Nil(t, s.Principal())
	assert.Equal(t, uuid.Nil, s.PrincipalID())
	assert.Empty(t, s.Events())
	assert.Empty(t, s.Grants())
	assert.False(t, s.IgnoreAuthorization())
	assert.Zero(t, s.CacheSize())

	s.Cache(item)
	assert.Nil(t, s.FromCache(content.TypeItem, item.ID()))
}
