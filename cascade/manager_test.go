package cascade

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
	"github.com/JiscSD/rdss-repository-core/storage/memstore"
)

type granterMock struct {
	granted map[uuid.UUID][]content.Action
}

func (g *granterMock) GrantTransient(_ *session.Session, o content.Object, actions ...content.Action) error {
	g.granted[o.ID()] = append(g.granted[o.ID()], actions...)
	return nil
}

type deleterMock struct {
	deleted []uuid.UUID
}

func (d *deleterMock) DeleteObject(_ *session.Session, o content.Object) error {
	d.deleted = append(d.deleted, o.ID())
	return nil
}

type unanchored struct {
	content.ObjectBase
}

func (unanchored) Type() content.Type { return content.Type(99) }

func newManager() (*Manager, *memstore.Store, *granterMock, *deleterMock) {
	logger, _ := test.NewNullLogger()
	store := memstore.New()
	g := &granterMock{granted: map[uuid.UUID][]content.Action{}}
	d := &deleterMock{}
	return New(logger, store, g, d), store, g, d
}

func bitstream() *content.Bitstream {
	bs := &content.Bitstream{}
	bs.SetID(uuid.New())
	return bs
}

func TestManager_Collect(t *testing.T) {
	m, store, g, d := newManager()
	ctx := context.Background()
	s := session.New(ctx, nil)
	b1, b2 := uuid.New(), uuid.New()
	bs := bitstream()

	require.NoError(t, store.Link(ctx, storage.BundleBitstream, b1, bs.ID()))
	require.NoError(t, store.Link(ctx, storage.BundleBitstream, b2, bs.ID()))

	n, err := m.ParentCount(s, bs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.Unlink(ctx, storage.BundleBitstream, b1, bs.ID()))
	deleted, err := m.Collect(s, bs)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Empty(t, d.deleted)
	assert.Empty(t, g.granted)

	require.NoError(t, store.Unlink(ctx, storage.BundleBitstream, b2, bs.ID()))
	deleted, err = m.Collect(s, bs)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []uuid.UUID{bs.ID()}, d.deleted)
	assert.Equal(t, []content.Action{content.ActionDelete, content.ActionRemove}, g.granted[bs.ID()])
}

func TestManager_ParentsAndChildren(t *testing.T) {
	m, store, _, _ := newManager()
	ctx := context.Background()
	s := session.New(ctx, nil)
	item := &content.Item{}
	item.SetID(uuid.New())
	c1, c2 := uuid.New(), uuid.New()
	require.NoError(t, store.Link(ctx, storage.CollectionItem, c2, item.ID()))
	require.NoError(t, store.Link(ctx, storage.CollectionItem, c1, item.ID()))

	parents, err := m.Parents(s, item)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{c2, c1}, parents)

	b1, b2 := uuid.New(), uuid.New()
	require.NoError(t, store.Link(ctx, storage.ItemBundle, item.ID(), b1))
	require.NoError(t, store.Link(ctx, storage.ItemBundle, item.ID(), b2))
	children, err := m.Children(s, item, content.TypeBundle)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b1, b2}, children)

	children, err = m.Children(s, item, content.TypeCommunity)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestManager_DetachAll(t *testing.T) {
	m, store, _, d := newManager()
	ctx := context.Background()
	s := session.New(ctx, nil)
	item := &content.Item{}
	item.SetID(uuid.New())
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Link(ctx, storage.CollectionItem, uuid.New(), item.ID()))
	}

	require.NoError(t, m.DetachAll(s, item))

	n, err := m.ParentCount(s, item)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, d.deleted, "detaching does not collect")
}

func TestManager_Unanchored(t *testing.T) {
	m, _, _, d := newManager()
	s := session.New(context.Background(), nil)
	o := &unanchored{}
	o.SetID(uuid.New())

	_, err := m.ParentCount(s, o)
	assert.True(t, rErrors.Is(err, rErrors.InvalidOperation))

	_, err = m.Collect(s, o)
	assert.True(t, rErrors.Is(err, rErrors.InvalidOperation))
	assert.Empty(t, d.deleted)

	assert.NoError(t, m.DetachAll(s, o))
}
