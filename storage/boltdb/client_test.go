package boltdb

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscSD/rdss-repository-core/storage"
)

func tempClient(t *testing.T) (*Client, func()) {
	dir, err := ioutil.TempDir("", "boltdb")
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	c, err := New(logger, filepath.Join(dir, "repository.db"))
	require.NoError(t, err)

	return c, func() {
		c.Close()
		os.RemoveAll(dir)
	}
}

func TestClient_Rows(t *testing.T) {
	c, cleanup := tempClient(t)
	defer cleanup()
	ctx := context.Background()
	id := uuid.New()

	row, err := c.Get(ctx, storage.TableCommunity, id)
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, c.Put(ctx, storage.TableCommunity, id, []byte("row")))
	row, err = c.Get(ctx, storage.TableCommunity, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("row"), row)

	var ids []uuid.UUID
	require.NoError(t, c.Scan(ctx, storage.TableCommunity, func(id uuid.UUID, _ []byte) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Equal(t, []uuid.UUID{id}, ids)

	require.NoError(t, c.Delete(ctx, storage.TableCommunity, id))
	row, err = c.Get(ctx, storage.TableCommunity, id)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestClient_Links(t *testing.T) {
	c, cleanup := tempClient(t)
	defer cleanup()
	ctx := context.Background()
	bundle := uuid.New()
	bs1, bs2 := uuid.New(), uuid.New()

	require.NoError(t, c.Link(ctx, storage.BundleBitstream, bundle, bs2))
	require.NoError(t, c.Link(ctx, storage.BundleBitstream, bundle, bs1))
	require.NoError(t, c.Link(ctx, storage.BundleBitstream, bundle, bs2))

	children, err := c.Children(ctx, storage.BundleBitstream, bundle)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bs2, bs1}, children)

	parents, err := c.Parents(ctx, storage.BundleBitstream, bs1)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bundle}, parents)

	require.NoError(t, c.Unlink(ctx, storage.BundleBitstream, bundle, bs1))
	ok, err := c.Linked(ctx, storage.BundleBitstream, bundle, bs1)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := storage.ParentCount(ctx, c, storage.BundleBitstream, bs1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClient_Next(t *testing.T) {
	c, cleanup := tempClient(t)
	defer cleanup()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Next(context.Background(), "handle")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
