// Package boltdb implements storage.Store on an embedded Bolt file.
//
// Rows live in one bucket per table. Each relation has a forward bucket
// keyed parent||child and a reverse bucket keyed child||parent; both hold
// the link position so children come back in link order.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/storage"
)

var (
	defaultTimeout = 1 * time.Second

	countersBucket = []byte("counters")
)

const (
	// fileMode sets permissions so owner can read and write
	fileMode = 0600
)

// Client is the storage interface for the Bolt database.
type Client struct {
	logger logrus.FieldLogger
	db     *bolt.DB
	Path   string
}

var _ storage.Store = (*Client)(nil)

// New opens or creates the database at path.
func New(logger logrus.FieldLogger, path string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	logger.WithField("path", path).Debug("Bolt database opened")
	return &Client{
		logger: logger,
		db:     db,
		Path:   path,
	}, nil
}

func rowBucket(table string) []byte             { return []byte("rows/" + table) }
func linkBucket(rel storage.Relation) []byte    { return []byte("links/" + string(rel)) }
func reverseBucket(rel storage.Relation) []byte { return []byte("rlinks/" + string(rel)) }

func pair(a, b uuid.UUID) []byte {
	key := make([]byte, 32)
	copy(key, a[:])
	copy(key[16:], b[:])
	return key
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (c *Client) Get(_ context.Context, table string, id uuid.UUID) ([]byte, error) {
	var row []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowBucket(table))
		if b == nil {
			return nil
		}
		if v := b.Get(id[:]); v != nil {
			row = make([]byte, len(v))
			copy(row, v)
		}
		return nil
	})
	return row, err
}

func (c *Client) Put(_ context.Context, table string, id uuid.UUID, row []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(rowBucket(table))
		if err != nil {
			return err
		}
		return b.Put(id[:], row)
	})
}

func (c *Client) Delete(_ context.Context, table string, id uuid.UUID) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowBucket(table))
		if b == nil {
			return nil
		}
		return b.Delete(id[:])
	})
}

func (c *Client) Scan(_ context.Context, table string, fn func(id uuid.UUID, row []byte) error) error {
	type kv struct {
		id  uuid.UUID
		row []byte
	}
	var rows []kv
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rowBucket(table))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			id, err := uuid.FromBytes(k)
			if err != nil {
				return err
			}
			row := make([]byte, len(v))
			copy(row, v)
			rows = append(rows, kv{id, row})
			return nil
		})
	})
	if err != nil {
		return err
	}
	// The callback may write, so it runs outside the read transaction.
	for _, r := range rows {
		if err := fn(r.id, r.row); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Link(_ context.Context, rel storage.Relation, parent, child uuid.UUID) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		fwd, err := tx.CreateBucketIfNotExists(linkBucket(rel))
		if err != nil {
			return err
		}
		rev, err := tx.CreateBucketIfNotExists(reverseBucket(rel))
		if err != nil {
			return err
		}
		if fwd.Get(pair(parent, child)) != nil {
			return nil
		}
		pos, err := fwd.NextSequence()
		if err != nil {
			return err
		}
		if err := fwd.Put(pair(parent, child), itob(pos)); err != nil {
			return err
		}
		return rev.Put(pair(child, parent), itob(pos))
	})
}

func (c *Client) Unlink(_ context.Context, rel storage.Relation, parent, child uuid.UUID) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if fwd := tx.Bucket(linkBucket(rel)); fwd != nil {
			if err := fwd.Delete(pair(parent, child)); err != nil {
				return err
			}
		}
		if rev := tx.Bucket(reverseBucket(rel)); rev != nil {
			return rev.Delete(pair(child, parent))
		}
		return nil
	})
}

func (c *Client) Linked(_ context.Context, rel storage.Relation, parent, child uuid.UUID) (bool, error) {
	var ok bool
	err := c.db.View(func(tx *bolt.Tx) error {
		if fwd := tx.Bucket(linkBucket(rel)); fwd != nil {
			ok = fwd.Get(pair(parent, child)) != nil
		}
		return nil
	})
	return ok, err
}

func (c *Client) Children(_ context.Context, rel storage.Relation, parent uuid.UUID) ([]uuid.UUID, error) {
	return c.prefixScan(linkBucket(rel), parent)
}

func (c *Client) Parents(_ context.Context, rel storage.Relation, child uuid.UUID) ([]uuid.UUID, error) {
	return c.prefixScan(reverseBucket(rel), child)
}

// prefixScan returns the second half of every key starting with id, ordered
// by link position.
func (c *Client) prefixScan(bucket []byte, id uuid.UUID) ([]uuid.UUID, error) {
	type entry struct {
		id  uuid.UUID
		pos uint64
	}
	var entries []entry
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		cur := b.Cursor()
		prefix := id[:]
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			other, err := uuid.FromBytes(k[16:])
			if err != nil {
				return err
			}
			entries = append(entries, entry{other, binary.BigEndian.Uint64(v)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })
	out := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out, nil
}

func (c *Client) Next(_ context.Context, counter string) (int64, error) {
	var next uint64
	err := c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(countersBucket)
		if err != nil {
			return err
		}
		if v := b.Get([]byte(counter)); v != nil {
			next = binary.BigEndian.Uint64(v)
		}
		next++
		return b.Put([]byte(counter), itob(next))
	})
	return int64(next), err
}

// Close closes the database file.
func (c *Client) Close() error {
	return c.db.Close()
}
