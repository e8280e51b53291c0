// Package bitstore keeps the content of bitstreams. A bitstream row records
// the number of the asset store holding its content and the internal id of
// the content within that store; the Manager maps numbers to stores.
package bitstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
)

// ChecksumAlgorithm is the algorithm of the checksums computed on store.
const ChecksumAlgorithm = "MD5"

// AssetStore holds opaque content addressed by internal id.
type AssetStore interface {
	Put(ctx context.Context, id string, r io.Reader) error
	Get(ctx context.Context, id string) (io.ReadCloser, error)
	Remove(ctx context.Context, id string) error
}

// Manager routes bitstream content to the asset store selected by the store
// number of the bitstream. New content goes to the incoming store.
type Manager struct {
	logger   logrus.FieldLogger
	incoming int

	mu     sync.RWMutex
	stores map[int]AssetStore
}

func NewManager(logger logrus.FieldLogger, incoming int) *Manager {
	return &Manager{
		logger:   logger.WithField("component", "bitstore"),
		incoming: incoming,
		stores:   map[int]AssetStore{},
	}
}

// Register makes s available as store number n.
func (m *Manager) Register(n int, s AssetStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[n] = s
}

func (m *Manager) store(n int) (AssetStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[n]
	if !ok {
		return nil, rErrors.Errorf(rErrors.Configuration, "asset store %d is not configured", n)
	}
	return s, nil
}

// newInternalID returns a fresh content id. Ids are hex strings so that the
// file store can split them into directory levels.
func newInternalID() string {
	return strings.Replace(uuid.New().String(), "-", "", -1)
}

// Store writes the content of r to the incoming store and records where it
// went in bs, along with its size and checksum.
func (m *Manager) Store(ctx context.Context, bs *content.Bitstream, r io.Reader) error {
	s, err := m.store(m.incoming)
	if err != nil {
		return err
	}
	id := newInternalID()
	hash := md5.New()
	counter := &countingReader{r: io.TeeReader(r, hash)}
	if err := s.Put(ctx, id, counter); err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, errors.Wrapf(err, "asset store %d", m.incoming))
	}
	bs.StoreNumber = m.incoming
	bs.InternalID = id
	bs.SizeBytes = counter.n
	bs.Checksum = hex.EncodeToString(hash.Sum(nil))
	bs.ChecksumAlgorithm = ChecksumAlgorithm
	m.logger.WithFields(logrus.Fields{
		"store":    m.incoming,
		"internal": id,
		"size":     counter.n,
	}).Debug("Content stored")
	return nil
}

// Retrieve opens the content of bs. The caller closes it.
func (m *Manager) Retrieve(ctx context.Context, bs *content.Bitstream) (io.ReadCloser, error) {
	s, err := m.store(bs.StoreNumber)
	if err != nil {
		return nil, err
	}
	rc, err := s.Get(ctx, bs.InternalID)
	if err != nil {
		return nil, rErrors.NewWithError(rErrors.StorageFailure, errors.Wrapf(err, "asset store %d", bs.StoreNumber))
	}
	return rc, nil
}

// Remove deletes the content of bs.
func (m *Manager) Remove(ctx context.Context, bs *content.Bitstream) error {
	if bs.InternalID == "" {
		return nil
	}
	s, err := m.store(bs.StoreNumber)
	if err != nil {
		return err
	}
	if err := s.Remove(ctx, bs.InternalID); err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, errors.Wrapf(err, "asset store %d", bs.StoreNumber))
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
