// Package memstore is an in-memory storage.Store. Link tables are kept as
// an adjacency index in both directions so parent counts are a map lookup.
//
// Every mutating call is appended to a write log, which tests use to prove
// that a denied operation never reached the store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/storage"
)

// Op is a kind of write recorded in the log.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
	OpLink   Op = "link"
	OpUnlink Op = "unlink"
	OpNext   Op = "next"
)

// Write is one entry of the write log. Table holds the relation name for
// link operations.
type Write struct {
	Op    Op
	Table string
	ID    uuid.UUID
	Other uuid.UUID
}

type edge struct {
	parent, child uuid.UUID
}

type linkTable struct {
	seq      int64
	order    map[edge]int64
	children map[uuid.UUID]map[uuid.UUID]struct{}
	parents  map[uuid.UUID]map[uuid.UUID]struct{}
}

func newLinkTable() *linkTable {
	return &linkTable{
		order:    map[edge]int64{},
		children: map[uuid.UUID]map[uuid.UUID]struct{}{},
		parents:  map[uuid.UUID]map[uuid.UUID]struct{}{},
	}
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	tables   map[string]map[uuid.UUID][]byte
	links    map[storage.Relation]*linkTable
	counters map[string]int64
	writes   []Write
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		tables:   map[string]map[uuid.UUID][]byte{},
		links:    map[storage.Relation]*linkTable{},
		counters: map[string]int64{},
	}
}

func (s *Store) record(op Op, table string, id, other uuid.UUID) {
	s.writes = append(s.writes, Write{Op: op, Table: table, ID: id, Other: other})
}

// Writes returns a copy of the write log.
func (s *Store) Writes() []Write {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// ResetWrites truncates the write log.
func (s *Store) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

func (s *Store) Get(_ context.Context, table string, id uuid.UUID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tables[table][id]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(row))
	copy(out, row)
	return out, nil
}

func (s *Store) Put(_ context.Context, table string, id uuid.UUID, row []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(OpPut, table, id, uuid.Nil)
	t, ok := s.tables[table]
	if !ok {
		t = map[uuid.UUID][]byte{}
		s.tables[table] = t
	}
	stored := make([]byte, len(row))
	copy(stored, row)
	t[id] = stored
	return nil
}

func (s *Store) Delete(_ context.Context, table string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(OpDelete, table, id, uuid.Nil)
	delete(s.tables[table], id)
	return nil
}

// Scan visits rows in id order so results are deterministic.
func (s *Store) Scan(_ context.Context, table string, fn func(id uuid.UUID, row []byte) error) error {
	s.mu.RLock()
	rows := make(map[uuid.UUID][]byte, len(s.tables[table]))
	for id, row := range s.tables[table] {
		rows[id] = row
	}
	s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		if err := fn(id, rows[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) table(rel storage.Relation) *linkTable {
	lt, ok := s.links[rel]
	if !ok {
		lt = newLinkTable()
		s.links[rel] = lt
	}
	return lt
}

func (s *Store) Link(_ context.Context, rel storage.Relation, parent, child uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lt := s.table(rel)
	e := edge{parent, child}
	if _, ok := lt.order[e]; ok {
		return nil
	}
	s.record(OpLink, string(rel), parent, child)
	lt.seq++
	lt.order[e] = lt.seq
	if lt.children[parent] == nil {
		lt.children[parent] = map[uuid.UUID]struct{}{}
	}
	lt.children[parent][child] = struct{}{}
	if lt.parents[child] == nil {
		lt.parents[child] = map[uuid.UUID]struct{}{}
	}
	lt.parents[child][parent] = struct{}{}
	return nil
}

func (s *Store) Unlink(_ context.Context, rel storage.Relation, parent, child uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lt := s.table(rel)
	e := edge{parent, child}
	if _, ok := lt.order[e]; !ok {
		return nil
	}
	s.record(OpUnlink, string(rel), parent, child)
	delete(lt.order, e)
	delete(lt.children[parent], child)
	if len(lt.children[parent]) == 0 {
		delete(lt.children, parent)
	}
	delete(lt.parents[child], parent)
	if len(lt.parents[child]) == 0 {
		delete(lt.parents, child)
	}
	return nil
}

func (s *Store) Linked(_ context.Context, rel storage.Relation, parent, child uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lt, ok := s.links[rel]
	if !ok {
		return false, nil
	}
	_, ok = lt.order[edge{parent, child}]
	return ok, nil
}

func (s *Store) Children(_ context.Context, rel storage.Relation, parent uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lt, ok := s.links[rel]
	if !ok {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(lt.children[parent]))
	for child := range lt.children[parent] {
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool {
		return lt.order[edge{parent, out[i]}] < lt.order[edge{parent, out[j]}]
	})
	return out, nil
}

func (s *Store) Parents(_ context.Context, rel storage.Relation, child uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lt, ok := s.links[rel]
	if !ok {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(lt.parents[child]))
	for parent := range lt.parents[child] {
		out = append(out, parent)
	}
	sort.Slice(out, func(i, j int) bool {
		return lt.order[edge{out[i], child}] < lt.order[edge{out[j], child}]
	})
	return out, nil
}

func (s *Store) Next(_ context.Context, counter string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(OpNext, counter, uuid.Nil, uuid.Nil)
	s.counters[counter]++
	return s.counters[counter], nil
}

func (s *Store) Close() error {
	return nil
}
