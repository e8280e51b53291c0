// Package storage defines the backing store the persistence pipeline writes
// through. A store keeps opaque rows keyed by (table, id), ordered link
// tables between objects, and named counters.
//
// Implementations live in the subpackages: memstore (tests and
// single-process use), boltdb (embedded file) and dynamodb.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
)

// Relation names a link table.
type Relation string

const (
	CommunityCommunity  Relation = "community2community"
	CommunityCollection Relation = "community2collection"
	CollectionItem      Relation = "collection2item"
	ItemBundle          Relation = "item2bundle"
	BundleBitstream     Relation = "bundle2bitstream"

	// ObjectMetadata indexes metadata value rows by owner.
	ObjectMetadata Relation = "dso2metadatavalue"

	// ObjectPolicy indexes policy rows by resource.
	ObjectPolicy Relation = "dso2policy"
)

// RelationBetween returns the link table holding parent to child links.
func RelationBetween(parent, child content.Type) (Relation, bool) {
	switch {
	case parent == content.TypeCommunity && child == content.TypeCommunity:
		return CommunityCommunity, true
	case parent == content.TypeCommunity && child == content.TypeCollection:
		return CommunityCollection, true
	case parent == content.TypeCollection && child == content.TypeItem:
		return CollectionItem, true
	case parent == content.TypeItem && child == content.TypeBundle:
		return ItemBundle, true
	case parent == content.TypeBundle && child == content.TypeBitstream:
		return BundleBitstream, true
	}
	return "", false
}

// ParentOf returns the relation and parent type anchoring objects of type
// child. Top of the hierarchy has none.
func ParentOf(child content.Type) (Relation, content.Type, bool) {
	switch child {
	case content.TypeCommunity:
		return CommunityCommunity, content.TypeCommunity, true
	case content.TypeCollection:
		return CommunityCollection, content.TypeCommunity, true
	case content.TypeItem:
		return CollectionItem, content.TypeCollection, true
	case content.TypeBundle:
		return ItemBundle, content.TypeItem, true
	case content.TypeBitstream:
		return BundleBitstream, content.TypeBundle, true
	}
	return "", 0, false
}

// Tables used by the core.
const (
	TableCommunity     = "community"
	TableCollection    = "collection"
	TableItem          = "item"
	TableBundle        = "bundle"
	TableBitstream     = "bitstream"
	TableFormat        = "bitstreamformatregistry"
	TableSchema        = "metadataschemaregistry"
	TableField         = "metadatafieldregistry"
	TableValue         = "metadatavalue"
	TablePolicy        = "resourcepolicy"
	TableHandle        = "handle"
	TableWorkspaceItem = "workspaceitem"
)

// TableOf returns the row table of an object type.
func TableOf(t content.Type) string {
	switch t {
	case content.TypeCommunity:
		return TableCommunity
	case content.TypeCollection:
		return TableCollection
	case content.TypeItem:
		return TableItem
	case content.TypeBundle:
		return TableBundle
	case content.TypeBitstream:
		return TableBitstream
	}
	return ""
}

// Store is the row-oriented backing store.
//
// Get returns a nil row and a nil error when the row does not exist.
// Children returns child ids in link order. Link is idempotent.
type Store interface {
	Get(ctx context.Context, table string, id uuid.UUID) ([]byte, error)
	Put(ctx context.Context, table string, id uuid.UUID, row []byte) error
	Delete(ctx context.Context, table string, id uuid.UUID) error
	Scan(ctx context.Context, table string, fn func(id uuid.UUID, row []byte) error) error

	Link(ctx context.Context, rel Relation, parent, child uuid.UUID) error
	Unlink(ctx context.Context, rel Relation, parent, child uuid.UUID) error
	Linked(ctx context.Context, rel Relation, parent, child uuid.UUID) (bool, error)
	Children(ctx context.Context, rel Relation, parent uuid.UUID) ([]uuid.UUID, error)
	Parents(ctx context.Context, rel Relation, child uuid.UUID) ([]uuid.UUID, error)

	// Next increments and returns the named counter. The first value is 1.
	Next(ctx context.Context, counter string) (int64, error)

	Close() error
}

// ParentCount is the orphan test: the number of parents child has left in
// rel.
func ParentCount(ctx context.Context, s Store, rel Relation, child uuid.UUID) (int, error) {
	parents, err := s.Parents(ctx, rel, child)
	if err != nil {
		return 0, err
	}
	return len(parents), nil
}

// UnlinkAll removes every link of rel pointing at child.
func UnlinkAll(ctx context.Context, s Store, rel Relation, child uuid.UUID) error {
	parents, err := s.Parents(ctx, rel, child)
	if err != nil {
		return err
	}
	for _, p := range parents {
		if err := s.Unlink(ctx, rel, p, child); err != nil {
			return err
		}
	}
	return nil
}
