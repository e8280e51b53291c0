// Package content holds the repository data model: the five nested object
// types (Community, Collection, Item, Bundle, Bitstream) and the records
// that hang off them (metadata, formats, policies, workspace items).
//
// The types here are plain values. Persistence, authorization and the
// cascade rules live in the dao package.
package content

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of a repository object. The numbering follows
// the classic repository constants so it can be stored in policy rows.
type Type int

const (
	TypeBitstream Type = iota
	TypeBundle
	TypeItem
	TypeCollection
	TypeCommunity
)

func (t Type) String() string {
	switch t {
	case TypeBitstream:
		return "bitstream"
	case TypeBundle:
		return "bundle"
	case TypeItem:
		return "item"
	case TypeCollection:
		return "collection"
	case TypeCommunity:
		return "community"
	default:
		return "unknown"
	}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, bool) {
	for _, t := range Types {
		if t.String() == s {
			return t, true
		}
	}
	return -1, false
}

// Types lists every object type, leaves first.
var Types = []Type{TypeBitstream, TypeBundle, TypeItem, TypeCollection, TypeCommunity}

// Object is the capability set shared by every repository object: an
// internal identifier, zero or more external identifiers and a metadata
// value list.
type Object interface {
	ID() uuid.UUID
	SetID(uuid.UUID)
	Type() Type
	ExternalIdentifiers() []string
	AddExternalIdentifier(string)
	MetadataValues() []MetadataValue
	SetMetadataValues([]MetadataValue)
	Touch(time.Time)
}

// ObjectBase implements the parts of Object that do not depend on the type.
// Metadata is persisted in its own table and never encoded with the row.
type ObjectBase struct {
	UUID         uuid.UUID       `json:"uuid"`
	Identifiers  []string        `json:"identifiers,omitempty"`
	LastModified time.Time       `json:"lastModified"`
	Metadata     []MetadataValue `json:"-"`
}

func (o *ObjectBase) ID() uuid.UUID { return o.UUID }

func (o *ObjectBase) SetID(id uuid.UUID) { o.UUID = id }

func (o *ObjectBase) ExternalIdentifiers() []string { return o.Identifiers }

// AddExternalIdentifier appends id unless it is already present.
func (o *ObjectBase) AddExternalIdentifier(id string) {
	for _, have := range o.Identifiers {
		if have == id {
			return
		}
	}
	o.Identifiers = append(o.Identifiers, id)
}

func (o *ObjectBase) MetadataValues() []MetadataValue { return o.Metadata }

func (o *ObjectBase) SetMetadataValues(values []MetadataValue) { o.Metadata = values }

func (o *ObjectBase) Touch(t time.Time) { o.LastModified = t }

// AddMetadata appends one value per entry in values. Places are assigned
// when the owner is updated.
func (o *ObjectBase) AddMetadata(schema, element, qualifier, lang string, values ...string) {
	for _, v := range values {
		o.Metadata = append(o.Metadata, MetadataValue{
			Schema:    schema,
			Element:   element,
			Qualifier: qualifier,
			Language:  lang,
			Value:     v,
		})
	}
}

// GetMetadata returns the values matching the given field. Any of schema,
// element, qualifier or lang may be Any to match everything.
func (o *ObjectBase) GetMetadata(schema, element, qualifier, lang string) []MetadataValue {
	var out []MetadataValue
	for _, v := range o.Metadata {
		if v.Matches(schema, element, qualifier, lang) {
			out = append(out, v)
		}
	}
	return out
}

// ClearMetadata removes the values matching the given field, with the same
// wildcard rules as GetMetadata.
func (o *ObjectBase) ClearMetadata(schema, element, qualifier, lang string) {
	kept := o.Metadata[:0]
	for _, v := range o.Metadata {
		if !v.Matches(schema, element, qualifier, lang) {
			kept = append(kept, v)
		}
	}
	o.Metadata = kept
}
