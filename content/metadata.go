package content

import (
	"strings"

	"github.com/google/uuid"
)

// Any is the metadata wildcard accepted by GetMetadata and ClearMetadata.
const Any = "*"

// DefaultSchema is the short name of the schema used when a value names a
// schema that is not registered.
const DefaultSchema = "dc"

// MetadataSchema is a namespace of metadata fields, e.g. Dublin Core.
type MetadataSchema struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
}

// MetadataField belongs to exactly one schema. Element and qualifier are
// unique within the schema.
type MetadataField struct {
	ID        uuid.UUID `json:"id"`
	SchemaID  uuid.UUID `json:"schemaID"`
	Element   string    `json:"element"`
	Qualifier string    `json:"qualifier,omitempty"`
	ScopeNote string    `json:"scopeNote,omitempty"`
}

// MetadataValue is a single value attached to an owner object.
type MetadataValue struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"ownerID"`
	FieldID   uuid.UUID `json:"fieldID"`
	Schema    string    `json:"schema"`
	Element   string    `json:"element"`
	Qualifier string    `json:"qualifier,omitempty"`
	Language  string    `json:"language,omitempty"`
	Value     string    `json:"value"`
	Place     int       `json:"place"`
}

// Field returns the dotted field name, e.g. "dc.title" or
// "dc.contributor.author".
func (v MetadataValue) Field() string {
	parts := []string{v.Schema, v.Element}
	if v.Qualifier != "" {
		parts = append(parts, v.Qualifier)
	}
	return strings.Join(parts, ".")
}

// Equal compares the content of two values. Identity, field reference and
// place are ignored.
func (v MetadataValue) Equal(o MetadataValue) bool {
	return v.Schema == o.Schema &&
		v.Element == o.Element &&
		v.Qualifier == o.Qualifier &&
		v.Language == o.Language &&
		v.Value == o.Value
}

// Matches implements the wildcard matching used by the metadata accessors.
// An empty qualifier only matches unqualified values.
func (v MetadataValue) Matches(schema, element, qualifier, lang string) bool {
	if schema != Any && v.Schema != schema {
		return false
	}
	if element != Any && v.Element != element {
		return false
	}
	if qualifier != Any && v.Qualifier != qualifier {
		return false
	}
	if lang != Any && v.Language != lang {
		return false
	}
	return true
}
