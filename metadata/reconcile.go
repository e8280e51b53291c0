// Package metadata keeps the metadata registry (schemas and fields) and the
// values attached to repository objects. Values are synchronized by
// reconciliation: the desired in-memory list is diffed against the
// persisted one and places are renumbered per field.
package metadata

import (
	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
)

// Op is the kind of a reconciliation effect.
type Op int

const (
	OpCreate Op = iota + 1
	OpUpdatePlace
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdatePlace:
		return "update-place"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Effect is one write needed to bring the persisted values in line.
type Effect struct {
	Op    Op
	Value content.MetadataValue
}

// FieldResolver maps a value to its registered field. It returns the
// schema name the value must be stored under, which differs from the one
// requested when the default schema fallback applies.
type FieldResolver func(schema, element, qualifier string) (content.MetadataField, string, error)

// Reconcile computes the effects turning persisted into desired for owner.
//
// Values are matched on schema, element, qualifier, language and value;
// place is ignored. Each persisted value is matched at most once, so
// duplicated values survive as long as the desired list still holds as many.
// Places are assigned 1..n per field following the order of desired.
//
// Deletes come first in the result. The second return value is desired
// with identifiers, field references and places filled in. Nothing is
// written; an error leaves no partial state.
func Reconcile(owner uuid.UUID, persisted, desired []content.MetadataValue, resolve FieldResolver) ([]Effect, []content.MetadataValue, error) {
	var (
		effects  []Effect
		writes   []Effect
		result   = make([]content.MetadataValue, 0, len(desired))
		matched  = make([]bool, len(persisted))
		counters = map[uuid.UUID]int{}
	)
	for _, d := range desired {
		field, schema, err := resolve(d.Schema, d.Element, d.Qualifier)
		if err != nil {
			return nil, nil, err
		}
		d.Schema = schema
		d.OwnerID = owner
		d.FieldID = field.ID
		counters[field.ID]++
		place := counters[field.ID]

		found := -1
		for i, p := range persisted {
			if !matched[i] && p.Equal(d) {
				found = i
				break
			}
		}
		if found < 0 {
			d.ID = uuid.New()
			d.Place = place
			writes = append(writes, Effect{Op: OpCreate, Value: d})
			result = append(result, d)
			continue
		}
		matched[found] = true
		v := persisted[found]
		if v.Place != place {
			v.Place = place
			writes = append(writes, Effect{Op: OpUpdatePlace, Value: v})
		}
		result = append(result, v)
	}
	for i, p := range persisted {
		if !matched[i] {
			effects = append(effects, Effect{Op: OpDelete, Value: p})
		}
	}
	return append(effects, writes...), result, nil
}
