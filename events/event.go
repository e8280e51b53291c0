// Package events carries the domain events the repository core emits after a
// session commits. The discovery index and any other interested party
// subscribe to them; the core never calls those collaborators directly.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
)

// Type is the kind of change an event describes.
type Type int

const (
	_ Type = iota
	EventCreate
	EventModify
	EventModifyMetadata
	EventAdd
	EventRemove
	EventDelete
)

func (t Type) String() string {
	switch t {
	case EventCreate:
		return "CREATE"
	case EventModify:
		return "MODIFY"
	case EventModifyMetadata:
		return "MODIFY_METADATA"
	case EventAdd:
		return "ADD"
	case EventRemove:
		return "REMOVE"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	for c := EventCreate; c <= EventDelete; c++ {
		if c.String() == string(text) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", text)
}

// Event describes one change. Subject is the object that changed; Object is
// the other end of an ADD or REMOVE, e.g. the bundle added to an item.
type Event struct {
	ID          uuid.UUID    `json:"id"`
	Type        Type         `json:"type"`
	SubjectType content.Type `json:"subjectType"`
	SubjectID   uuid.UUID    `json:"subjectID"`
	ObjectType  content.Type `json:"objectType"`
	ObjectID    uuid.UUID    `json:"objectID"`
	Identifiers []string     `json:"identifiers,omitempty"`
	Principal   uuid.UUID    `json:"principal"`
	Timestamp   time.Time    `json:"timestamp"`
}

// New returns an event about subject.
func New(t Type, subject content.Object) *Event {
	e := &Event{
		ID:          uuid.New(),
		Type:        t,
		SubjectType: subject.Type(),
		SubjectID:   subject.ID(),
		Timestamp:   time.Now().UTC(),
	}
	if ids := subject.ExternalIdentifiers(); len(ids) > 0 {
		e.Identifiers = append([]string(nil), ids...)
	}
	return e
}

// WithObject sets the other end of an ADD or REMOVE event.
func (e *Event) WithObject(o content.Object) *Event {
	e.ObjectType = o.Type()
	e.ObjectID = o.ID()
	return e
}

func (e *Event) String() string {
	if e.ObjectID != uuid.Nil {
		return fmt.Sprintf("%s %s:%s %s:%s", e.Type, e.SubjectType, e.SubjectID, e.ObjectType, e.ObjectID)
	}
	return fmt.Sprintf("%s %s:%s", e.Type, e.SubjectType, e.SubjectID)
}
