package content

import (
	"time"

	"github.com/google/uuid"
)

// Action is something a principal may be allowed to do to an object.
type Action int

const (
	ActionRead Action = iota
	ActionWrite
	ActionDelete
	ActionAdd
	ActionRemove
	ActionDefaultItemRead
	ActionDefaultBitstreamRead
	ActionAdmin
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "READ"
	case ActionWrite:
		return "WRITE"
	case ActionDelete:
		return "DELETE"
	case ActionAdd:
		return "ADD"
	case ActionRemove:
		return "REMOVE"
	case ActionDefaultItemRead:
		return "DEFAULT_ITEM_READ"
	case ActionDefaultBitstreamRead:
		return "DEFAULT_BITSTREAM_READ"
	case ActionAdmin:
		return "ADMIN"
	default:
		return "UNKNOWN"
	}
}

// Policy grants one action on one object to a principal or a group. Exactly
// one of PrincipalID and GroupID is set.
type Policy struct {
	ID           uuid.UUID  `json:"id"`
	ResourceType Type       `json:"resourceType"`
	ResourceID   uuid.UUID  `json:"resourceID"`
	Action       Action     `json:"action"`
	PrincipalID  uuid.UUID  `json:"principalID"`
	GroupID      uuid.UUID  `json:"groupID"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
}

// Active reports whether the policy is in force at t.
func (p Policy) Active(t time.Time) bool {
	if p.StartDate != nil && t.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && t.After(*p.EndDate) {
		return false
	}
	return true
}

// Principal is an authenticated user. A nil *Principal is anonymous.
type Principal struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// Group is a set of principals.
type Group struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Well-known groups. Every principal, including the anonymous one, belongs
// to Anonymous.
var (
	AnonymousGroup = Group{
		ID:   uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Name: "Anonymous",
	}
	AdministratorGroup = Group{
		ID:   uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		Name: "Administrator",
	}
)
