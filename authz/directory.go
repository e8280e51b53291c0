package authz

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
)

// Directory resolves group memberships. The well-known Anonymous group is
// added by the gate and need not be returned.
type Directory interface {
	GroupsOf(ctx context.Context, p *content.Principal) ([]content.Group, error)
}

// StaticDirectory is an in-memory Directory.
type StaticDirectory struct {
	mu      sync.RWMutex
	groups  map[uuid.UUID]content.Group
	members map[uuid.UUID]map[uuid.UUID]struct{}
}

var _ Directory = (*StaticDirectory)(nil)

func NewStaticDirectory() *StaticDirectory {
	d := &StaticDirectory{
		groups:  map[uuid.UUID]content.Group{},
		members: map[uuid.UUID]map[uuid.UUID]struct{}{},
	}
	d.AddGroup(content.AnonymousGroup)
	d.AddGroup(content.AdministratorGroup)
	return d
}

func (d *StaticDirectory) AddGroup(g content.Group) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[g.ID] = g
}

// AddMember puts principal into group, registering the group if needed.
func (d *StaticDirectory) AddMember(group, principal uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.groups[group]; !ok {
		d.groups[group] = content.Group{ID: group}
	}
	if d.members[principal] == nil {
		d.members[principal] = map[uuid.UUID]struct{}{}
	}
	d.members[principal][group] = struct{}{}
}

func (d *StaticDirectory) RemoveMember(group, principal uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members[principal], group)
}

func (d *StaticDirectory) GroupsOf(_ context.Context, p *content.Principal) ([]content.Group, error) {
	if p == nil {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]content.Group, 0, len(d.members[p.ID]))
	for id := range d.members[p.ID] {
		out = append(out, d.groups[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}
