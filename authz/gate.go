// Package authz is the authorization gate. It evaluates resource policies
// against the session principal and its groups, and stores, copies and
// revokes policies.
package authz

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// maxContainerDepth bounds the walk up the hierarchy when looking for an
// inherited ADMIN grant.
const maxContainerDepth = 8

// ContainerResolver returns the immediate containers of an object, e.g. the
// collections of an item.
type ContainerResolver interface {
	Containers(s *session.Session, o content.Object) ([]content.Object, error)
}

// Gate evaluates and maintains policies. It holds no per-request state.
type Gate struct {
	logger     logrus.FieldLogger
	store      storage.Store
	directory  Directory
	containers ContainerResolver
	now        func() time.Time
}

// New returns a Gate reading policies from store.
func New(logger logrus.FieldLogger, store storage.Store, directory Directory) *Gate {
	return &Gate{
		logger:    logger.WithField("component", "authz"),
		store:     store,
		directory: directory,
		now:       time.Now,
	}
}

// SetContainerResolver enables inherited ADMIN checks.
func (g *Gate) SetContainerResolver(r ContainerResolver) {
	g.containers = r
}

// groups returns the ids of the groups of the session principal, always
// including Anonymous.
func (g *Gate) groups(s *session.Session) (map[uuid.UUID]struct{}, error) {
	out := map[uuid.UUID]struct{}{content.AnonymousGroup.ID: {}}
	groups, err := g.directory.GroupsOf(s.Context(), s.Principal())
	if err != nil {
		return nil, errors.Wrap(err, "directory lookup failed")
	}
	for _, group := range groups {
		out[group.ID] = struct{}{}
	}
	return out, nil
}

// IsAdmin reports whether the session principal is a site administrator.
func (g *Gate) IsAdmin(s *session.Session) (bool, error) {
	if s.Principal() == nil {
		return false, nil
	}
	groups, err := g.groups(s)
	if err != nil {
		return false, err
	}
	_, ok := groups[content.AdministratorGroup.ID]
	return ok, nil
}

// Authorize fails with AuthorizationDenied unless the session principal may
// perform action on o.
func (g *Gate) Authorize(s *session.Session, o content.Object, action content.Action) error {
	ok, err := g.Authorized(s, o, action)
	if err != nil {
		return err
	}
	if !ok {
		g.logger.WithFields(logrus.Fields{
			"type":      o.Type().String(),
			"id":        o.ID(),
			"action":    action.String(),
			"principal": s.PrincipalID(),
		}).Debug("Authorization denied")
		return rErrors.Errorf(rErrors.AuthorizationDenied, "%s on %s %s denied to %s", action, o.Type(), o.ID(), principalName(s))
	}
	return nil
}

// AuthorizeAdmin fails unless the session principal is an administrator.
func (g *Gate) AuthorizeAdmin(s *session.Session) error {
	if s.IgnoreAuthorization() {
		return nil
	}
	ok, err := g.IsAdmin(s)
	if err != nil {
		return err
	}
	if !ok {
		return rErrors.Errorf(rErrors.AuthorizationDenied, "administrator required, %s is not", principalName(s))
	}
	return nil
}

func principalName(s *session.Session) string {
	if p := s.Principal(); p != nil {
		if p.Email != "" {
			return p.Email
		}
		return p.ID.String()
	}
	return "anonymous"
}

// Authorized is Authorize without the error.
func (g *Gate) Authorized(s *session.Session, o content.Object, action content.Action) (bool, error) {
	if s.IgnoreAuthorization() {
		return true, nil
	}
	groups, err := g.groups(s)
	if err != nil {
		return false, err
	}
	if _, ok := groups[content.AdministratorGroup.ID]; ok && s.Principal() != nil {
		return true, nil
	}
	ok, err := g.granted(s, o, groups, action)
	if err != nil || ok {
		return ok, err
	}
	if g.containers == nil {
		return false, nil
	}

	// Walk up the hierarchy looking for ADMIN.
	seen := map[uuid.UUID]struct{}{o.ID(): {}}
	level := []content.Object{o}
	for depth := 0; depth < maxContainerDepth && len(level) > 0; depth++ {
		var next []content.Object
		for _, obj := range level {
			containers, err := g.containers.Containers(s, obj)
			if err != nil {
				return false, err
			}
			for _, c := range containers {
				if _, ok := seen[c.ID()]; ok {
					continue
				}
				seen[c.ID()] = struct{}{}
				ok, err := g.granted(s, c, groups, content.ActionAdmin)
				if err != nil || ok {
					return ok, err
				}
				next = append(next, c)
			}
		}
		level = next
	}
	return false, nil
}

// granted looks for an active policy on o giving action, or ADMIN, to the
// principal or one of groups.
func (g *Gate) granted(s *session.Session, o content.Object, groups map[uuid.UUID]struct{}, action content.Action) (bool, error) {
	policies, err := g.Policies(s, o)
	if err != nil {
		return false, err
	}
	now := g.now()
	principal := s.PrincipalID()
	for _, p := range policies {
		if p.Action != action && p.Action != content.ActionAdmin {
			continue
		}
		if !p.Active(now) {
			continue
		}
		if principal != uuid.Nil && p.PrincipalID == principal {
			return true, nil
		}
		if _, ok := groups[p.GroupID]; ok && p.GroupID != uuid.Nil {
			return true, nil
		}
	}
	return false, nil
}

// Policies returns the policies attached to o in creation order.
func (g *Gate) Policies(s *session.Session, o content.Object) ([]content.Policy, error) {
	ctx := s.Context()
	ids, err := g.store.Children(ctx, storage.ObjectPolicy, o.ID())
	if err != nil {
		return nil, rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	policies := make([]content.Policy, 0, len(ids))
	for _, id := range ids {
		row, err := g.store.Get(ctx, storage.TablePolicy, id)
		if err != nil {
			return nil, rErrors.NewWithError(rErrors.StorageFailure, err)
		}
		if row == nil {
			continue
		}
		var p content.Policy
		if err := json.Unmarshal(row, &p); err != nil {
			return nil, rErrors.NewWithError(rErrors.StorageFailure, errors.Wrapf(err, "policy %s", id))
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// AddPolicy stores p on o. The resource fields of p are overwritten.
func (g *Gate) AddPolicy(s *session.Session, o content.Object, p content.Policy) (content.Policy, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.ResourceType = o.Type()
	p.ResourceID = o.ID()
	row, err := json.Marshal(p)
	if err != nil {
		return p, errors.Wrap(err, "policy encoding")
	}
	ctx := s.Context()
	if err := g.store.Put(ctx, storage.TablePolicy, p.ID, row); err != nil {
		return p, rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	if err := g.store.Link(ctx, storage.ObjectPolicy, o.ID(), p.ID); err != nil {
		return p, rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	return p, nil
}

// AddGroupPolicy grants action on o to group.
func (g *Gate) AddGroupPolicy(s *session.Session, o content.Object, action content.Action, group uuid.UUID) (content.Policy, error) {
	return g.AddPolicy(s, o, content.Policy{Action: action, GroupID: group})
}

// AddPrincipalPolicy grants action on o to principal.
func (g *Gate) AddPrincipalPolicy(s *session.Session, o content.Object, action content.Action, principal uuid.UUID) (content.Policy, error) {
	return g.AddPolicy(s, o, content.Policy{Action: action, PrincipalID: principal})
}

// RemovePolicy deletes a single policy.
func (g *Gate) RemovePolicy(s *session.Session, p content.Policy) error {
	ctx := s.Context()
	if err := g.store.Unlink(ctx, storage.ObjectPolicy, p.ResourceID, p.ID); err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	if err := g.store.Delete(ctx, storage.TablePolicy, p.ID); err != nil {
		return rErrors.NewWithError(rErrors.StorageFailure, err)
	}
	return nil
}

// RemoveAllPolicies strips every policy from o.
func (g *Gate) RemoveAllPolicies(s *session.Session, o content.Object) error {
	return g.removeWhere(s, o, func(content.Policy) bool { return true })
}

// RemovePoliciesOfAction strips the policies of o granting action.
func (g *Gate) RemovePoliciesOfAction(s *session.Session, o content.Object, action content.Action) error {
	return g.removeWhere(s, o, func(p content.Policy) bool { return p.Action == action })
}

func (g *Gate) removeWhere(s *session.Session, o content.Object, match func(content.Policy) bool) error {
	policies, err := g.Policies(s, o)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if !match(p) {
			continue
		}
		if err := g.RemovePolicy(s, p); err != nil {
			return err
		}
	}
	return nil
}

// InheritPolicies copies every policy of from onto to. Policies to already
// holds with the same action and grantee are skipped.
func (g *Gate) InheritPolicies(s *session.Session, from, to content.Object) error {
	src, err := g.Policies(s, from)
	if err != nil {
		return err
	}
	have, err := g.Policies(s, to)
	if err != nil {
		return err
	}
	for _, p := range src {
		if holds(have, p) {
			continue
		}
		copied := p
		copied.ID = uuid.Nil
		added, err := g.AddPolicy(s, to, copied)
		if err != nil {
			return err
		}
		have = append(have, added)
	}
	return nil
}

func holds(policies []content.Policy, p content.Policy) bool {
	for _, have := range policies {
		if have.Action == p.Action && have.PrincipalID == p.PrincipalID && have.GroupID == p.GroupID {
			return true
		}
	}
	return false
}

// GrantTransient gives the session principal the listed actions on o and
// records the grants on the session. The anonymous principal is granted
// through the Anonymous group.
func (g *Gate) GrantTransient(s *session.Session, o content.Object, actions ...content.Action) error {
	for _, action := range actions {
		p := content.Policy{Action: action}
		if id := s.PrincipalID(); id != uuid.Nil {
			p.PrincipalID = id
		} else {
			p.GroupID = content.AnonymousGroup.ID
		}
		added, err := g.AddPolicy(s, o, p)
		if err != nil {
			return err
		}
		s.RecordGrant(added)
	}
	return nil
}

// Revoke removes the given policies, ignoring ones already gone.
func (g *Gate) Revoke(s *session.Session, policies []content.Policy) error {
	for _, p := range policies {
		if err := g.RemovePolicy(s, p); err != nil {
			return err
		}
	}
	return nil
}
