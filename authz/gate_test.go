package authz

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage/memstore"
)

type parents map[uuid.UUID][]content.Object

func (p parents) Containers(_ *session.Session, o content.Object) ([]content.Object, error) {
	return p[o.ID()], nil
}

func setup(t *testing.T) (*Gate, *StaticDirectory, *memstore.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memstore.New()
	dir := NewStaticDirectory()
	return New(logger, store, dir), dir, store
}

func newItem() *content.Item {
	i := &content.Item{}
	i.SetID(uuid.New())
	return i
}

func principal() *content.Principal {
	return &content.Principal{ID: uuid.New(), Email: "kat@example.org"}
}

func TestGate_Authorize(t *testing.T) {
	group := uuid.New()
	alice, bob := principal(), principal()
	admin := principal()

	tests := []struct {
		name      string
		principal *content.Principal
		policy    *content.Policy
		action    content.Action
		want      bool
	}{
		{"no policy", alice, nil, content.ActionRead, false},
		{"principal grant", alice, &content.Policy{Action: content.ActionRead}, content.ActionRead, true},
		{"other principal", bob, &content.Policy{Action: content.ActionRead}, content.ActionRead, false},
		{"other action", alice, &content.Policy{Action: content.ActionRead}, content.ActionWrite, false},
		{"admin action implies all", alice, &content.Policy{Action: content.ActionAdmin}, content.ActionDelete, true},
		{"group grant", bob, &content.Policy{Action: content.ActionWrite, GroupID: group}, content.ActionWrite, true},
		{"anonymous group to anonymous", nil, &content.Policy{Action: content.ActionRead, GroupID: content.AnonymousGroup.ID}, content.ActionRead, true},
		{"anonymous group to everyone", alice, &content.Policy{Action: content.ActionRead, GroupID: content.AnonymousGroup.ID}, content.ActionRead, true},
		{"site administrator", admin, nil, content.ActionDelete, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, dir, _ := setup(t)
			dir.AddMember(group, bob.ID)
			dir.AddMember(content.AdministratorGroup.ID, admin.ID)
			s := session.New(context.Background(), tt.principal)
			item := newItem()
			if tt.policy != nil {
				p := *tt.policy
				if p.GroupID == uuid.Nil {
					p.PrincipalID = alice.ID
				}
				_, err := g.AddPolicy(s, item, p)
				require.NoError(t, err)
			}

			err := g.Authorize(s, item, tt.action)

			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.True(t, rErrors.Is(err, rErrors.AuthorizationDenied), "got %v", err)
			}
		})
	}
}

func TestGate_PolicyWindow(t *testing.T) {
	g, _, _ := setup(t)
	s := session.New(context.Background(), nil)
	item := newItem()
	tomorrow := time.Now().Add(24 * time.Hour)
	_, err := g.AddPolicy(s, item, content.Policy{Action: content.ActionRead, GroupID: content.AnonymousGroup.ID, StartDate: &tomorrow})
	require.NoError(t, err)

	ok, err := g.Authorized(s, item, content.ActionRead)
	require.NoError(t, err)
	assert.False(t, ok)

	g.now = func() time.Time { return tomorrow.Add(time.Hour) }
	ok, err = g.Authorized(s, item, content.ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGate_IgnoreAuthorization(t *testing.T) {
	g, _, _ := setup(t)
	s := session.New(context.Background(), nil)
	s.TurnOffAuthorization()
	defer s.RestoreAuthorization()

	assert.NoError(t, g.Authorize(s, newItem(), content.ActionDelete))
	assert.NoError(t, g.AuthorizeAdmin(s))
}

func TestGate_ContainerAdmin(t *testing.T) {
	g, _, _ := setup(t)
	alice := principal()
	s := session.New(context.Background(), alice)

	community := &content.Community{}
	community.SetID(uuid.New())
	collection := &content.Collection{}
	collection.SetID(uuid.New())
	item := newItem()
	g.SetContainerResolver(parents{
		item.ID():       {collection},
		collection.ID(): {community},
		community.ID():  {item}, // loops are tolerated
	})

	assert.Error(t, g.Authorize(s, item, content.ActionWrite))

	_, err := g.AddPrincipalPolicy(s, community, content.ActionAdmin, alice.ID)
	require.NoError(t, err)
	assert.NoError(t, g.Authorize(s, item, content.ActionWrite))

	// Only ADMIN is inherited.
	other := newItem()
	g.SetContainerResolver(parents{other.ID(): {collection}})
	_, err = g.AddPrincipalPolicy(s, collection, content.ActionWrite, alice.ID)
	require.NoError(t, err)
	assert.Error(t, g.Authorize(s, other, content.ActionWrite))
}

func TestGate_IsAdmin(t *testing.T) {
	g, dir, _ := setup(t)
	admin := principal()
	dir.AddMember(content.AdministratorGroup.ID, admin.ID)

	ok, err := g.IsAdmin(session.New(context.Background(), admin))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsAdmin(session.New(context.Background(), nil))
	require.NoError(t, err)
	assert.False(t, ok)

	err = g.AuthorizeAdmin(session.New(context.Background(), principal()))
	assert.True(t, rErrors.Is(err, rErrors.AuthorizationDenied))
}

func TestGate_InheritAndRemove(t *testing.T) {
	g, _, _ := setup(t)
	s := session.New(context.Background(), nil)
	collection := &content.Collection{}
	collection.SetID(uuid.New())
	item := newItem()

	_, err := g.AddGroupPolicy(s, collection, content.ActionRead, content.AnonymousGroup.ID)
	require.NoError(t, err)
	_, err = g.AddGroupPolicy(s, collection, content.ActionDefaultItemRead, content.AnonymousGroup.ID)
	require.NoError(t, err)
	_, err = g.AddGroupPolicy(s, item, content.ActionRead, content.AnonymousGroup.ID)
	require.NoError(t, err)

	require.NoError(t, g.InheritPolicies(s, collection, item))

	policies, err := g.Policies(s, item)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	for _, p := range policies {
		assert.Equal(t, item.ID(), p.ResourceID)
		assert.Equal(t, content.TypeItem, p.ResourceType)
	}

	require.NoError(t, g.RemovePoliciesOfAction(s, item, content.ActionDefaultItemRead))
	policies, _ = g.Policies(s, item)
	assert.Len(t, policies, 1)

	require.NoError(t, g.RemoveAllPolicies(s, item))
	policies, _ = g.Policies(s, item)
	assert.Empty(t, policies)

	// The source is untouched.
	policies, _ = g.Policies(s, collection)
	assert.Len(t, policies, 2)
}

func TestGate_GrantTransient(t *testing.T) {
	g, _, _ := setup(t)
	alice := principal()
	s := session.New(context.Background(), alice)
	bundle := &content.Bundle{}
	bundle.SetID(uuid.New())

	require.Error(t, g.Authorize(s, bundle, content.ActionDelete))
	require.NoError(t, g.GrantTransient(s, bundle, content.ActionDelete, content.ActionRemove))

	assert.NoError(t, g.Authorize(s, bundle, content.ActionDelete))
	assert.NoError(t, g.Authorize(s, bundle, content.ActionRemove))
	require.Len(t, s.Grants(), 2)

	require.NoError(t, g.Revoke(s, s.Grants()))
	assert.Error(t, g.Authorize(s, bundle, content.ActionDelete))

	anon := session.New(context.Background(), nil)
	require.NoError(t, g.GrantTransient(anon, bundle, content.ActionDelete))
	assert.Equal(t, content.AnonymousGroup.ID, anon.Grants()[0].GroupID)
}
