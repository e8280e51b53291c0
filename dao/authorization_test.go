package dao_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
)

func TestAuthorization_DeniedLeavesNoWrites(t *testing.T) {
	f := newFixture(t)
	anonymous := f.NewSession(context.Background(), nil)
	f.Store.ResetWrites()

	tests := []struct {
		name string
		op   func() error
	}{
		{"update item", func() error {
			return f.Items.Update(anonymous, f.item)
		}},
		{"delete collection", func() error {
			return f.Collections.Delete(anonymous, f.collection.ID())
		}},
		{"create collection", func() error {
			_, err := f.Collections.CreateIn(anonymous, f.community)
			return err
		}},
		{"create top-level community", func() error {
			_, err := f.Communities.Create(anonymous)
			return err
		}},
		{"unlink item", func() error {
			return f.Collections.Unlink(anonymous, f.collection, f.item)
		}},
		{"create bundle", func() error {
			_, err := f.Items.CreateBundle(anonymous, f.item, content.BundleOriginal)
			return err
		}},
		{"withdraw item", func() error {
			return f.Items.Withdraw(anonymous, f.item)
		}},
		{"delete format", func() error {
			unknown, err := f.Formats.Unknown(anonymous)
			if err != nil {
				return err
			}
			return f.Formats.Delete(anonymous, unknown.ID)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			assert.True(t, rErrors.Is(err, rErrors.AuthorizationDenied), "got %v", err)
			assert.Empty(t, f.Store.Writes())
		})
	}
}

func TestAuthorization_ItemUpdateWithoutRemove(t *testing.T) {
	f := newFixture(t)
	bundle, err := f.Items.CreateBundle(f.s, f.item, content.BundleOriginal)
	require.NoError(t, err)

	// WRITE alone does not allow dropping a bundle through an update.
	editor := f.Principal("editor@example.com")
	_, err = f.Gate().AddPrincipalPolicy(f.s, f.item, content.ActionWrite, editor.ID)
	require.NoError(t, err)
	s := f.NewSession(context.Background(), editor)
	item, err := f.Items.Retrieve(s, f.item.ID())
	require.NoError(t, err)
	item.RemoveBundle(item.Bundle(content.BundleOriginal))
	f.Store.ResetWrites()

	err = f.Items.Update(s, item)
	assert.True(t, rErrors.Is(err, rErrors.AuthorizationDenied), "got %v", err)
	assert.Empty(t, f.Store.Writes())

	got, err := f.Bundles.Retrieve(f.fresh(), bundle.ID())
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestAuthorization_AdminOnContainer(t *testing.T) {
	f := newFixture(t)
	curator := f.Principal("curator@example.com")
	_, err := f.Gate().AddPrincipalPolicy(f.s, f.community, content.ActionAdmin, curator.ID)
	require.NoError(t, err)

	s := f.NewSession(context.Background(), curator)
	item, err := f.Items.Retrieve(s, f.item.ID())
	require.NoError(t, err)
	item.AddMetadata(content.DefaultSchema, "title", "", "", "Curated")

	assert.NoError(t, f.Items.Update(s, item))
	assert.NoError(t, f.Items.Withdraw(s, item))
}

func TestAuthorization_TransientGrants(t *testing.T) {
	f := newFixture(t)
	bundle, err := f.Items.CreateBundle(f.s, f.item, content.BundleOriginal)
	require.NoError(t, err)
	bs, err := f.Bundles.CreateBitstream(f.s, bundle, strings.NewReader("content"))
	require.NoError(t, err)

	// REMOVE on the bundle is enough to get rid of the orphaned bitstream.
	editor := f.Principal("editor@example.com")
	_, err = f.Gate().AddPrincipalPolicy(f.s, bundle, content.ActionRemove, editor.ID)
	require.NoError(t, err)

	s := f.NewSession(context.Background(), editor)
	b, err := f.Bundles.Retrieve(s, bundle.ID())
	require.NoError(t, err)
	require.Len(t, b.Bitstreams, 1)

	require.NoError(t, f.Bundles.Unlink(s, b, b.Bitstreams[0]))

	grants := s.Grants()
	require.Len(t, grants, 2)
	for _, p := range grants {
		assert.Equal(t, editor.ID, p.PrincipalID)
		assert.Equal(t, bs.ID(), p.ResourceID)
	}
	got, err := f.Bitstreams.Retrieve(f.fresh(), bs.ID())
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, f.Abort(s))
	assert.True(t, s.Closed())
}

func TestAuthorization_AbortRevokesGrants(t *testing.T) {
	f := newFixture(t)
	s := f.fresh()

	require.NoError(t, f.Gate().GrantTransient(s, f.item, content.ActionDelete))
	before, err := f.Gate().Policies(s, f.item)
	require.NoError(t, err)

	require.NoError(t, f.Abort(s))

	after, err := f.Gate().Policies(f.fresh(), f.item)
	require.NoError(t, err)
	assert.Len(t, after, len(before)-1)
	for _, p := range after {
		assert.NotEqual(t, content.ActionDelete, p.Action)
	}
}

func TestAuthorization_Workspace(t *testing.T) {
	f := newFixture(t)
	submitter := f.Principal("submitter@example.com")
	_, err := f.Gate().AddPrincipalPolicy(f.s, f.collection, content.ActionAdd, submitter.ID)
	require.NoError(t, err)

	s := f.NewSession(context.Background(), submitter)
	collection, err := f.Collections.Retrieve(s, f.collection.ID())
	require.NoError(t, err)
	wsi, err := f.WorkspaceItems.Create(s, collection, false)
	require.NoError(t, err)
	assert.Equal(t, submitter.ID, wsi.Item.SubmitterID)
	assert.False(t, wsi.Item.InArchive)

	// The submitter may edit the submission.
	wsi.Item.AddMetadata(content.DefaultSchema, "title", "", "", "Draft")
	require.NoError(t, f.WorkspaceItems.Update(s, wsi))

	mine, err := f.WorkspaceItems.BySubmitter(f.fresh(), submitter.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, wsi.ID, mine[0].ID)

	// Someone else may not abandon it.
	stranger := f.NewSession(context.Background(), f.Principal("stranger@example.com"))
	other, err := f.WorkspaceItems.Retrieve(stranger, wsi.ID)
	require.NoError(t, err)
	err = f.WorkspaceItems.DeleteAll(stranger, other)
	assert.True(t, rErrors.Is(err, rErrors.AuthorizationDenied), "got %v", err)

	require.NoError(t, f.WorkspaceItems.DeleteAll(s, wsi))
	gone, err := f.WorkspaceItems.Retrieve(f.fresh(), wsi.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	item, err := f.Items.Retrieve(f.fresh(), wsi.ItemID)
	require.NoError(t, err)
	assert.Nil(t, item)
}
