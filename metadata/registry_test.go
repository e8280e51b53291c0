package metadata

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage/memstore"
)

// adminOnly lets sessions with a principal through.
type adminOnly struct{}

func (adminOnly) AuthorizeAdmin(s *session.Session) error {
	if s.IgnoreAuthorization() || s.Principal() != nil {
		return nil
	}
	return rErrors.New(rErrors.AuthorizationDenied, "administrator required")
}

func setup(t *testing.T) (*Registry, *Values, *memstore.Store, *session.Session) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memstore.New()
	registry := NewRegistry(logger, store, adminOnly{})
	s := session.New(context.Background(), &content.Principal{ID: uuid.New()})
	require.NoError(t, registry.EnsureDefaults(s))
	return registry, NewValues(logger, store, registry), store, s
}

func TestRegistry_Defaults(t *testing.T) {
	registry, _, _, s := setup(t)

	dc, err := registry.Schema(s, "dc")
	require.NoError(t, err)
	require.NotNil(t, dc)
	assert.Equal(t, DublinCoreNamespace, dc.Namespace)

	f, err := registry.Field(s, "dc", "contributor", "author")
	require.NoError(t, err)
	assert.NotNil(t, f)

	fields, err := registry.FieldsOf(s, dc)
	require.NoError(t, err)
	assert.Len(t, fields, len(defaultFields))

	// Idempotent.
	require.NoError(t, registry.EnsureDefaults(s))
	fields, _ = registry.FieldsOf(s, dc)
	assert.Len(t, fields, len(defaultFields))
}

func TestRegistry_ReloadsFromStore(t *testing.T) {
	registry, _, store, s := setup(t)
	logger, _ := test.NewNullLogger()

	fresh := NewRegistry(logger, store, adminOnly{})
	f, err := fresh.Field(s, "dc", "title", "")
	require.NoError(t, err)
	want, _ := registry.Field(s, "dc", "title", "")
	assert.Equal(t, want, f)
}

func TestRegistry_Uniqueness(t *testing.T) {
	registry, _, store, s := setup(t)
	store.ResetWrites()

	err := registry.CreateSchema(s, &content.MetadataSchema{Name: "dc", Namespace: "http://example.org/"})
	assert.True(t, rErrors.Is(err, rErrors.NonUniqueMetadata))
	err = registry.CreateSchema(s, &content.MetadataSchema{Name: "other", Namespace: DublinCoreNamespace})
	assert.True(t, rErrors.Is(err, rErrors.NonUniqueMetadata))

	dc, _ := registry.Schema(s, "dc")
	err = registry.CreateField(s, &content.MetadataField{SchemaID: dc.ID, Element: "title"})
	assert.True(t, rErrors.Is(err, rErrors.NonUniqueMetadata))
	assert.Empty(t, store.Writes())

	local := &content.MetadataSchema{Name: "local", Namespace: "http://example.org/local/"}
	require.NoError(t, registry.CreateSchema(s, local))
	require.NoError(t, registry.CreateField(s, &content.MetadataField{SchemaID: local.ID, Element: "title"}))

	f, _ := registry.Field(s, "dc", "title", "alternative")
	f.Qualifier = ""
	err = registry.UpdateField(s, f)
	assert.True(t, rErrors.Is(err, rErrors.NonUniqueMetadata))
}

func TestRegistry_AdminOnly(t *testing.T) {
	registry, _, _, _ := setup(t)
	anonymous := session.New(context.Background(), nil)

	err := registry.CreateSchema(anonymous, &content.MetadataSchema{Name: "x", Namespace: "x"})
	assert.True(t, rErrors.Is(err, rErrors.AuthorizationDenied))
}

func TestRegistry_DeleteInUse(t *testing.T) {
	registry, values, _, s := setup(t)
	dc, _ := registry.Schema(s, "dc")

	err := registry.DeleteSchema(s, dc)
	assert.True(t, rErrors.Is(err, rErrors.InvalidOperation))

	item := &content.Item{}
	item.SetID(uuid.New())
	item.AddMetadata("dc", "subject", "", "", "Physics")
	_, err = values.Sync(s, item)
	require.NoError(t, err)

	subject, _ := registry.Field(s, "dc", "subject", "")
	err = registry.DeleteField(s, subject)
	assert.True(t, rErrors.Is(err, rErrors.InvalidOperation))

	rights, _ := registry.Field(s, "dc", "rights", "")
	require.NoError(t, registry.DeleteField(s, rights))
	gone, err := registry.Field(s, "dc", "rights", "")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestValues_Sync(t *testing.T) {
	_, values, _, s := setup(t)
	item := &content.Item{}
	item.SetID(uuid.New())
	item.AddMetadata("dc", "title", "", "en", "A", "B")

	changed, err := values.Sync(s, item)
	require.NoError(t, err)
	assert.True(t, changed)

	item.SetMetadataValues(nil)
	item.AddMetadata("dc", "title", "", "en", "B")
	_, err = values.Sync(s, item)
	require.NoError(t, err)

	stored, err := values.Persisted(s, item.ID())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "B", stored[0].Value)
	assert.Equal(t, 1, stored[0].Place)

	changed, err = values.Sync(s, item)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, values.DeleteAll(s, item.ID()))
	require.NoError(t, values.Load(s, item))
	assert.Empty(t, item.MetadataValues())
}
