package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/internal/testutil"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/plugin/audit"
	"github.com/JiscSD/rdss-repository-core/storage/memstore"
)

type serverFixture struct {
	repo       *testutil.Repository
	srv        *server
	community  *content.Community
	collection *content.Collection
	item       *content.Item
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	repo := testutil.NewRepository(t)
	s := repo.AdminSession()

	community, err := repo.Communities.Create(s)
	require.NoError(t, err)
	community.AddMetadata(content.DefaultSchema, "title", "", "en", "Research outputs")
	require.NoError(t, repo.Communities.Update(s, community))
	collection, err := repo.Collections.CreateIn(s, community)
	require.NoError(t, err)
	wsi, err := repo.WorkspaceItems.Create(s, collection, false)
	require.NoError(t, err)
	item, err := repo.WorkspaceItems.Archive(s, wsi)
	require.NoError(t, err)
	require.NoError(t, repo.Commit(s))

	logger, _ := test.NewNullLogger()
	return &serverFixture{
		repo:       repo,
		srv:        newServer(logger, repo.Repository, pipeline.NewRegistry(), 0),
		community:  community,
		collection: collection,
		item:       item,
	}
}

func (f *serverFixture) get(path string, query url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path+"?"+query.Encode(), nil)
	rec := httptest.NewRecorder()
	f.srv.handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	f := newServerFixture(t)

	rec := f.get("/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestServer_Lookup(t *testing.T) {
	f := newServerFixture(t)

	rec := f.get("/objects", url.Values{
		"type": {"community"},
		"id":   {f.community.ID().String()},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Type   string `json:"type"`
		Object struct {
			UUID uuid.UUID `json:"uuid"`
		} `json:"object"`
		Metadata []content.MetadataValue `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "community", resp.Type)
	assert.Equal(t, f.community.ID(), resp.Object.UUID)
	require.Len(t, resp.Metadata, 1)
	assert.Equal(t, "Research outputs", resp.Metadata[0].Value)
}

func TestServer_LookupByHandle(t *testing.T) {
	f := newServerFixture(t)

	var handle string
	for _, id := range f.item.ExternalIdentifiers() {
		if strings.HasPrefix(id, testutil.HandlePrefix+"/") {
			handle = id
		}
	}
	require.NotEmpty(t, handle)

	rec := f.get("/objects", url.Values{"handle": {handle}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), f.item.ID().String())
}

func TestServer_LookupErrors(t *testing.T) {
	f := newServerFixture(t)

	tests := []struct {
		name  string
		query url.Values
		code  int
	}{
		{"unknown type", url.Values{"type": {"eperson"}, "id": {uuid.New().String()}}, http.StatusBadRequest},
		{"malformed id", url.Values{"type": {"item"}, "id": {"not-a-uuid"}}, http.StatusBadRequest},
		{"missing", url.Values{"type": {"item"}, "id": {uuid.New().String()}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get("/objects", tt.query)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_LookupMethod(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/objects", nil)
	rec := httptest.NewRecorder()
	f.srv.handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_LookupWithdrawn(t *testing.T) {
	f := newServerFixture(t)
	query := url.Values{
		"type": {"item"},
		"id":   {f.item.ID().String()},
	}
	require.Equal(t, http.StatusOK, f.get("/objects", query).Code)

	s := f.repo.AdminSession()
	item, err := f.repo.Items.Retrieve(s, f.item.ID())
	require.NoError(t, err)
	require.NoError(t, f.repo.Items.Withdraw(s, item))
	require.NoError(t, f.repo.Commit(s))

	assert.Equal(t, http.StatusForbidden, f.get("/objects", query).Code)
}

// dropBitstream stores a bitstream in a new bundle of the item and unlinks
// it, leaving it soft-deleted.
func (f *serverFixture) dropBitstream(t *testing.T) {
	t.Helper()
	s := f.repo.AdminSession()
	bundle, err := f.repo.Items.CreateBundle(s, f.item, content.BundleOriginal)
	require.NoError(t, err)
	bs, err := f.repo.Bundles.CreateBitstream(s, bundle, strings.NewReader("dropped"))
	require.NoError(t, err)
	require.NoError(t, f.repo.Bundles.Unlink(s, bundle, bs))
	require.NoError(t, f.repo.Commit(s))
}

// assetFiles counts the files of the asset store, or returns -1 when it
// cannot be walked.
func (f *serverFixture) assetFiles() int {
	files := 0
	err := afero.Walk(f.repo.Fs, testutil.AssetRoot, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files++
		}
		return err
	})
	if err != nil {
		return -1
	}
	return files
}

func TestServer_Cleanup(t *testing.T) {
	f := newServerFixture(t)
	f.dropBitstream(t)
	require.Equal(t, 1, f.assetFiles())

	n, err := f.srv.cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.assetFiles())

	n, err = f.srv.cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServer_Janitor(t *testing.T) {
	f := newServerFixture(t)
	f.dropBitstream(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.runJanitor(ctx) }()

	// Pending requests do not pile up.
	f.srv.requestCleanup()
	f.srv.requestCleanup()

	assert.Eventually(t, func() bool {
		return f.assetFiles() == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestConfigurePlugins(t *testing.T) {
	plugins := pipeline.NewRegistry()
	plugins.Register(audit.Name, content.TypeItem, pipeline.StageFactory[*content.Item](audit.New[*content.Item]))

	config := &Config{}
	config.Pipeline.PluginsEnabled = []string{audit.Name}
	config.Pipeline.SequenceItem = []string{audit.Name}
	require.NoError(t, configurePlugins(config, plugins))
	assert.True(t, plugins.Enabled(audit.Name))

	config.Pipeline.PluginsEnabled = nil
	require.NoError(t, configurePlugins(config, plugins))
	assert.False(t, plugins.Enabled(audit.Name))

	config.Pipeline.PluginsEnabled = []string{"versioning"}
	err := configurePlugins(config, plugins)
	assert.True(t, rErrors.Is(err, rErrors.Configuration), "got %v", err)
}

func TestNewRepository(t *testing.T) {
	logger, _ := test.NewNullLogger()
	config := &Config{}
	config.Storage.Backend = backendMemory
	config.Identifier.HandlePrefix = "123456789"
	config.Identifier.Types = []string{"community"}

	repo, err := newRepository(logger, config, memstore.New(), pipeline.NewRegistry(), nil)
	require.NoError(t, err)

	s := repo.NewSession(context.Background(), nil)
	s.TurnOffAuthorization()
	community, err := repo.Communities.Create(s)
	require.NoError(t, err)
	require.Len(t, community.ExternalIdentifiers(), 1)
	assert.True(t, strings.HasPrefix(community.ExternalIdentifiers()[0], "123456789/"))

	config.Identifier.Types = []string{"eperson"}
	_, err = newRepository(logger, config, memstore.New(), pipeline.NewRegistry(), nil)
	assert.True(t, rErrors.Is(err, rErrors.Configuration), "got %v", err)
}
