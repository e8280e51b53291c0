// Package testutil builds repositories for tests: an in-memory backing
// store with a write log, a static group directory, a handle provider and a
// file asset store on a memory filesystem.
package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"

	"github.com/JiscSD/rdss-repository-core/authz"
	"github.com/JiscSD/rdss-repository-core/bitstore"
	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/dao"
	"github.com/JiscSD/rdss-repository-core/identifier"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage/memstore"
)

// HandlePrefix is the prefix of the handles minted by test repositories.
const HandlePrefix = "123456789"

// AssetRoot is where the asset store keeps content on Fs.
const AssetRoot = "/assetstore"

// Repository is a dao.Repository with its collaborators exposed.
type Repository struct {
	*dao.Repository
	Store     *memstore.Store
	Directory *authz.StaticDirectory
	Fs        afero.Fs
	Hook      *test.Hook
	Admin     *content.Principal
}

// Option changes the configuration of a test repository.
type Option func(*dao.Config)

// WithPlugins assembles the pipelines with the plugins of r.
func WithPlugins(r *pipeline.Registry, options map[string]map[string]interface{}) Option {
	return func(c *dao.Config) {
		c.Plugins = r
		c.PluginOptions = options
	}
}

// NewRepository returns an empty repository with one administrator. The
// write log of the store is reset once the registries are seeded.
func NewRepository(t *testing.T, opts ...Option) *Repository {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store := memstore.New()
	directory := authz.NewStaticDirectory()
	fs := afero.NewMemMapFs()
	assets := bitstore.NewManager(logger, 0)
	assets.Register(0, bitstore.NewFileStore(fs, AssetRoot))

	config := dao.Config{
		Store:     store,
		Directory: directory,
		Assets:    assets,
		Providers: []identifier.Provider{identifier.NewHandleProvider(store, HandlePrefix)},
		Plugins:   pipeline.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&config)
	}

	repo, err := dao.New(context.Background(), logger, config)
	if err != nil {
		t.Fatalf("error creating repository: %v", err)
	}

	admin := &content.Principal{ID: uuid.New(), Email: "admin@example.com"}
	directory.AddMember(content.AdministratorGroup.ID, admin.ID)
	store.ResetWrites()

	return &Repository{
		Repository: repo,
		Store:      store,
		Directory:  directory,
		Fs:         fs,
		Hook:       hook,
		Admin:      admin,
	}
}

// AdminSession starts a session acting as the administrator.
func (r *Repository) AdminSession() *session.Session {
	return r.NewSession(context.Background(), r.Admin)
}

// Principal returns a new principal belonging to groups.
func (r *Repository) Principal(email string, groups ...uuid.UUID) *content.Principal {
	p := &content.Principal{ID: uuid.New(), Email: email}
	for _, g := range groups {
		r.Directory.AddMember(g, p.ID)
	}
	return p
}
