package dao

import (
	"context"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/JiscSD/rdss-repository-core/authz"
	"github.com/JiscSD/rdss-repository-core/bitstore"
	"github.com/JiscSD/rdss-repository-core/cascade"
	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/events"
	"github.com/JiscSD/rdss-repository-core/identifier"
	"github.com/JiscSD/rdss-repository-core/metadata"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// Config holds the collaborators of a Repository. Store is required.
type Config struct {
	Store storage.Store

	// Directory resolves group memberships. Defaults to an empty static
	// directory.
	Directory authz.Directory

	// Assets holds bitstream content. Without it bitstreams cannot be
	// created or opened.
	Assets *bitstore.Manager

	// Providers issue external identifiers.
	Providers []identifier.Provider

	// Publisher receives the events of committed sessions. May be nil.
	Publisher events.Publisher

	// Plugins is the plugin registry. Defaults to pipeline.DefaultRegistry.
	Plugins       *pipeline.Registry
	PluginOptions map[string]map[string]interface{}
	Registerer    prometheus.Registerer
}

// Repository wires the core components and exposes the DAOs.
type Repository struct {
	logger     logrus.FieldLogger
	store      storage.Store
	gate       *authz.Gate
	minter     *identifier.Minter
	registry   *metadata.Registry
	values     *metadata.Values
	cascade    *cascade.Manager
	assets     *bitstore.Manager
	dispatcher *events.Dispatcher

	Communities    *CommunityDAO
	Collections    *CollectionDAO
	Items          *ItemDAO
	Bundles        *BundleDAO
	Bitstreams     *BitstreamDAO
	Formats        *FormatDAO
	WorkspaceItems *WorkspaceItemDAO
}

// New builds the pipelines and seeds the metadata and format registries.
// Pipeline construction errors are of kind Configuration.
func New(ctx context.Context, logger logrus.FieldLogger, config Config) (*Repository, error) {
	if config.Store == nil {
		return nil, rErrors.New(rErrors.Configuration, "no backing store")
	}
	if config.Directory == nil {
		config.Directory = authz.NewStaticDirectory()
	}
	if config.Plugins == nil {
		config.Plugins = pipeline.DefaultRegistry
	}

	r := &Repository{
		logger:     logger.WithField("component", "repository"),
		store:      config.Store,
		assets:     config.Assets,
		dispatcher: events.NewDispatcher(logger, config.Publisher),
	}
	r.gate = authz.New(logger, config.Store, config.Directory)
	r.gate.SetContainerResolver(r)
	r.minter = identifier.New(logger, config.Providers...)
	r.registry = metadata.NewRegistry(logger, config.Store, r.gate)
	r.values = metadata.NewValues(logger, config.Store, r.registry)
	r.cascade = cascade.New(logger, config.Store, r.gate, r)

	env := func(t content.Type) pipeline.Env {
		return pipeline.Env{
			Logger:     logger,
			Store:      config.Store,
			Type:       t,
			Registerer: config.Registerer,
			Options:    config.PluginOptions,
		}
	}
	var err error
	communities := &DAO[*content.Community]{r: r}
	if communities.chain, err = pipeline.Assemble(env(content.TypeCommunity), config.Plugins,
		coreFactory(r, r.communityRules(), &communities.core),
		pipeline.StoreFactory(func() *content.Community { return &content.Community{} })); err != nil {
		return nil, err
	}
	collections := &DAO[*content.Collection]{r: r}
	if collections.chain, err = pipeline.Assemble(env(content.TypeCollection), config.Plugins,
		coreFactory(r, r.collectionRules(), &collections.core),
		pipeline.StoreFactory(func() *content.Collection { return &content.Collection{} })); err != nil {
		return nil, err
	}
	items := &DAO[*content.Item]{r: r}
	if items.chain, err = pipeline.Assemble(env(content.TypeItem), config.Plugins,
		coreFactory(r, r.itemRules(), &items.core),
		pipeline.StoreFactory(func() *content.Item { return &content.Item{} })); err != nil {
		return nil, err
	}
	bundles := &DAO[*content.Bundle]{r: r}
	if bundles.chain, err = pipeline.Assemble(env(content.TypeBundle), config.Plugins,
		coreFactory(r, r.bundleRules(), &bundles.core),
		pipeline.StoreFactory(func() *content.Bundle { return &content.Bundle{} })); err != nil {
		return nil, err
	}
	bitstreams := &DAO[*content.Bitstream]{r: r}
	if bitstreams.chain, err = pipeline.Assemble(env(content.TypeBitstream), config.Plugins,
		coreFactory(r, r.bitstreamRules(), &bitstreams.core),
		pipeline.StoreFactory(func() *content.Bitstream {
			return &content.Bitstream{SequenceID: content.UnsetSequenceID}
		})); err != nil {
		return nil, err
	}
	r.Communities = &CommunityDAO{communities}
	r.Collections = &CollectionDAO{collections}
	r.Items = &ItemDAO{items}
	r.Bundles = &BundleDAO{bundles}
	r.Bitstreams = &BitstreamDAO{bitstreams}
	r.Formats = &FormatDAO{r: r}
	r.WorkspaceItems = &WorkspaceItemDAO{r: r}

	s := session.New(ctx, nil)
	defer s.Close()
	s.TurnOffAuthorization()
	defer s.RestoreAuthorization()
	if err := r.registry.EnsureDefaults(s); err != nil {
		return nil, err
	}
	if _, err := r.Formats.ensureUnknown(s); err != nil {
		return nil, err
	}
	return r, nil
}

// Metadata returns the schema and field registry.
func (r *Repository) Metadata() *metadata.Registry {
	return r.registry
}

// Gate returns the authorization gate, for policy administration.
func (r *Repository) Gate() *authz.Gate {
	return r.gate
}

// Subscribe registers an in-process handler for committed events.
func (r *Repository) Subscribe(t events.Type, h events.Handler) {
	r.dispatcher.Subscribe(t, h)
}

// NewSession starts a unit of work acting as principal.
func (r *Repository) NewSession(ctx context.Context, principal *content.Principal) *session.Session {
	return session.New(ctx, principal)
}

// Commit delivers the events buffered by s and closes it. The session is
// closed even when delivery fails.
func (r *Repository) Commit(s *session.Session) error {
	defer s.Close()
	evts := s.Events()
	s.DropEvents()
	if len(evts) == 0 {
		return nil
	}
	r.logger.WithField("events", len(evts)).Debug("Dispatching events")
	return r.dispatcher.Dispatch(s.Context(), evts)
}

// Abort revokes the transient grants made during s, drops its events and
// closes it. The writes already applied are the backing store's business.
func (r *Repository) Abort(s *session.Session) error {
	defer s.Close()
	s.DropEvents()
	grants := s.Grants()
	if len(grants) == 0 {
		return nil
	}
	r.logger.WithField("grants", len(grants)).Debug("Revoking transient grants")
	return r.gate.Revoke(s, grants)
}

// Resolve returns the object holding an external identifier.
func (r *Repository) Resolve(s *session.Session, id string) (content.Object, error) {
	t, oid, err := r.minter.Resolve(s, id)
	if err != nil {
		return nil, err
	}
	o, err := r.RetrieveObject(s, t, oid)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, rErrors.Errorf(rErrors.NotFound, "%s %s of identifier %s", t, oid, id)
	}
	return o, nil
}

// RetrieveObject retrieves an object of any type. It returns nil when the
// object does not exist.
func (r *Repository) RetrieveObject(s *session.Session, t content.Type, id uuid.UUID) (content.Object, error) {
	var (
		o   content.Object
		err error
	)
	switch t {
	case content.TypeCommunity:
		o, err = nilIfZero(r.Communities.Retrieve(s, id))
	case content.TypeCollection:
		o, err = nilIfZero(r.Collections.Retrieve(s, id))
	case content.TypeItem:
		o, err = nilIfZero(r.Items.Retrieve(s, id))
	case content.TypeBundle:
		o, err = nilIfZero(r.Bundles.Retrieve(s, id))
	case content.TypeBitstream:
		o, err = nilIfZero(r.Bitstreams.Retrieve(s, id))
	default:
		return nil, rErrors.Errorf(rErrors.InvalidOperation, "unknown object type %d", t)
	}
	return o, err
}

// nilIfZero turns a typed nil pointer into a nil interface.
func nilIfZero[T pipeline.Object](o T, err error) (content.Object, error) {
	if err != nil || pipeline.IsZero(o) {
		return nil, err
	}
	return o, nil
}

// DeleteObject deletes o through the pipeline of its type. The cascade
// manager uses it to delete orphans.
func (r *Repository) DeleteObject(s *session.Session, o content.Object) error {
	switch o := o.(type) {
	case *content.Community:
		return r.Communities.core.delete(s, o)
	case *content.Collection:
		return r.Collections.core.delete(s, o)
	case *content.Item:
		return r.Items.core.delete(s, o)
	case *content.Bundle:
		return r.Bundles.core.delete(s, o)
	case *content.Bitstream:
		return r.Bitstreams.core.delete(s, o)
	}
	return rErrors.Errorf(rErrors.InvalidOperation, "cannot delete a %s", o.Type())
}

// Containers returns the objects directly containing o. Items list their
// owning collection first.
func (r *Repository) Containers(s *session.Session, o content.Object) ([]content.Object, error) {
	var out []content.Object
	switch o := o.(type) {
	case *content.Community:
		parents, err := r.Communities.parents(s, o)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			out = append(out, p)
		}
	case *content.Collection:
		parents, err := r.Communities.parents(s, o)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			out = append(out, p)
		}
	case *content.Item:
		parents, err := r.Items.Collections(s, o)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			out = append(out, p)
		}
	case *content.Bundle:
		parents, err := r.Items.parents(s, o)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			out = append(out, p)
		}
	case *content.Bitstream:
		parents, err := r.Bundles.parents(s, o)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			out = append(out, p)
		}
	}
	return out, nil
}
