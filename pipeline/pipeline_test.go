package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
	"github.com/JiscSD/rdss-repository-core/storage/memstore"
)

func newBundle() *content.Bundle { return &content.Bundle{} }

// tracer records the operations it sees before forwarding them.
type tracer struct {
	Forward[*content.Bundle]
	name string
	log  *[]string
}

func (t *tracer) Update(s *session.Session, o *content.Bundle) error {
	*t.log = append(*t.log, t.name)
	return t.Next.Update(s, o)
}

func tracerFactory(name string, log *[]string) StageFactory[*content.Bundle] {
	return func(env Env, next Stage[*content.Bundle]) (Stage[*content.Bundle], error) {
		return &tracer{Forward: Forward[*content.Bundle]{Next: next}, name: name, log: log}, nil
	}
}

func env(store storage.Store) Env {
	logger, _ := test.NewNullLogger()
	return Env{Logger: logger, Store: store, Type: content.TypeBundle}
}

func TestBuild_NeedsTwoStages(t *testing.T) {
	_, err := Build(env(memstore.New()), StoreFactory(newBundle))
	assert.True(t, rErrors.Is(err, rErrors.Configuration))

	_, err = Build[*content.Bundle](env(memstore.New()))
	assert.True(t, rErrors.Is(err, rErrors.Configuration))
}

func TestBuild_FailingFactory(t *testing.T) {
	var broken StageFactory[*content.Bundle] = func(Env, Stage[*content.Bundle]) (Stage[*content.Bundle], error) {
		return nil, errors.New("no database handle")
	}
	_, err := Build(env(memstore.New()), broken, StoreFactory(newBundle))
	assert.True(t, rErrors.Is(err, rErrors.Configuration))

	// The backing stage refuses to have a successor.
	var log []string
	_, err = Build(env(memstore.New()), StoreFactory(newBundle), tracerFactory("inner", &log))
	assert.True(t, rErrors.Is(err, rErrors.Configuration))
}

func TestBuild_Order(t *testing.T) {
	var log []string
	store := memstore.New()
	chain, err := Build(env(store),
		tracerFactory("outer", &log),
		tracerFactory("plugin", &log),
		StoreFactory(newBundle),
	)
	require.NoError(t, err)

	s := session.New(context.Background(), nil)
	b, err := chain.Create(s)
	require.NoError(t, err)
	assert.Empty(t, store.Writes(), "create only instantiates")

	b.SetID(uuid.New())
	b.Name = content.BundleOriginal
	require.NoError(t, chain.Update(s, b))
	assert.Equal(t, []string{"outer", "plugin"}, log)

	got, err := chain.Retrieve(s, b.ID())
	require.NoError(t, err)
	assert.Equal(t, content.BundleOriginal, got.Name)
	assert.NotSame(t, b, got)

	require.NoError(t, chain.Delete(s, b.ID()))
	got, err = chain.Retrieve(s, b.ID())
	require.NoError(t, err)
	assert.True(t, IsZero(got))
}

func TestStoreStage_Links(t *testing.T) {
	store := memstore.New()
	chain, err := Build(env(store), tracerFactory("outer", new([]string)), StoreFactory(newBundle))
	require.NoError(t, err)
	s := session.New(context.Background(), nil)

	b := &content.Bundle{}
	b.SetID(uuid.New())
	bs := &content.Bitstream{}
	bs.SetID(uuid.New())

	require.NoError(t, chain.Link(s, b, bs))
	ok, err := chain.Linked(s, b, bs)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, chain.Unlink(s, b, bs))
	ok, _ = chain.Linked(s, b, bs)
	assert.False(t, ok)

	c := &content.Community{}
	c.SetID(uuid.New())
	err = chain.Link(s, b, c)
	assert.True(t, rErrors.Is(err, rErrors.InvalidOperation))
}

type brokenStore struct {
	storage.Store
}

func (brokenStore) Get(context.Context, string, uuid.UUID) ([]byte, error) {
	return nil, errors.New("connection reset")
}

func TestStoreStage_WrapsStoreErrors(t *testing.T) {
	chain, err := Build(env(brokenStore{}), tracerFactory("outer", new([]string)), StoreFactory(newBundle))
	require.NoError(t, err)

	_, err = chain.Retrieve(session.New(context.Background(), nil), uuid.New())
	assert.True(t, rErrors.Is(err, rErrors.StorageFailure))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRegistry_PluginSequence(t *testing.T) {
	var log []string
	r := NewRegistry()
	r.Register("trace", content.TypeBundle, tracerFactory("trace", &log))
	r.Register("wrong", content.TypeBundle, "not a factory")
	r.SetSequence(content.TypeBundle, "trace")

	plugins, err := PluginSequence[*content.Bundle](r, content.TypeBundle)
	require.NoError(t, err)
	assert.Empty(t, plugins, "disabled plugins are skipped")

	require.NoError(t, r.Configure(map[string]interface{}{"trace": "true", "wrong": 1}, nil))
	chain, err := Assemble(env(memstore.New()), r, tracerFactory("outer", &log), StoreFactory(newBundle))
	require.NoError(t, err)
	b := &content.Bundle{}
	b.SetID(uuid.New())
	require.NoError(t, chain.Update(session.New(context.Background(), nil), b))
	assert.Equal(t, []string{"outer", "trace"}, log)

	r.SetSequence(content.TypeBundle, "trace", "wrong")
	_, err = PluginSequence[*content.Bundle](r, content.TypeBundle)
	assert.True(t, rErrors.Is(err, rErrors.Configuration))

	r.SetSequence(content.TypeBundle, "missing")
	r.Enable("missing", true)
	_, err = Assemble(env(memstore.New()), r, tracerFactory("outer", &log), StoreFactory(newBundle))
	assert.True(t, rErrors.Is(err, rErrors.Configuration))
}

func TestRegistry_Configure(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Configure(
		map[string]interface{}{"audit": true, "metrics": "false"},
		map[string]interface{}{"item": []interface{}{"audit", "metrics"}},
	))
	assert.True(t, r.Enabled("audit"))
	assert.False(t, r.Enabled("metrics"))

	err := r.Configure(nil, map[string]interface{}{"site": []string{"audit"}})
	assert.True(t, rErrors.Is(err, rErrors.Configuration))

	err = r.Configure(map[string]interface{}{"audit": "maybe"}, nil)
	assert.True(t, rErrors.Is(err, rErrors.Configuration))
}

func TestRegistry_RegisterTwicePanics(t *testing.T) {
	r := NewRegistry()
	r.Register("trace", content.TypeBundle, nil)
	assert.Panics(t, func() { r.Register("trace", content.TypeBundle, nil) })
	assert.Equal(t, []string{"trace"}, r.Plugins())
}

// unencodable is a bundle whose row cannot be encoded.
type unencodable struct {
	content.Bundle
}

func (u *unencodable) MarshalJSON() ([]byte, error) {
	return nil, errors.New("cannot encode")
}

func TestStoreStage_UpdateEncodingFailure(t *testing.T) {
	store := memstore.New()
	st, err := StoreFactory(func() *unencodable { return &unencodable{} })(env(store), nil)
	require.NoError(t, err)

	o := &unencodable{}
	o.SetID(uuid.New())
	err = st.Update(session.New(context.Background(), nil), o)

	assert.True(t, rErrors.Is(err, rErrors.StorageFailure), "got %v", err)
	assert.Empty(t, store.Writes())
}
