package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage/memstore"
)

func chain(t *testing.T, options map[string]interface{}) (pipeline.Stage[*content.Item], *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	r := pipeline.NewRegistry()
	r.Register(Name, content.TypeItem, pipeline.StageFactory[*content.Item](New[*content.Item]))
	r.Enable(Name, true)
	r.SetSequence(content.TypeItem, Name)

	env := pipeline.Env{
		Logger:  logger,
		Store:   memstore.New(),
		Type:    content.TypeItem,
		Options: map[string]map[string]interface{}{Name: options},
	}
	var outer pipeline.StageFactory[*content.Item] = func(env pipeline.Env, next pipeline.Stage[*content.Item]) (pipeline.Stage[*content.Item], error) {
		return pipeline.Forward[*content.Item]{Next: next}, nil
	}
	c, err := pipeline.Assemble(env, r, outer, pipeline.StoreFactory(func() *content.Item { return &content.Item{} }))
	require.NoError(t, err)
	return c, hook
}

func TestStage_LogsMutations(t *testing.T) {
	c, hook := chain(t, nil)
	p := &content.Principal{ID: uuid.New()}
	s := session.New(context.Background(), p)

	item, err := c.Create(s)
	require.NoError(t, err)
	item.SetID(uuid.New())
	require.NoError(t, c.Update(s, item))
	_, err = c.Retrieve(s, item.ID())
	require.NoError(t, err)
	require.NoError(t, c.Delete(s, item.ID()))

	require.Len(t, hook.Entries, 3)
	entry := hook.Entries[1]
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "update", entry.Data["op"])
	assert.Equal(t, item.ID(), entry.Data["id"])
	assert.Equal(t, p.ID, entry.Data["principal"])
	assert.Equal(t, "item", entry.Data["type"])
}

func TestStage_Reads(t *testing.T) {
	c, hook := chain(t, map[string]interface{}{"reads": "yes"})
	s := session.New(context.Background(), nil)

	_, err := c.Retrieve(s, uuid.New())
	require.NoError(t, err)

	assert.Len(t, hook.Entries, 0, `"yes" is not a bool for cast`)

	c, hook = chain(t, map[string]interface{}{"reads": "true"})
	_, err = c.Retrieve(s, uuid.New())
	require.NoError(t, err)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "retrieve", hook.LastEntry().Data["op"])
}

func TestStage_LogsFailures(t *testing.T) {
	c, hook := chain(t, nil)
	s := session.New(context.Background(), nil)
	item := &content.Item{}
	item.SetID(uuid.New())
	community := &content.Community{}
	community.SetID(uuid.New())

	assert.Error(t, c.Link(s, item, community))
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRegisteredForEveryType(t *testing.T) {
	pipeline.DefaultRegistry.Enable(Name, true)
	defer pipeline.DefaultRegistry.Enable(Name, false)
	pipeline.DefaultRegistry.SetSequence(content.TypeBitstream, Name)
	defer pipeline.DefaultRegistry.SetSequence(content.TypeBitstream)

	plugins, err := pipeline.PluginSequence[*content.Bitstream](pipeline.DefaultRegistry, content.TypeBitstream)
	require.NoError(t, err)
	assert.Len(t, plugins, 1)
}
