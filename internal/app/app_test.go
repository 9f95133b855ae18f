package app

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/kbpicker/internal/config"
	"github.com/tildaslashalef/kbpicker/internal/knowledgebase"
	"github.com/tildaslashalef/kbpicker/internal/knowledgebase/kbtest"
	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"github.com/tildaslashalef/kbpicker/internal/metrics"
	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/stackai"
)

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{values: map[string]string{}}
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memSettings) GetSettings(_ context.Context, prefix string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.values {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memSettings) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memSettings) DeleteSetting(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func newTestApp(t *testing.T) (*App, *kbtest.Remote, *memSettings) {
	t.Helper()
	logger := loggy.NewNoopLogger()

	remote := kbtest.NewRemote()
	remote.AddDir("folder", "/folder")
	remote.AddFile("a", "/folder/a")
	remote.AddDir("c", "/folder/c")
	remote.AddFile("d", "/folder/c/d")
	remote.AddFile("top", "/top")

	cfg := config.New()
	cfg.KnowledgeBase.Name = "Test KB"

	repo := newMemSettings()
	dir := resource.NewDirectory(remote, -1, 0)
	return &App{
		Config:    cfg,
		Settings:  config.NewSettingsServiceWithRepository(repo, cfg, logger),
		Directory: dir,
		Manager:   knowledgebase.NewManager(remote, dir, stackai.DefaultIndexingParams(), "", logger),
		Trigger:   knowledgebase.NewTrigger(remote, "org-1"),
		Metrics:   metrics.New(),
		logger:    logger,
	}, remote, repo
}

func TestResolvePath(t *testing.T) {
	a, remote, _ := newTestApp(t)
	ctx := context.Background()

	r, err := a.Resolve(ctx, "conn-1", "/folder/c/d")
	require.NoError(t, err)
	assert.Equal(t, remote.Resource("d"), r)

	r, err = a.Resolve(ctx, "conn-1", "folder/c/")
	require.NoError(t, err)
	assert.Equal(t, "c", r.ID)
	assert.True(t, r.IsDirectory())

	_, err = a.Resolve(ctx, "conn-1", "/folder/missing")
	assert.ErrorIs(t, err, resource.ErrPathNotFound)

	_, err = a.Resolve(ctx, "conn-1", "/")
	assert.Error(t, err)
}

func TestEngineStateRoundTrip(t *testing.T) {
	a, remote, repo := newTestApp(t)
	ctx := context.Background()

	e, err := a.OpenEngine(ctx)
	require.NoError(t, err)
	assert.Empty(t, e.KnowledgeBaseID())

	require.NoError(t, e.Include(ctx, "conn-1", []resource.Resource{remote.Resource("folder")}))
	require.NoError(t, a.SaveEngineState(ctx, e))
	kbID := repo.values[config.KeyKnowledgeBase]
	require.NotEmpty(t, kbID)
	assert.Equal(t, "conn-1", repo.values[config.KeyConnectionID])

	// a fresh engine picks the knowledge base and its members back up
	reopened, err := a.OpenEngine(ctx)
	require.NoError(t, err)
	assert.Equal(t, kbID, reopened.KnowledgeBaseID())
	assert.Equal(t, []string{"folder"}, reopened.Members())

	require.NoError(t, reopened.Forget(ctx))
	require.NoError(t, a.SaveEngineState(ctx, reopened))
	assert.Empty(t, repo.values[config.KeyKnowledgeBase])
	assert.Equal(t, "conn-1", repo.values[config.KeyConnectionID], "connection id survives forget")
}

func TestKnowledgeBaseName(t *testing.T) {
	a, _, _ := newTestApp(t)
	assert.Equal(t, "Test KB", a.KnowledgeBaseName())

	a.Config.KnowledgeBase.Name = ""
	assert.NotEmpty(t, a.KnowledgeBaseName())
}
