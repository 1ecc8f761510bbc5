package toolregistry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/config"
	"aegis/internal/errutil"
	"aegis/internal/logging"
	"aegis/internal/mcp"
)

type fakeClient struct {
	tools        []mcp.ToolSchema
	connectErr   error
	listErr      error
	connected    bool
	disconnected bool
}

func (c *fakeClient) Connect(ctx context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeClient) ListTools(ctx context.Context) ([]mcp.ToolSchema, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.tools, nil
}

func (c *fakeClient) Disconnect() error {
	c.connected = false
	c.disconnected = true
	return nil
}

func newTestManager(t *testing.T, client *fakeClient) (*Manager, *Registry, *config.Store) {
	t.Helper()
	store, err := config.NewStore(logging.Nop(), config.WithPath(filepath.Join(t.TempDir(), "config.json")))
	require.NoError(t, err)

	registry := NewRegistry()
	manager := NewManager(registry, store, logging.Nop()).
		WithClientFactory(func(cfg config.ServerConfig, logger logging.Logger) (serverClient, error) {
			return client, nil
		})
	return manager, registry, store
}

func stdioConfig(name string) config.ServerConfig {
	return config.ServerConfig{
		Name:      name,
		Transport: config.TransportStdio,
		Command:   "tool-server",
	}
}

func TestAddServerSuccess(t *testing.T) {
	client := &fakeClient{tools: schemas("fetch", "browse")}
	manager, registry, store := newTestManager(t, client)

	require.NoError(t, manager.AddServer(context.Background(), stdioConfig("web")))

	assert.True(t, client.connected)
	assert.Equal(t, 2, registry.Len())

	persisted, ok := store.Server("web")
	require.True(t, ok)
	assert.True(t, persisted.Enabled)

	status, ok := manager.ServerStatus("web")
	require.True(t, ok)
	assert.True(t, status.Connected)
	assert.Equal(t, 2, status.ToolCount)
}

func TestAddServerConnectFailure(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("spawn failed")}
	manager, registry, store := newTestManager(t, client)

	err := manager.AddServer(context.Background(), stdioConfig("web"))
	require.Error(t, err)
	assert.True(t, errutil.IsConnection(err))

	assert.Equal(t, 0, registry.Len())
	_, ok := store.Server("web")
	assert.False(t, ok)
}

func TestAddServerListFailureDisconnects(t *testing.T) {
	client := &fakeClient{listErr: errors.New("stream closed")}
	manager, registry, store := newTestManager(t, client)

	err := manager.AddServer(context.Background(), stdioConfig("web"))
	require.Error(t, err)
	assert.True(t, errutil.IsConnection(err))

	// The connect compensation ran.
	assert.True(t, client.disconnected)
	assert.Equal(t, 0, registry.Len())
	_, ok := store.Server("web")
	assert.False(t, ok)
}

func TestAddServerConflictLeavesStateUnchanged(t *testing.T) {
	first := &fakeClient{tools: schemas("fetch")}
	manager, registry, store := newTestManager(t, first)
	require.NoError(t, manager.AddServer(context.Background(), stdioConfig("web")))

	second := &fakeClient{tools: schemas("fetch", "search")}
	manager.WithClientFactory(func(cfg config.ServerConfig, logger logging.Logger) (serverClient, error) {
		return second, nil
	})

	err := manager.AddServer(context.Background(), stdioConfig("other"))
	require.Error(t, err)
	assert.True(t, errutil.IsConflict(err))

	// New connection torn down, existing server untouched.
	assert.True(t, second.disconnected)
	assert.True(t, first.connected)
	assert.Equal(t, 1, registry.Len())

	entry, ok := registry.Get("fetch")
	require.True(t, ok)
	assert.Equal(t, "web", entry.ServerName)
	_, ok = store.Server("other")
	assert.False(t, ok)
}

func TestAddServerValidationFailure(t *testing.T) {
	client := &fakeClient{tools: []mcp.ToolSchema{{Name: ""}}}
	manager, registry, _ := newTestManager(t, client)

	err := manager.AddServer(context.Background(), stdioConfig("web"))
	require.Error(t, err)
	assert.True(t, errutil.IsValidation(err))
	assert.True(t, client.disconnected)
	assert.Equal(t, 0, registry.Len())
}

func TestAddServerDuplicateName(t *testing.T) {
	client := &fakeClient{tools: schemas("fetch")}
	manager, _, _ := newTestManager(t, client)
	require.NoError(t, manager.AddServer(context.Background(), stdioConfig("web")))

	err := manager.AddServer(context.Background(), stdioConfig("web"))
	assert.ErrorContains(t, err, "already configured")
}

func TestRemoveServer(t *testing.T) {
	client := &fakeClient{tools: schemas("fetch")}
	manager, registry, store := newTestManager(t, client)
	require.NoError(t, manager.AddServer(context.Background(), stdioConfig("web")))

	require.NoError(t, manager.RemoveServer(context.Background(), "web"))

	assert.True(t, client.disconnected)
	assert.Equal(t, 0, registry.Len())
	_, ok := store.Server("web")
	assert.False(t, ok)

	// Removing again is a no-op.
	require.NoError(t, manager.RemoveServer(context.Background(), "web"))
}

func TestToggleServerDisableAndEnable(t *testing.T) {
	client := &fakeClient{tools: schemas("fetch")}
	manager, registry, store := newTestManager(t, client)
	require.NoError(t, manager.AddServer(context.Background(), stdioConfig("web")))

	require.NoError(t, manager.ToggleServer(context.Background(), "web", false))
	assert.True(t, client.disconnected)
	assert.Equal(t, 0, registry.Len())
	persisted, _ := store.Server("web")
	assert.False(t, persisted.Enabled)

	// Enable reconnects and re-registers.
	fresh := &fakeClient{tools: schemas("fetch")}
	manager.WithClientFactory(func(cfg config.ServerConfig, logger logging.Logger) (serverClient, error) {
		return fresh, nil
	})
	require.NoError(t, manager.ToggleServer(context.Background(), "web", true))
	assert.True(t, fresh.connected)
	assert.Equal(t, 1, registry.Len())
	persisted, _ = store.Server("web")
	assert.True(t, persisted.Enabled)
}

func TestToggleServerEnableFailureReverts(t *testing.T) {
	client := &fakeClient{tools: schemas("fetch")}
	manager, registry, store := newTestManager(t, client)
	require.NoError(t, manager.AddServer(context.Background(), stdioConfig("web")))
	require.NoError(t, manager.ToggleServer(context.Background(), "web", false))

	// Another server claims the name while web is disabled.
	other := &fakeClient{tools: schemas("fetch")}
	manager.WithClientFactory(func(cfg config.ServerConfig, logger logging.Logger) (serverClient, error) {
		return other, nil
	})
	require.NoError(t, manager.AddServer(context.Background(), stdioConfig("rival")))

	// Re-enabling web now collides; everything reverts to the disabled state.
	reconnect := &fakeClient{tools: schemas("fetch")}
	manager.WithClientFactory(func(cfg config.ServerConfig, logger logging.Logger) (serverClient, error) {
		return reconnect, nil
	})
	err := manager.ToggleServer(context.Background(), "web", true)
	require.Error(t, err)
	assert.True(t, errutil.IsConflict(err))

	assert.True(t, reconnect.disconnected)
	persisted, _ := store.Server("web")
	assert.False(t, persisted.Enabled)

	entry, ok := registry.Get("fetch")
	require.True(t, ok)
	assert.Equal(t, "rival", entry.ServerName)
}

func TestToggleServerUnknown(t *testing.T) {
	manager, _, _ := newTestManager(t, &fakeClient{})
	err := manager.ToggleServer(context.Background(), "ghost", true)
	assert.ErrorContains(t, err, "not found")
}

func TestRestoreServersSkipsDisabledAndFailed(t *testing.T) {
	store, err := config.NewStore(logging.Nop(), config.WithPath(filepath.Join(t.TempDir(), "config.json")))
	require.NoError(t, err)
	require.NoError(t, store.UpsertServer(config.ServerConfig{Name: "up", Transport: config.TransportStdio, Command: "x", Enabled: true}))
	require.NoError(t, store.UpsertServer(config.ServerConfig{Name: "off", Transport: config.TransportStdio, Command: "x", Enabled: false}))
	require.NoError(t, store.UpsertServer(config.ServerConfig{Name: "broken", Transport: config.TransportStdio, Command: "x", Enabled: true}))

	clients := map[string]*fakeClient{
		"up":     {tools: schemas("fetch")},
		"broken": {connectErr: errors.New("spawn failed")},
	}
	registry := NewRegistry()
	manager := NewManager(registry, store, logging.Nop()).
		WithClientFactory(func(cfg config.ServerConfig, logger logging.Logger) (serverClient, error) {
			return clients[cfg.Name], nil
		})

	manager.RestoreServers(context.Background())

	assert.Equal(t, 1, registry.Len())
	status, ok := manager.ServerStatus("up")
	require.True(t, ok)
	assert.True(t, status.Connected)
	status, ok = manager.ServerStatus("broken")
	require.True(t, ok)
	assert.False(t, status.Connected)
}

func TestServerStatusTracksLastError(t *testing.T) {
	client := &fakeClient{tools: schemas("fetch")}
	manager, _, _ := newTestManager(t, client)
	require.NoError(t, manager.AddServer(context.Background(), stdioConfig("web")))
	require.NoError(t, manager.ToggleServer(context.Background(), "web", false))

	broken := &fakeClient{connectErr: errors.New("spawn failed")}
	manager.WithClientFactory(func(cfg config.ServerConfig, logger logging.Logger) (serverClient, error) {
		return broken, nil
	})
	require.Error(t, manager.ToggleServer(context.Background(), "web", true))

	status, ok := manager.ServerStatus("web")
	require.True(t, ok)
	assert.Contains(t, status.LastError, "spawn failed")

	// A later success clears the record.
	fresh := &fakeClient{tools: schemas("fetch")}
	manager.WithClientFactory(func(cfg config.ServerConfig, logger logging.Logger) (serverClient, error) {
		return fresh, nil
	})
	require.NoError(t, manager.ToggleServer(context.Background(), "web", true))
	status, _ = manager.ServerStatus("web")
	assert.Empty(t, status.LastError)
}

func TestManagerClose(t *testing.T) {
	client := &fakeClient{tools: schemas("fetch")}
	manager, _, _ := newTestManager(t, client)
	require.NoError(t, manager.AddServer(context.Background(), stdioConfig("web")))

	require.NoError(t, manager.Close())
	assert.True(t, client.disconnected)

	status, _ := manager.ServerStatus("web")
	assert.False(t, status.Connected)
}
