package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(nil, WithPath(filepath.Join(t.TempDir(), "config.json")))
	require.NoError(t, err)
	return store
}

func TestStoreStartsEmptyWithoutFile(t *testing.T) {
	store := newTestStore(t)
	assert.False(t, store.Settings().AlwaysApproveTools)
	assert.Empty(t, store.Servers())
}

func TestSetSettingsPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store, err := NewStore(nil, WithPath(path))
	require.NoError(t, err)

	require.NoError(t, store.SetSettings(Settings{AlwaysApproveTools: true, WorkingDirectory: "/work"}))

	reopened, err := NewStore(nil, WithPath(path))
	require.NoError(t, err)
	assert.True(t, reopened.Settings().AlwaysApproveTools)
	assert.Equal(t, "/work", reopened.Settings().WorkingDirectory)
}

func TestUpsertServerReplacesByName(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertServer(ServerConfig{Name: "files", Transport: TransportStdio, Command: "files-server"}))
	require.NoError(t, store.UpsertServer(ServerConfig{Name: "files", Transport: TransportStdio, Command: "files-server-v2", Enabled: true}))

	servers := store.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, "files-server-v2", servers[0].Command)
	assert.True(t, servers[0].Enabled)
}

func TestRemoveServer(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertServer(ServerConfig{Name: "a", Transport: TransportStdio}))
	require.NoError(t, store.UpsertServer(ServerConfig{Name: "b", Transport: TransportSSE, URL: "http://localhost:1234/sse"}))

	require.NoError(t, store.RemoveServer("a"))

	servers := store.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, "b", servers[0].Name)

	// Removing an unknown name is a no-op.
	require.NoError(t, store.RemoveServer("ghost"))
}

func TestSetServerEnabledUnknownName(t *testing.T) {
	store := newTestStore(t)
	err := store.SetServerEnabled("ghost", true)
	require.Error(t, err)
}

func TestStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewStore(nil, WithPath(path))
	require.Error(t, err)
}

func TestWriteIsAtomic(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetSettings(Settings{AlwaysApproveTools: true}))

	// No temp file left behind after a successful flush.
	_, err := os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
