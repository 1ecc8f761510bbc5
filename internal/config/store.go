package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"aegis/internal/async"
	"aegis/internal/logging"
)

// DefaultFileName is the config document created under the user's home
// directory when no explicit path is given.
const DefaultFileName = ".aegis-config.json"

type storeOptions struct {
	path    string
	homeDir func() (string, error)
}

// Option customizes store construction, mainly for tests.
type Option func(*storeOptions)

// WithPath pins the store to an explicit file path.
func WithPath(path string) Option {
	return func(o *storeOptions) { o.path = path }
}

// WithHomeDir overrides home-directory resolution.
func WithHomeDir(fn func() (string, error)) Option {
	return func(o *storeOptions) { o.homeDir = fn }
}

// Store is a JSON file-backed persisted config store. All reads go through
// an in-memory copy; every mutation rewrites the file atomically.
type Store struct {
	path   string
	logger logging.Logger

	mu   sync.RWMutex
	data File
}

// NewStore opens (or initializes) the config document.
func NewStore(logger logging.Logger, opts ...Option) (*Store, error) {
	options := storeOptions{homeDir: os.UserHomeDir}
	for _, opt := range opts {
		opt(&options)
	}

	path := options.path
	if path == "" {
		home, err := options.homeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, DefaultFileName)
	}

	s := &Store{path: path, logger: logging.OrNop(logger)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.data = File{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var parsed File
	if len(data) > 0 {
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	}

	s.mu.Lock()
	s.data = parsed
	s.mu.Unlock()
	return nil
}

// flushLocked writes the current document atomically: full temp-file write,
// then rename. Caller holds s.mu.
func (s *Store) flushLocked() error {
	encoded, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	encoded = append(encoded, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

// Settings returns a copy of the persisted settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Settings
}

// SetSettings persists new settings.
func (s *Store) SetSettings(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.data.Settings
	s.data.Settings = settings
	if err := s.flushLocked(); err != nil {
		s.data.Settings = previous
		return err
	}
	return nil
}

// Servers returns a copy of the persisted server list.
func (s *Store) Servers() []ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	servers := make([]ServerConfig, len(s.data.Servers))
	copy(servers, s.data.Servers)
	return servers
}

// Server returns the named server config.
func (s *Store) Server(name string) (ServerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, server := range s.data.Servers {
		if server.Name == name {
			return server, true
		}
	}
	return ServerConfig{}, false
}

// UpsertServer adds or replaces a server config by name and persists.
func (s *Store) UpsertServer(server ServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.snapshotServersLocked()
	replaced := false
	for i := range s.data.Servers {
		if s.data.Servers[i].Name == server.Name {
			s.data.Servers[i] = server
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Servers = append(s.data.Servers, server)
	}

	if err := s.flushLocked(); err != nil {
		s.data.Servers = previous
		return err
	}
	return nil
}

// RemoveServer deletes a server config by name and persists. Removing an
// unknown name is a no-op.
func (s *Store) RemoveServer(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.snapshotServersLocked()
	filtered := s.data.Servers[:0]
	for _, server := range s.data.Servers {
		if server.Name != name {
			filtered = append(filtered, server)
		}
	}
	if len(filtered) == len(previous) {
		s.data.Servers = previous
		return nil
	}
	s.data.Servers = filtered

	if err := s.flushLocked(); err != nil {
		s.data.Servers = previous
		return err
	}
	return nil
}

// SetServerEnabled flips the enable flag for a named server and persists.
func (s *Store) SetServerEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.snapshotServersLocked()
	found := false
	for i := range s.data.Servers {
		if s.data.Servers[i].Name == name {
			s.data.Servers[i].Enabled = enabled
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("server not found: %s", name)
	}

	if err := s.flushLocked(); err != nil {
		s.data.Servers = previous
		return err
	}
	return nil
}

func (s *Store) snapshotServersLocked() []ServerConfig {
	servers := make([]ServerConfig, len(s.data.Servers))
	copy(servers, s.data.Servers)
	return servers
}

// Watch reloads the in-memory copy when the backing file changes on disk,
// until ctx is cancelled. External edits become visible without a restart.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	async.Go(s.logger, "config.watch", func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
					continue
				}
				if err := s.reload(); err != nil {
					s.logger.Warn("config reload failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watcher error: %v", err)
			}
		}
	})
	return nil
}
