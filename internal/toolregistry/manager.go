package toolregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"aegis/internal/config"
	"aegis/internal/errutil"
	"aegis/internal/logging"
	"aegis/internal/mcp"
)

// serverClient is the slice of mcp.Client the manager drives. Narrowed to an
// interface so tests can run the saga without a live transport.
type serverClient interface {
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]mcp.ToolSchema, error)
	Disconnect() error
}

// ClientFactory builds a client for one server config.
type ClientFactory func(cfg config.ServerConfig, logger logging.Logger) (serverClient, error)

func defaultClientFactory(cfg config.ServerConfig, logger logging.Logger) (serverClient, error) {
	var transport mcp.Transport
	switch cfg.Transport {
	case config.TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio server %q has no command", cfg.Name)
		}
		transport = mcp.NewStdioTransport(mcp.StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
		}, logger)
	case config.TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("sse server %q has no url", cfg.Name)
		}
		transport = mcp.NewSSETransport(mcp.SSEConfig{URL: cfg.URL}, logger)
	default:
		return nil, fmt.Errorf("server %q has unknown transport %q", cfg.Name, cfg.Transport)
	}
	return mcp.NewClient(cfg.Name, transport, logger), nil
}

// ServerStatus is the operator-facing view of one configured server.
type ServerStatus struct {
	Name      string           `json:"name"`
	Transport config.Transport `json:"transport"`
	Enabled   bool             `json:"enabled"`
	Connected bool             `json:"connected"`
	ToolCount int              `json:"tool_count"`
	Tools     []string         `json:"tools,omitempty"`
	LastError string           `json:"last_error,omitempty"`
}

// Manager owns the lifecycle of external tool servers: connect, validate,
// register, persist. Every mutation either completes fully or is compensated
// back to the previous state.
type Manager struct {
	registry *Registry
	store    *config.Store
	factory  ClientFactory
	logger   logging.Logger

	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	clients    map[string]serverClient
	lastErrors map[string]string
}

func NewManager(registry *Registry, store *config.Store, logger logging.Logger) *Manager {
	return &Manager{
		registry:   registry,
		store:      store,
		factory:    defaultClientFactory,
		logger:     logging.OrNop(logger),
		locks:      make(map[string]*sync.Mutex),
		clients:    make(map[string]serverClient),
		lastErrors: make(map[string]string),
	}
}

// WithClientFactory overrides how clients are built. Test hook.
func (m *Manager) WithClientFactory(factory ClientFactory) *Manager {
	m.factory = factory
	return m
}

// serverLock returns the per-server mutex, creating it on first use.
// Operations on different servers proceed concurrently; operations on the
// same server serialize.
func (m *Manager) serverLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[name] = lock
	}
	return lock
}

func (m *Manager) setClient(name string, client serverClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if client == nil {
		delete(m.clients, name)
		return
	}
	m.clients[name] = client
}

func (m *Manager) client(name string) (serverClient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[name]
	return client, ok
}

// noteOutcome records the last operation error for status reporting. A nil
// err clears the record.
func (m *Manager) noteOutcome(name string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.lastErrors, name)
	} else {
		m.lastErrors[name] = err.Error()
	}
	return err
}

func (m *Manager) lastError(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErrors[name]
}

// AddServer runs the full onboarding saga for a new server:
//
//	connect -> list -> validate -> register -> persist
//
// A failure at any step runs the compensations for the steps already
// completed, in reverse order, before the error returns. On success the
// server is connected, its tools are registered, and its config is persisted
// with Enabled set.
func (m *Manager) AddServer(ctx context.Context, cfg config.ServerConfig) error {
	if cfg.Name == "" {
		return &errutil.ValidationError{Field: "name", Err: fmt.Errorf("server name is required")}
	}
	return m.noteOutcome(cfg.Name, m.addServer(ctx, cfg))
}

func (m *Manager) addServer(ctx context.Context, cfg config.ServerConfig) error {
	lock := m.serverLock(cfg.Name)
	lock.Lock()
	defer lock.Unlock()

	if _, exists := m.store.Server(cfg.Name); exists {
		return fmt.Errorf("server already configured: %s", cfg.Name)
	}

	cfg.Enabled = true
	saga := newSaga(m.logger, cfg.Name)

	// connect
	client, err := m.factory(cfg, m.logger)
	if err != nil {
		return &errutil.ConnectionError{ServerName: cfg.Name, Stage: "connect", Err: err}
	}
	if err := client.Connect(ctx); err != nil {
		return &errutil.ConnectionError{ServerName: cfg.Name, Stage: "connect", Err: err}
	}
	saga.completed("connect", func() error { return client.Disconnect() })

	// list
	tools, err := client.ListTools(ctx)
	if err != nil {
		return saga.fail(&errutil.ConnectionError{ServerName: cfg.Name, Stage: "list", Err: err})
	}

	// validate
	if err := validateTools(tools); err != nil {
		return saga.fail(err)
	}

	// register
	if err := m.registry.Register(cfg.Name, tools); err != nil {
		return saga.fail(err)
	}
	saga.completed("register", func() error {
		m.registry.RemoveServer(cfg.Name)
		return nil
	})

	// persist
	if err := m.store.UpsertServer(cfg); err != nil {
		return saga.fail(&errutil.RegistrationError{ServerName: cfg.Name, Err: err})
	}

	m.setClient(cfg.Name, client)
	m.logger.Info("server %s added with %d tool(s)", cfg.Name, len(tools))
	return nil
}

// RemoveServer disconnects a server, drops its tools, and deletes its
// persisted config. Unknown names are a no-op.
func (m *Manager) RemoveServer(ctx context.Context, name string) error {
	lock := m.serverLock(name)
	lock.Lock()
	defer lock.Unlock()

	if client, ok := m.client(name); ok {
		if err := client.Disconnect(); err != nil {
			m.logger.Warn("disconnect %s: %v", name, err)
		}
		m.setClient(name, nil)
	}

	removed := m.registry.RemoveServer(name)
	if err := m.store.RemoveServer(name); err != nil {
		return m.noteOutcome(name, fmt.Errorf("remove server config: %w", err))
	}
	m.logger.Info("server %s removed (%d tool(s) dropped)", name, removed)
	return m.noteOutcome(name, nil)
}

// ToggleServer enables or disables a configured server. Enabling reconnects
// and re-registers its tools; a failure anywhere reverts to the disabled
// state. Disabling disconnects and drops the tools but keeps the config.
func (m *Manager) ToggleServer(ctx context.Context, name string, enabled bool) error {
	return m.noteOutcome(name, m.toggleServer(ctx, name, enabled))
}

func (m *Manager) toggleServer(ctx context.Context, name string, enabled bool) error {
	lock := m.serverLock(name)
	lock.Lock()
	defer lock.Unlock()

	cfg, ok := m.store.Server(name)
	if !ok {
		return fmt.Errorf("server not found: %s", name)
	}
	if cfg.Enabled == enabled {
		return nil
	}

	if !enabled {
		if client, ok := m.client(name); ok {
			if err := client.Disconnect(); err != nil {
				m.logger.Warn("disconnect %s: %v", name, err)
			}
			m.setClient(name, nil)
		}
		m.registry.RemoveServer(name)
		if err := m.store.SetServerEnabled(name, false); err != nil {
			return fmt.Errorf("persist disabled state: %w", err)
		}
		m.logger.Info("server %s disabled", name)
		return nil
	}

	saga := newSaga(m.logger, name)

	client, err := m.factory(cfg, m.logger)
	if err != nil {
		return &errutil.ConnectionError{ServerName: name, Stage: "connect", Err: err}
	}
	if err := client.Connect(ctx); err != nil {
		return &errutil.ConnectionError{ServerName: name, Stage: "connect", Err: err}
	}
	saga.completed("connect", func() error { return client.Disconnect() })

	tools, err := client.ListTools(ctx)
	if err != nil {
		return saga.fail(&errutil.ConnectionError{ServerName: name, Stage: "list", Err: err})
	}
	if err := validateTools(tools); err != nil {
		return saga.fail(err)
	}
	if err := m.registry.Register(name, tools); err != nil {
		return saga.fail(err)
	}
	saga.completed("register", func() error {
		m.registry.RemoveServer(name)
		return nil
	})

	if err := m.store.SetServerEnabled(name, true); err != nil {
		return saga.fail(&errutil.RegistrationError{ServerName: name, Err: err})
	}

	m.setClient(name, client)
	m.logger.Info("server %s enabled with %d tool(s)", name, len(tools))
	return nil
}

// RestoreServers connects every enabled server from the persisted config,
// typically at startup. Servers that fail to come up are logged and skipped;
// one bad server does not block the rest.
func (m *Manager) RestoreServers(ctx context.Context) {
	for _, cfg := range m.store.Servers() {
		if !cfg.Enabled {
			continue
		}
		if err := m.noteOutcome(cfg.Name, m.restoreOne(ctx, cfg)); err != nil {
			m.logger.Warn("restore server %s: %v", cfg.Name, err)
		}
	}
}

func (m *Manager) restoreOne(ctx context.Context, cfg config.ServerConfig) error {
	lock := m.serverLock(cfg.Name)
	lock.Lock()
	defer lock.Unlock()

	client, err := m.factory(cfg, m.logger)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Disconnect()
		return err
	}
	if err := validateTools(tools); err != nil {
		_ = client.Disconnect()
		return err
	}
	if err := m.registry.Register(cfg.Name, tools); err != nil {
		_ = client.Disconnect()
		return err
	}
	m.setClient(cfg.Name, client)
	return nil
}

// ListServers reports the status of every configured server.
func (m *Manager) ListServers() []ServerStatus {
	servers := m.store.Servers()
	statuses := make([]ServerStatus, 0, len(servers))
	for _, cfg := range servers {
		statuses = append(statuses, m.status(cfg))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// ServerStatus reports the status of one configured server.
func (m *Manager) ServerStatus(name string) (ServerStatus, bool) {
	cfg, ok := m.store.Server(name)
	if !ok {
		return ServerStatus{}, false
	}
	return m.status(cfg), true
}

func (m *Manager) status(cfg config.ServerConfig) ServerStatus {
	_, connected := m.client(cfg.Name)
	entries := m.registry.ListServer(cfg.Name)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return ServerStatus{
		Name:      cfg.Name,
		Transport: cfg.Transport,
		Enabled:   cfg.Enabled,
		Connected: connected,
		ToolCount: len(names),
		Tools:     names,
		LastError: m.lastError(cfg.Name),
	}
}

// Close disconnects every live client.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := make(map[string]serverClient, len(m.clients))
	for name, client := range m.clients {
		clients[name] = client
	}
	m.clients = make(map[string]serverClient)
	m.mu.Unlock()

	var errs []string
	for name, client := range clients {
		if err := client.Disconnect(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("disconnect failed for %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTools(tools []mcp.ToolSchema) error {
	if len(tools) == 0 {
		return &errutil.ValidationError{Err: fmt.Errorf("server exposes no tools")}
	}
	seen := make(map[string]bool, len(tools))
	for _, tool := range tools {
		if strings.TrimSpace(tool.Name) == "" {
			return &errutil.ValidationError{Field: "name", Err: fmt.Errorf("tool with empty name")}
		}
		if seen[tool.Name] {
			return &errutil.ValidationError{Tool: tool.Name, Err: fmt.Errorf("duplicate tool name in listing")}
		}
		seen[tool.Name] = true
	}
	return nil
}
