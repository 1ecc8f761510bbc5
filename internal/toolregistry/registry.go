package toolregistry

import (
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"aegis/internal/errutil"
	"aegis/internal/mcp"
)

const schemaCacheSize = 256

// Entry is one registered tool as seen by the dispatch loop.
type Entry struct {
	Name        string         `json:"name"`
	ServerName  string         `json:"server_name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	Enabled     bool           `json:"enabled"`
}

// Registry holds tool entries keyed by tool name. Names are unique across
// all servers, so a lookup never needs the server name.
//
// Reads go through an atomic snapshot pointer and take no lock; writes
// copy the map under the write mutex and swap the pointer.
type Registry struct {
	writeMu  sync.Mutex
	snapshot atomic.Pointer[map[string]Entry]
	schemas  *lru.Cache[string, map[string]any]
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]Entry{}
	r.snapshot.Store(&empty)
	// Cache construction only fails on size <= 0.
	r.schemas, _ = lru.New[string, map[string]any](schemaCacheSize)
	return r
}

// Register adds every tool of one server in a single step. If any name is
// already taken by a different server, nothing is registered and the
// conflict error names all colliding tools.
func (r *Registry) Register(serverName string, tools []mcp.ToolSchema) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := *r.snapshot.Load()

	var conflicts []string
	for _, tool := range tools {
		if existing, ok := current[tool.Name]; ok && existing.ServerName != serverName {
			conflicts = append(conflicts, tool.Name)
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return &errutil.ConflictError{ServerName: serverName, ToolNames: conflicts}
	}

	next := make(map[string]Entry, len(current)+len(tools))
	for name, entry := range current {
		next[name] = entry
	}
	for _, tool := range tools {
		next[tool.Name] = Entry{
			Name:        tool.Name,
			ServerName:  serverName,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Enabled:     true,
		}
		r.schemas.Add(tool.Name, tool.InputSchema)
	}
	r.snapshot.Store(&next)
	return nil
}

// RemoveServer drops every tool registered by the given server and reports
// how many were removed.
func (r *Registry) RemoveServer(serverName string) int {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := *r.snapshot.Load()
	next := make(map[string]Entry, len(current))
	removed := 0
	for name, entry := range current {
		if entry.ServerName == serverName {
			removed++
			r.schemas.Remove(name)
			continue
		}
		next[name] = entry
	}
	if removed > 0 {
		r.snapshot.Store(&next)
	}
	return removed
}

// SetServerEnabled flips the enabled flag on every tool of one server.
func (r *Registry) SetServerEnabled(serverName string, enabled bool) int {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := *r.snapshot.Load()
	next := make(map[string]Entry, len(current))
	changed := 0
	for name, entry := range current {
		if entry.ServerName == serverName {
			entry.Enabled = enabled
			changed++
		}
		next[name] = entry
	}
	if changed > 0 {
		r.snapshot.Store(&next)
	}
	return changed
}

// Get returns the entry for a tool name.
func (r *Registry) Get(name string) (Entry, bool) {
	entry, ok := (*r.snapshot.Load())[name]
	return entry, ok
}

// Schema returns the cached input schema for a tool, falling back to the
// registry entry when the cache has evicted it.
func (r *Registry) Schema(name string) (map[string]any, bool) {
	if schema, ok := r.schemas.Get(name); ok {
		return schema, true
	}
	entry, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	r.schemas.Add(name, entry.InputSchema)
	return entry.InputSchema, true
}

// List returns all entries sorted by name.
func (r *Registry) List() []Entry {
	current := *r.snapshot.Load()
	entries := make([]Entry, 0, len(current))
	for _, entry := range current {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// ListServer returns the entries of one server sorted by name.
func (r *Registry) ListServer(serverName string) []Entry {
	var entries []Entry
	for _, entry := range *r.snapshot.Load() {
		if entry.ServerName == serverName {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}
