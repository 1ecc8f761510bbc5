package config

// Settings are the gate flags persisted across sessions.
type Settings struct {
	AlwaysApproveTools bool   `json:"always_approve_tools"`
	WorkingDirectory   string `json:"working_directory,omitempty"`
	RulesFile          string `json:"rules_file,omitempty"`
	MetricsEnabled     bool   `json:"metrics_enabled,omitempty"`
}

// Transport selects how a tool server is reached.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
)

// ServerConfig describes one external tool server.
type ServerConfig struct {
	Name      string            `json:"name"`
	Transport Transport         `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Enabled   bool              `json:"enabled"`
}

// File is the full persisted configuration document.
type File struct {
	Settings Settings       `json:"settings"`
	Servers  []ServerConfig `json:"servers,omitempty"`
}
