package mcp

import "context"

// Transport moves newline-delimited JSON-RPC frames between the client and
// one tool server. Implementations: stdio child process, SSE stream.
type Transport interface {
	// Start establishes the connection. Frames arrive on Messages after
	// Start returns successfully.
	Start(ctx context.Context) error

	// Send writes one frame to the server.
	Send(data []byte) error

	// Messages delivers raw response frames. The channel closes when the
	// transport shuts down.
	Messages() <-chan []byte

	// Close tears the connection down. Idempotent.
	Close() error
}
