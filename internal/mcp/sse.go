package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"aegis/internal/async"
	"aegis/internal/logging"
)

// SSEConfig configures a server-sent-events transport.
type SSEConfig struct {
	// URL is the event-stream endpoint.
	URL string

	// ConnectTimeout bounds the initial connect, retries included.
	ConnectTimeout time.Duration
}

// SSETransport speaks MCP over an SSE stream: responses arrive as `message`
// events on a long-lived GET, requests go out as POSTs to the endpoint the
// server announces in its `endpoint` event.
type SSETransport struct {
	config SSEConfig
	logger logging.Logger
	client *http.Client

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	endpoint  string
	endpointC chan struct{}
	messages  chan []byte
}

// NewSSETransport builds an SSE transport for the given stream URL.
func NewSSETransport(config SSEConfig, logger logging.Logger) *SSETransport {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 15 * time.Second
	}
	return &SSETransport{
		config:    config,
		logger:    logging.OrNop(logger),
		client:    &http.Client{},
		endpointC: make(chan struct{}),
		messages:  make(chan []byte, 16),
	}
}

// Start opens the event stream, retrying with exponential backoff inside the
// connect timeout, and waits for the server to announce its POST endpoint.
func (t *SSETransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("transport already started")
	}
	t.running = true
	t.mu.Unlock()

	// The stream request must outlive Start: its context is cancelled only
	// by Close. connectCtx bounds the connect phase alone (retries and the
	// wait for the endpoint event), never the stream itself.
	streamCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	connectCtx, cancelConnect := context.WithTimeout(ctx, t.config.ConnectTimeout)
	defer cancelConnect()

	var resp *http.Response
	operation := func() error {
		if err := connectCtx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.config.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "text/event-stream")

		r, err := t.client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode != http.StatusOK {
			_ = r.Body.Close()
			return fmt.Errorf("unexpected status %d from event stream", r.StatusCode)
		}
		resp = r
		return nil
	}
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), connectCtx)
	if err := backoff.Retry(operation, policy); err != nil {
		t.closeStream()
		return fmt.Errorf("connect event stream: %w", err)
	}

	async.Go(t.logger, "mcp.sse.readLoop", func() {
		defer close(t.messages)
		defer func() { _ = resp.Body.Close() }()
		t.readLoop(streamCtx, resp.Body)
	})

	// The server must announce its POST endpoint before any request can go
	// out.
	select {
	case <-t.endpointC:
		return nil
	case <-connectCtx.Done():
		t.closeStream()
		return fmt.Errorf("timed out waiting for endpoint event")
	}
}

// Send POSTs one frame to the announced endpoint.
func (t *SSETransport) Send(data []byte) error {
	t.mu.Lock()
	endpoint := t.endpoint
	running := t.running
	t.mu.Unlock()

	if !running {
		return fmt.Errorf("transport not running")
	}
	if endpoint == "" {
		return fmt.Errorf("endpoint not announced yet")
	}

	resp, err := t.client.Post(endpoint, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("message rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Messages delivers `message` event payloads.
func (t *SSETransport) Messages() <-chan []byte {
	return t.messages
}

// Close tears the stream down.
func (t *SSETransport) Close() error {
	t.closeStream()
	return nil
}

func (t *SSETransport) closeStream() {
	t.mu.Lock()
	cancel := t.cancel
	t.running = false
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// readLoop parses the SSE framing: `event:` names the frame type, `data:`
// lines accumulate its payload, a blank line dispatches it.
func (t *SSETransport) readLoop(ctx context.Context, body io.Reader) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event := "message"
	var data strings.Builder

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()

		switch {
		case line == "":
			t.dispatch(event, data.String())
			event = "message"
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		t.logger.Error("event stream read error: %v", err)
	}
}

func (t *SSETransport) dispatch(event, payload string) {
	if payload == "" {
		return
	}
	switch event {
	case "endpoint":
		resolved, err := t.resolveEndpoint(payload)
		if err != nil {
			t.logger.Error("invalid endpoint event %q: %v", payload, err)
			return
		}
		t.mu.Lock()
		first := t.endpoint == ""
		t.endpoint = resolved
		t.mu.Unlock()
		if first {
			close(t.endpointC)
		}
	case "message":
		t.messages <- []byte(payload)
	default:
		t.logger.Debug("ignoring event type %q", event)
	}
}

// resolveEndpoint interprets the announced endpoint relative to the stream
// URL, since servers commonly send a bare path.
func (t *SSETransport) resolveEndpoint(raw string) (string, error) {
	base, err := url.Parse(t.config.URL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
