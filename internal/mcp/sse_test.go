package mcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseFixture is an in-process SSE server: the GET stream announces /rpc as
// the POST endpoint, then relays whatever the test pushes into events.
type sseFixture struct {
	server *httptest.Server
	events chan string
	posts  chan []byte
}

func newSSEFixture(t *testing.T) *sseFixture {
	t.Helper()
	f := &sseFixture{
		events: make(chan string, 8),
		posts:  make(chan []byte, 8),
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			f.posts <- body
			w.WriteHeader(http.StatusAccepted)
			return
		}

		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: endpoint\ndata: /rpc\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case frame, ok := <-f.events:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func recvFrame(t *testing.T, transport *SSETransport) ([]byte, bool) {
	t.Helper()
	select {
	case frame, ok := <-transport.Messages():
		return frame, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message frame")
		return nil, false
	}
}

func TestSSEStreamOutlivesStart(t *testing.T) {
	f := newSSEFixture(t)
	transport := NewSSETransport(SSEConfig{URL: f.server.URL}, nil)
	require.NoError(t, transport.Start(context.Background()))
	defer func() { _ = transport.Close() }()

	// A frame arriving well after Start has returned must still be
	// delivered; the stream is torn down only by Close.
	time.Sleep(300 * time.Millisecond)
	f.events <- `{"jsonrpc":"2.0","id":"1","result":{}}`

	frame, ok := recvFrame(t, transport)
	require.True(t, ok, "messages channel closed: stream died after Start returned")
	assert.Contains(t, string(frame), `"id":"1"`)
}

func TestSSESendPostsToAnnouncedEndpoint(t *testing.T) {
	f := newSSEFixture(t)
	transport := NewSSETransport(SSEConfig{URL: f.server.URL}, nil)
	require.NoError(t, transport.Start(context.Background()))
	defer func() { _ = transport.Close() }()

	require.NoError(t, transport.Send([]byte(`{"jsonrpc":"2.0","id":"1","method":"ping"}`)))

	select {
	case body := <-f.posts:
		assert.Contains(t, string(body), `"method":"ping"`)
	case <-time.After(2 * time.Second):
		t.Fatal("nothing posted to the announced endpoint")
	}
}

func TestSSECloseClosesMessages(t *testing.T) {
	f := newSSEFixture(t)
	transport := NewSSETransport(SSEConfig{URL: f.server.URL}, nil)
	require.NoError(t, transport.Start(context.Background()))

	require.NoError(t, transport.Close())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-transport.Messages():
			if !ok {
				assert.Error(t, transport.Send([]byte("{}")))
				return
			}
		case <-deadline:
			t.Fatal("messages channel still open after Close")
		}
	}
}

func TestSSEStartFailsOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	transport := NewSSETransport(SSEConfig{URL: server.URL, ConnectTimeout: 200 * time.Millisecond}, nil)
	err := transport.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect event stream")
	assert.Error(t, transport.Send([]byte("{}")))
}

func TestSSEStartTimesOutWithoutEndpointEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": keep-alive\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	transport := NewSSETransport(SSEConfig{URL: server.URL, ConnectTimeout: 300 * time.Millisecond}, nil)
	err := transport.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint event")
}
