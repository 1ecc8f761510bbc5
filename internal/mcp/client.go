package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"aegis/internal/async"
	"aegis/internal/logging"
)

// ProtocolVersion is the MCP revision this client speaks.
const ProtocolVersion = "2024-11-05"

// callTimeout bounds a single request/response round trip.
const callTimeout = 30 * time.Second

// ToolSchema is one tool definition exposed by a server.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ServerInfo identifies the connected server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// ContentBlock is one piece of a tool-call result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallResult is the outcome of one tools/call.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Client speaks MCP to one tool server over a Transport. The safety layer
// consumes it through connect / listTools / disconnect.
type Client struct {
	serverName string
	transport  Transport
	ids        requestIDs
	logger     logging.Logger

	mu          sync.RWMutex
	pending     map[any]chan *Response
	initialized bool
	serverInfo  *ServerInfo
}

// NewClient builds a client for one server over the given transport.
func NewClient(serverName string, transport Transport, logger logging.Logger) *Client {
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger(fmt.Sprintf("mcp[%s]", serverName))
	}
	return &Client{
		serverName: serverName,
		transport:  transport,
		logger:     logger,
		pending:    make(map[any]chan *Response),
	}
}

// Connect starts the transport and performs the initialize handshake. On
// handshake failure the transport is closed before the error returns.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	async.Go(c.logger, "mcp.client.readLoop", c.readLoop)

	if err := c.initialize(ctx); err != nil {
		_ = c.transport.Close()
		return fmt.Errorf("initialize handshake: %w", err)
	}
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo": map[string]any{
			"name":    "aegis",
			"version": "0.1.0",
		},
	}

	result, err := c.call(ctx, "initialize", params)
	if err != nil {
		return err
	}

	var init initializeResult
	if err := decodeResult(result, &init); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	if init.ProtocolVersion != ProtocolVersion {
		c.logger.Warn("protocol version mismatch: client=%s server=%s", ProtocolVersion, init.ProtocolVersion)
	}

	c.mu.Lock()
	c.serverInfo = &init.ServerInfo
	c.initialized = true
	c.mu.Unlock()

	if err := c.notify("notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed: %v", err)
	}

	c.logger.Info("connected to %s v%s", init.ServerInfo.Name, init.ServerInfo.Version)
	return nil
}

// ListTools retrieves the server's tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	if !c.IsInitialized() {
		return nil, fmt.Errorf("client not initialized")
	}

	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var listed struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := decodeResult(result, &listed); err != nil {
		return nil, fmt.Errorf("parse tools list: %w", err)
	}
	c.logger.Debug("server exposes %d tool(s)", len(listed.Tools))
	return listed.Tools, nil
}

// CallTool executes one tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*CallResult, error) {
	if !c.IsInitialized() {
		return nil, fmt.Errorf("client not initialized")
	}

	result, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	var callResult CallResult
	if err := decodeResult(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tool result: %w", err)
	}
	return &callResult, nil
}

// Disconnect closes the transport.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	return c.transport.Close()
}

// IsInitialized reports whether the handshake completed.
func (c *Client) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// ServerInfo returns the identity the server reported during initialize.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (any, error) {
	id := c.ids.next()
	data, err := json.Marshal(NewRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respChan := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = respChan
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.transport.Send(data); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok || resp == nil {
			return nil, fmt.Errorf("connection closed before response")
		}
		if resp.IsError() {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
	case <-time.After(callTimeout):
		return nil, fmt.Errorf("request timeout after %s", callTimeout)
	}
}

func (c *Client) notify(method string, params map[string]any) error {
	data, err := json.Marshal(NewNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.transport.Send(data)
}

func (c *Client) readLoop() {
	for frame := range c.transport.Messages() {
		resp, err := UnmarshalResponse(frame)
		if err != nil {
			c.logger.Error("unmarshal response: %v", err)
			continue
		}

		c.mu.RLock()
		ch, ok := c.pending[resp.ID]
		c.mu.RUnlock()
		if !ok {
			c.logger.Warn("no pending call for response id=%v", resp.ID)
			continue
		}

		select {
		case ch <- resp:
		default:
			c.logger.Warn("response channel full, dropping id=%v", resp.ID)
		}
	}

	// Transport closed; unblock every waiter.
	c.mu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}
