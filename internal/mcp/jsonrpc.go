package mcp

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// JSON-RPC 2.0: https://www.jsonrpc.org/specification

// jsonRPCVersion is the wire version required on every frame.
const jsonRPCVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request frame.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response frame.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// Notification is a JSON-RPC 2.0 request without an id; no response follows.
type Notification struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// NewRequest builds a request frame.
func NewRequest(id any, method string, params map[string]any) *Request {
	return &Request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}
}

// NewNotification builds a notification frame.
func NewNotification(method string, params map[string]any) *Notification {
	return &Notification{JSONRPC: jsonRPCVersion, Method: method, Params: params}
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// IsError reports whether the response carries an error object.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// UnmarshalResponse parses and version-checks one response frame.
func UnmarshalResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &RPCError{Code: CodeParseError, Message: "failed to parse JSON-RPC response", Data: err.Error()}
	}
	if resp.JSONRPC != jsonRPCVersion {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid JSON-RPC version: %q", resp.JSONRPC)}
	}
	return &resp, nil
}

// requestIDs hands out unique ids for one client connection.
type requestIDs struct {
	counter atomic.Int64
}

func (g *requestIDs) next() string {
	return fmt.Sprintf("%d", g.counter.Add(1))
}

// decodeResult re-marshals an untyped result field into target.
func decodeResult(result any, target any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
