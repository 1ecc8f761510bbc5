package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req := NewRequest("7", "tools/list", map[string]any{"cursor": "abc"})

	assert.Equal(t, jsonRPCVersion, req.JSONRPC)
	assert.Equal(t, "7", req.ID)
	assert.Equal(t, "tools/list", req.Method)
	assert.False(t, req.IsNotification())

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"jsonrpc":"2.0"`)
	assert.Contains(t, string(data), `"method":"tools/list"`)
}

func TestNewNotification(t *testing.T) {
	n := NewNotification("notifications/initialized", nil)

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"id"`)
}

func TestUnmarshalResponse(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":"3","result":{"tools":[]}}`)

	resp, err := UnmarshalResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "3", resp.ID)
	assert.False(t, resp.IsError())
}

func TestUnmarshalResponseError(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":"4","error":{"code":-32601,"message":"method not found"}}`)

	resp, err := UnmarshalResponse(raw)
	require.NoError(t, err)
	require.True(t, resp.IsError())
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Error(), "method not found")
}

func TestUnmarshalResponseInvalidJSON(t *testing.T) {
	_, err := UnmarshalResponse([]byte("{not json"))
	assert.Error(t, err)
}

func TestRequestIDsUnique(t *testing.T) {
	var ids requestIDs
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := ids.next()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestDecodeResult(t *testing.T) {
	var out struct {
		Tools []ToolSchema `json:"tools"`
	}
	err := decodeResult(map[string]any{
		"tools": []any{map[string]any{"name": "fetch", "description": "fetch a url"}},
	}, &out)
	require.NoError(t, err)
	require.Len(t, out.Tools, 1)
	assert.Equal(t, "fetch", out.Tools[0].Name)
}
