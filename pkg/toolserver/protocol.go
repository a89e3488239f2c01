package toolserver

import (
	"encoding/json"
	"strconv"
)

const (
	jsonRPCVersion  = "2.0"
	protocolVersion = "2024-11-05"

	// JSON-RPC error codes that mean the request itself is wrong
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      *int64 `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// requestID parses numeric and string ids; ok is false for notifications.
func (r *rpcResponse) requestID() (int64, bool) {
	if len(r.ID) == 0 || string(r.ID) == "null" {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(r.ID, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

type callToolParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content           []contentBlock  `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// ToolResponse is the decoded result of a tools/call request
type ToolResponse struct {
	// Text is the concatenated text content
	Text string `json:"text"`
	// Data is the structured payload: structuredContent when present,
	// otherwise Text when it holds valid JSON
	Data    json.RawMessage `json:"data,omitempty"`
	IsError bool            `json:"isError,omitempty"`
}

// Decode unmarshals Data into v
func (r *ToolResponse) Decode(v any) error {
	if len(r.Data) == 0 {
		return json.Unmarshal([]byte(r.Text), v)
	}
	return json.Unmarshal(r.Data, v)
}

func newToolResponse(res callToolResult) *ToolResponse {
	out := &ToolResponse{IsError: res.IsError}
	for i, block := range res.Content {
		if block.Type != "text" {
			continue
		}
		if i > 0 && out.Text != "" {
			out.Text += "\n"
		}
		out.Text += block.Text
	}

	switch {
	case len(res.StructuredContent) > 0:
		out.Data = res.StructuredContent
	case json.Valid([]byte(out.Text)):
		out.Data = json.RawMessage(out.Text)
	}
	return out
}

// ToolInfo describes a tool advertised by the server
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}
