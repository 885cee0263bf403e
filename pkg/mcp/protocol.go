package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

const jsonRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 request or, when ID is nil, a notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response frame.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object carried inside a response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ToolInfo describes one tool advertised by a server via tools/list.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Failure kinds for ProtocolError.
const (
	KindMalformed      = "malformed"
	KindTimeout        = "timeout"
	KindConnectionLost = "connection_lost"
	KindRemote         = "remote"
)

var (
	// ErrTransportClosed reports that the child process or its pipes are gone.
	ErrTransportClosed = errors.New("mcp transport closed")
	// ErrServerUnavailable reports that respawn attempts were exhausted.
	ErrServerUnavailable = errors.New("mcp server unavailable")
	// ErrDuplicateID reports a request id already in flight.
	ErrDuplicateID = errors.New("duplicate request id")
)

// ProtocolError wraps a failed interaction with one server.
type ProtocolError struct {
	Server string
	Method string
	Kind   string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcp %s %s (%s): %v", e.Server, e.Method, e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErr(server, method, kind string, err error) *ProtocolError {
	return &ProtocolError{Server: server, Method: method, Kind: kind, Err: err}
}
