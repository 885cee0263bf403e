package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	clientName    = "ember"
	clientVersion = "0.1.0"
)

// ServerSpec is everything needed to launch and talk to one server.
type ServerSpec struct {
	Name        string
	Command     string
	Args        []string
	Env         map[string]string
	Cwd         string
	CallTimeout time.Duration
}

// Connection is one initialized session with a server process. Request
// ids are scoped to the connection and strictly increasing.
type Connection struct {
	spec      ServerSpec
	transport transport
	nextID    atomic.Int64

	toolsMu sync.RWMutex
	tools   []ToolInfo
}

// startTransport is swapped out in tests.
var startTransport = newStdioTransport

// Connect spawns the server, performs the initialize handshake and
// fetches the initial tool list.
func Connect(ctx context.Context, spec ServerSpec) (*Connection, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, protocolErr(spec.Name, "initialize", KindMalformed, errors.New("empty command"))
	}
	t, err := startTransport(ctx, spec.Command, stdioOptions{
		Args: spec.Args,
		Env:  spec.Env,
		Dir:  spec.Cwd,
	})
	if err != nil {
		return nil, protocolErr(spec.Name, "initialize", KindConnectionLost, err)
	}
	conn := &Connection{spec: spec, transport: t}
	if err := conn.initialize(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}
	if err := conn.refreshTools(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Connection) initialize(ctx context.Context) error {
	params := map[string]any{
		"clientInfo":   map[string]any{"name": clientName, "version": clientVersion},
		"capabilities": map[string]any{},
	}
	if _, err := c.request(ctx, "initialize", params, c.spec.CallTimeout); err != nil {
		return err
	}
	if err := c.transport.Notify(&Request{Method: "initialized", Params: map[string]any{}}); err != nil {
		return protocolErr(c.spec.Name, "initialized", KindConnectionLost, err)
	}
	return nil
}

func (c *Connection) refreshTools(ctx context.Context) error {
	result, err := c.request(ctx, "tools/list", map[string]any{}, c.spec.CallTimeout)
	if err != nil {
		return err
	}
	var listed struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &listed); err != nil {
		return protocolErr(c.spec.Name, "tools/list", KindMalformed, err)
	}
	tools := make([]ToolInfo, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		if tool.Name == "" {
			continue
		}
		if tool.InputSchema == nil {
			tool.InputSchema = map[string]any{"type": "object"}
		}
		tools = append(tools, tool)
	}
	c.toolsMu.Lock()
	c.tools = tools
	c.toolsMu.Unlock()
	return nil
}

// Tools returns the tool list cached at connect time.
func (c *Connection) Tools() []ToolInfo {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	out := make([]ToolInfo, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes one tool and flattens its content to text.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.request(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	}, c.spec.CallTimeout)
	if err != nil {
		return "", false, err
	}
	var body struct {
		Content json.RawMessage `json:"content"`
		IsError bool            `json:"isError"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return "", false, protocolErr(c.spec.Name, "tools/call", KindMalformed, err)
	}
	return flattenContent(body.Content, result), body.IsError, nil
}

// flattenContent joins text items the way the protocol's content arrays
// are usually shaped; anything else falls back to the raw result JSON.
func flattenContent(content, raw json.RawMessage) string {
	if len(content) == 0 {
		return string(raw)
	}
	var items []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &items); err == nil {
		var texts []string
		for _, item := range items {
			if item.Type == "text" {
				texts = append(texts, item.Text)
			}
		}
		return strings.TrimSpace(strings.Join(texts, "\n"))
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}
	return string(raw)
}

func (c *Connection) request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	id := c.nextID.Add(1)
	resp, err := c.transport.Call(ctx, &Request{ID: &id, Method: method, Params: params})
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, protocolErr(c.spec.Name, method, KindTimeout, err)
		case errors.Is(err, context.Canceled):
			return nil, err
		default:
			return nil, protocolErr(c.spec.Name, method, KindConnectionLost, err)
		}
	}
	if resp.Error != nil {
		return nil, protocolErr(c.spec.Name, method, KindRemote, resp.Error)
	}
	return resp.Result, nil
}

// Close kills the child process.
func (c *Connection) Close() error {
	return c.transport.Close()
}
