package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberhq/ember/pkg/mcp"
	"github.com/emberhq/ember/pkg/model"
)

// Registry maps tool names to implementations. Local tools and
// MCP-discovered tools share one namespace; first registration wins.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register inserts a tool when its name is not in use.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// RegisterMCP discovers tools from every connected server and registers
// a remote wrapper for each. Name collisions are logged by the caller's
// error and skipped in favor of the earlier registration.
func (r *Registry) RegisterMCP(ctx context.Context, manager *mcp.Manager) {
	for _, remote := range manager.Tools(ctx) {
		_ = r.Register(&remoteTool{
			server:  remote.Server,
			info:    remote.Info,
			manager: manager,
		})
	}
}

// Get fetches a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return t, nil
}

// Definitions returns the schema list sent to the model provider, in
// registration order.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return defs
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Execute validates args against the tool's schema and runs it.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	ctx, span := otel.Tracer("ember/tool").Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	t, err := r.Get(name)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if err := validateArgs(name, t.Schema(), args); err != nil {
		span.RecordError(err)
		return "", err
	}
	out, err := t.Execute(ctx, args)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

// remoteTool proxies execution to an MCP server through the manager so
// respawn handling stays in one place.
type remoteTool struct {
	server  string
	info    mcp.ToolInfo
	manager *mcp.Manager
}

func (r *remoteTool) Name() string        { return r.info.Name }
func (r *remoteTool) Description() string { return r.info.Description }

func (r *remoteTool) Schema() map[string]any { return r.info.InputSchema }

func (r *remoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content, isErr, err := r.manager.Invoke(ctx, r.server, r.info.Name, args)
	if err != nil {
		return "", err
	}
	if isErr {
		return "", fmt.Errorf("%s reported an error: %s", r.info.Name, content)
	}
	return content, nil
}
