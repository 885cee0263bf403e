package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emberhq/ember/pkg/config"
	"github.com/emberhq/ember/pkg/hooks"
	"github.com/emberhq/ember/pkg/mcp"
	"github.com/emberhq/ember/pkg/message"
	"github.com/emberhq/ember/pkg/model"
	"github.com/emberhq/ember/pkg/security"
	"github.com/emberhq/ember/pkg/session"
	"github.com/emberhq/ember/pkg/tool"
	toolbuiltin "github.com/emberhq/ember/pkg/tool/builtin"
)

// Agent assembles the runtime: model provider, tool registry, MCP
// manager, hooks, context manager and the admission-gated dispatch loop.
type Agent struct {
	cfg       *config.Config
	model     model.Model
	registry  *tool.Registry
	sessions  *session.Store
	manager   *session.Manager
	mcpMgr    *mcp.Manager
	admission *Admission
	loop      *Loop
	log       zerolog.Logger
}

// Option adjusts construction.
type Option func(*options)

type options struct {
	log          zerolog.Logger
	model        model.Model
	systemPrompt string
}

// WithLogger sets the base logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithModel substitutes the model client, bypassing provider selection.
func WithModel(m model.Model) Option {
	return func(o *options) { o.model = m }
}

// WithPersona sets the system prompt sent on every turn.
func WithPersona(prompt string) Option {
	return func(o *options) { o.systemPrompt = prompt }
}

// New builds an agent from validated configuration.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("agent: nil config")
	}
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	m := o.model
	if m == nil {
		temp := cfg.Agent.Temperature
		var err error
		m, err = model.New(model.Config{
			Type:        string(cfg.Provider.Type),
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			Model:       cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: &temp,
			Timeout:     cfg.RequestTimeout(),
		})
		if err != nil {
			return nil, err
		}
	}

	guard := security.NewGuard(cfg.Agent.Workspace, cfg.RestrictToWorkspace())
	registry := tool.NewRegistry()
	for _, t := range []tool.Tool{
		toolbuiltin.NewExecTool(guard.Root(), cfg.ExecTimeout()),
		toolbuiltin.NewReadFileTool(guard),
		toolbuiltin.NewWriteFileTool(guard),
		toolbuiltin.NewListDirTool(guard),
	} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	mcpMgr := mcp.NewManager(mcpSpecs(cfg), o.log)

	summarizer := &model.Summarizer{Model: m, ModelName: cfg.Agent.Model}
	manager := session.NewManager(session.TrimPolicy{
		Enabled:       cfg.TrimEnabled(),
		Threshold:     cfg.Trim.Threshold,
		PreserveCount: cfg.Trim.PreserveCount,
	}, cfg.Agent.MaxTokens, summarizer, o.log)

	runner := hooks.NewRunner(o.log, hooks.WithWorkDir(guard.Root()))
	loop := NewLoop(m, registry, manager, o.log,
		WithSystemPrompt(o.systemPrompt),
		WithMaxIterations(cfg.Agent.MaxToolIterations),
		WithHooks(runner, hookSet(cfg.Callbacks)),
	)

	return &Agent{
		cfg:       cfg,
		model:     m,
		registry:  registry,
		sessions:  session.NewStore(),
		manager:   manager,
		mcpMgr:    mcpMgr,
		admission: NewAdmission(cfg.Agent.MaxConcurrency),
		loop:      loop,
		log:       o.log.With().Str("component", "agent").Logger(),
	}, nil
}

// Start prepares the workspace and connects configured MCP servers,
// registering their discovered tools.
func (a *Agent) Start(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.Agent.Workspace, 0o755); err != nil {
		return fmt.Errorf("agent: create workspace: %w", err)
	}
	a.mcpMgr.Connect(ctx)
	a.registry.RegisterMCP(ctx, a.mcpMgr)
	a.log.Info().Strs("tools", a.registry.Names()).Msg("agent started")
	return nil
}

// Run executes one user turn under the admission cap. An empty
// sessionKey starts a fresh session.
func (a *Agent) Run(ctx context.Context, sessionKey, input string) (Outcome, error) {
	if strings.TrimSpace(sessionKey) == "" {
		sessionKey = uuid.NewString()
	}
	release, err := a.admission.Acquire(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	sess := a.sessions.Get(sessionKey)
	return a.loop.Run(ctx, sess, message.Text(message.RoleUser, input)), nil
}

// Reload applies a changed configuration. MCP servers get their respawn
// budget back; other knobs require a restart.
func (a *Agent) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.mcpMgr.Reset()
	a.log.Info().Msg("config reloaded, mcp respawn budget restored")
}

// Close tears down MCP server processes.
func (a *Agent) Close() {
	a.mcpMgr.Close()
}

func mcpSpecs(cfg *config.Config) []mcp.ServerSpec {
	specs := make([]mcp.ServerSpec, 0, len(cfg.MCP.Servers))
	for _, srv := range cfg.MCP.Servers {
		specs = append(specs, mcp.ServerSpec{
			Name:        srv.Name,
			Command:     srv.Command,
			Args:        srv.Args,
			Env:         srv.Env,
			Cwd:         srv.Cwd,
			CallTimeout: srv.CallTimeout(),
		})
	}
	return specs
}

func hookSet(cb config.CallbacksConfig) HookSet {
	return HookSet{
		Pre:  hookSpecs(cb.PreToolUse),
		Post: hookSpecs(cb.PostToolUse),
		Stop: hookSpecs(cb.Stop),
	}
}

func hookSpecs(entries []config.HookEntry) []hooks.Spec {
	specs := make([]hooks.Spec, 0, len(entries))
	for _, entry := range entries {
		specs = append(specs, hooks.Spec{
			Command: entry.Command,
			Pattern: entry.Pattern,
			Timeout: entry.HookTimeout(),
		})
	}
	return specs
}
