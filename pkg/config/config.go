package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by withDefaults when the corresponding field is unset.
const (
	DefaultModel           = "gpt-4o-mini"
	DefaultMaxTokens       = 1024
	DefaultTemperature     = 0.7
	DefaultMaxConcurrency  = 4
	DefaultMaxIterations   = 8
	DefaultRequestTimeout  = 30 * time.Second
	DefaultExecTimeout     = 60 * time.Second
	DefaultTrimThreshold   = 0.8
	DefaultPreserveCount   = 5
	DefaultMCPCallTimeout  = 30 * time.Second
	DefaultHookTimeout     = 60 * time.Second
	defaultWorkspaceSubdir = "workspace"
)

// ProviderType enumerates the closed set of supported model backends.
// Selection is a configuration-time choice; everything except "anthropic"
// speaks the OpenAI-compatible chat API against a base URL.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderDeepSeek  ProviderType = "deepseek"
	ProviderMiniMax   ProviderType = "minimax"
	ProviderCustom    ProviderType = "custom"
)

// ProviderConfig selects and authenticates the model backend.
type ProviderConfig struct {
	Type           ProviderType `yaml:"type"`
	APIKey         string       `yaml:"apiKey"`
	BaseURL        string       `yaml:"baseUrl,omitempty"`
	RequestTimeout int          `yaml:"requestTimeout,omitempty"` // seconds
}

// AgentConfig holds the core loop knobs.
type AgentConfig struct {
	Workspace         string  `yaml:"workspace"`
	Model             string  `yaml:"model,omitempty"`
	MaxTokens         int     `yaml:"maxTokens,omitempty"`
	Temperature       float64 `yaml:"temperature,omitempty"`
	MaxConcurrency    int     `yaml:"maxConcurrency,omitempty"`
	MaxToolIterations int     `yaml:"maxToolIterations,omitempty"`
}

// ActionsConfig restricts local tool execution.
type ActionsConfig struct {
	ExecTimeout         int   `yaml:"execTimeout,omitempty"` // seconds
	RestrictToWorkspace *bool `yaml:"restrictToWorkspace,omitempty"`
}

// TrimConfig tunes automatic history compaction.
type TrimConfig struct {
	Enabled       *bool   `yaml:"enabled,omitempty"`
	Threshold     float64 `yaml:"threshold,omitempty"`
	PreserveCount int     `yaml:"preserveCount,omitempty"`
}

// MCPServerConfig describes one external tool server subprocess.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty"`
	Timeout int               `yaml:"timeout,omitempty"` // per-call, seconds
}

// MCPConfig groups MCP server definitions.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers,omitempty"`
}

// HookEntry is one lifecycle callback command.
type HookEntry struct {
	Command string `yaml:"command"`
	Pattern string `yaml:"pattern,omitempty"`
	Timeout int    `yaml:"timeout,omitempty"` // seconds
}

// CallbacksConfig declares hook commands per lifecycle point.
type CallbacksConfig struct {
	PreToolUse  []HookEntry `yaml:"preToolUse,omitempty"`
	PostToolUse []HookEntry `yaml:"postToolUse,omitempty"`
	Stop        []HookEntry `yaml:"stop,omitempty"`
}

// Config is the consumed configuration surface of the runtime. Channel,
// cron and CLI settings live with their owners and never reach this core.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Agent     AgentConfig     `yaml:"agent"`
	Actions   ActionsConfig   `yaml:"actions,omitempty"`
	Trim      TrimConfig      `yaml:"trim,omitempty"`
	MCP       MCPConfig       `yaml:"mcp,omitempty"`
	Callbacks CallbacksConfig `yaml:"callbacks,omitempty"`
}

// Load reads, defaults and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider.Type == "" {
		c.Provider.Type = ProviderOpenAI
	}
	if c.Provider.RequestTimeout <= 0 {
		c.Provider.RequestTimeout = int(DefaultRequestTimeout / time.Second)
	}
	if c.Agent.Workspace == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Agent.Workspace = filepath.Join(home, ".ember", defaultWorkspaceSubdir)
		}
	}
	if c.Agent.Model == "" {
		c.Agent.Model = DefaultModel
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = DefaultMaxTokens
	}
	if c.Agent.Temperature <= 0 {
		c.Agent.Temperature = DefaultTemperature
	}
	if c.Agent.MaxConcurrency <= 0 {
		c.Agent.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Agent.MaxToolIterations <= 0 {
		c.Agent.MaxToolIterations = DefaultMaxIterations
	}
	if c.Actions.ExecTimeout <= 0 {
		c.Actions.ExecTimeout = int(DefaultExecTimeout / time.Second)
	}
	if c.Actions.RestrictToWorkspace == nil {
		restrict := true
		c.Actions.RestrictToWorkspace = &restrict
	}
	if c.Trim.Enabled == nil {
		enabled := true
		c.Trim.Enabled = &enabled
	}
	if c.Trim.Threshold <= 0 || c.Trim.Threshold > 1 {
		c.Trim.Threshold = DefaultTrimThreshold
	}
	if c.Trim.PreserveCount <= 0 {
		c.Trim.PreserveCount = DefaultPreserveCount
	}
}

// Validate checks logical consistency, aggregating all failures so callers
// can surface every issue at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Type {
	case ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderMiniMax, ProviderCustom:
	default:
		errs = append(errs, fmt.Errorf("config: unknown provider type %q", c.Provider.Type))
	}
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		errs = append(errs, errors.New("config: provider.apiKey is required"))
	}
	switch c.Provider.Type {
	case ProviderDeepSeek, ProviderMiniMax, ProviderCustom:
		if strings.TrimSpace(c.Provider.BaseURL) == "" {
			errs = append(errs, fmt.Errorf("config: provider.baseUrl is required for %s", c.Provider.Type))
		}
	}

	if strings.TrimSpace(c.Agent.Workspace) == "" {
		errs = append(errs, errors.New("config: agent.workspace is required"))
	}

	seen := make(map[string]struct{}, len(c.MCP.Servers))
	for i, srv := range c.MCP.Servers {
		name := strings.TrimSpace(srv.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("config: mcp.servers[%d]: name is required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("config: mcp.servers[%d]: duplicate name %q", i, name))
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(srv.Command) == "" {
			errs = append(errs, fmt.Errorf("config: mcp server %s: command is required", name))
		}
	}

	for _, group := range [][]HookEntry{c.Callbacks.PreToolUse, c.Callbacks.PostToolUse, c.Callbacks.Stop} {
		for _, hook := range group {
			if strings.TrimSpace(hook.Command) == "" {
				errs = append(errs, errors.New("config: callback entry is missing a command"))
			}
		}
	}

	return errors.Join(errs...)
}

// ExecTimeout returns the local tool timeout as a duration.
func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.Actions.ExecTimeout) * time.Second
}

// RequestTimeout returns the model call timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Provider.RequestTimeout) * time.Second
}

// RestrictToWorkspace reports whether file tools are confined to the
// workspace root.
func (c *Config) RestrictToWorkspace() bool {
	return c.Actions.RestrictToWorkspace == nil || *c.Actions.RestrictToWorkspace
}

// TrimEnabled reports whether automatic compaction is on.
func (c *Config) TrimEnabled() bool {
	return c.Trim.Enabled == nil || *c.Trim.Enabled
}

// CallTimeout returns the per-call timeout for one MCP server.
func (s MCPServerConfig) CallTimeout() time.Duration {
	if s.Timeout > 0 {
		return time.Duration(s.Timeout) * time.Second
	}
	return DefaultMCPCallTimeout
}

// HookTimeout returns the effective timeout for one hook entry.
func (h HookEntry) HookTimeout() time.Duration {
	if h.Timeout > 0 {
		return time.Duration(h.Timeout) * time.Second
	}
	return DefaultHookTimeout
}
