package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 30 * time.Second
	envPrefix      = "EMBER_"
)

// Lifecycle points a hook can bind to.
const (
	EventPreToolUse  = "pre_tool_use"
	EventPostToolUse = "post_tool_use"
	EventStop        = "stop"
)

// Spec is one configured hook: a shell command gated by an optional
// tool-name pattern and a timeout.
type Spec struct {
	Command string
	Pattern string
	Timeout time.Duration
}

// Context is the payload handed to a hook process, as JSON on stdin and
// flattened into EMBER_* environment variables.
type Context struct {
	Event     string         `json:"event"`
	SessionID string         `json:"session_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// Outcome is the interpreted hook output. Zero value means pass.
type Outcome struct {
	Blocked  bool
	Replaced bool
	Result   string
}

// Runner executes hook commands. Any hook failure degrades to a pass so
// the turn is never aborted by observability plumbing.
type Runner struct {
	workDir string
	timeout time.Duration
	log     zerolog.Logger
}

// RunnerOption configures optional behaviour.
type RunnerOption func(*Runner)

// WithWorkDir sets the working directory for hook commands.
func WithWorkDir(dir string) RunnerOption {
	return func(r *Runner) { r.workDir = dir }
}

// WithDefaultTimeout overrides the fallback per-hook budget.
func WithDefaultTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRunner builds a hook runner.
func NewRunner(log zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		timeout: defaultTimeout,
		log:     log.With().Str("component", "hooks").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunPre runs pre-tool-use hooks in order. The first blocking outcome
// short-circuits and its result substitutes the tool execution.
func (r *Runner) RunPre(ctx context.Context, specs []Spec, hctx Context) Outcome {
	hctx.Event = EventPreToolUse
	for _, spec := range specs {
		if !r.matches(spec, hctx.ToolName) {
			continue
		}
		out := r.runOne(ctx, spec, hctx)
		if out.Blocked {
			return out
		}
	}
	return Outcome{}
}

// RunPost runs post-tool-use hooks in order. Each matching hook may
// replace the result content seen by later hooks and by the model.
func (r *Runner) RunPost(ctx context.Context, specs []Spec, hctx Context) Outcome {
	hctx.Event = EventPostToolUse
	final := Outcome{}
	for _, spec := range specs {
		if !r.matches(spec, hctx.ToolName) {
			continue
		}
		out := r.runOne(ctx, spec, hctx)
		if out.Replaced {
			final = out
			hctx.Result = out.Result
		}
	}
	return final
}

// RunStop runs stop hooks for their side effects; output is ignored.
func (r *Runner) RunStop(ctx context.Context, specs []Spec, hctx Context) {
	hctx.Event = EventStop
	for _, spec := range specs {
		if !r.matches(spec, hctx.ToolName) {
			continue
		}
		r.runOne(ctx, spec, hctx)
	}
}

// matches applies the hook's pattern to the tool name. An empty pattern
// matches everything; a broken pattern never matches.
func (r *Runner) matches(spec Spec, toolName string) bool {
	pattern := strings.TrimSpace(spec.Pattern)
	if pattern == "" || toolName == "" {
		return true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		r.log.Warn().Str("pattern", spec.Pattern).Err(err).Msg("invalid hook pattern")
		return false
	}
	return re.MatchString(toolName)
}

func (r *Runner) runOne(ctx context.Context, spec Spec, hctx Context) Outcome {
	cmdStr := strings.TrimSpace(spec.Command)
	if cmdStr == "" {
		return Outcome{}
	}

	payload, err := json.Marshal(hctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("marshal hook context")
		return Outcome{}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Own process group so the timeout kills the whole tree, not just the
	// shell; a surviving grandchild would otherwise hold the output pipes
	// open and stall the turn.
	cmd := exec.Command("/bin/sh", "-c", cmdStr)
	cmd.Env = append(os.Environ(), flattenEnv(hctx)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = bytes.NewReader(payload)

	if err := cmd.Start(); err != nil {
		r.log.Warn().Str("command", cmdStr).Err(err).Msg("start hook")
		return Outcome{}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			r.log.Warn().Str("command", cmdStr).Dur("timeout", timeout).Msg("hook timed out")
		}
		return Outcome{}
	case err := <-done:
		if err != nil {
			r.log.Warn().Str("command", cmdStr).Err(err).Str("stderr", stderr.String()).Msg("hook failed")
			return Outcome{}
		}
		return parseOutcome(hctx.Event, stdout.String())
	}
}

// parseOutcome interprets hook stdout. Empty or non-JSON output is a
// pass; a JSON object can block (pre) or replace the result (post).
func parseOutcome(event, out string) Outcome {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" || !strings.HasPrefix(trimmed, "{") {
		return Outcome{}
	}
	var parsed struct {
		Decision string `json:"decision"`
		Result   any    `json:"result"`
	}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return Outcome{}
	}
	result := stringifyResult(parsed.Result)
	if event == EventPreToolUse && parsed.Decision == "block" {
		return Outcome{Blocked: true, Result: result}
	}
	if event == EventPostToolUse && parsed.Result != nil {
		return Outcome{Replaced: true, Result: result}
	}
	return Outcome{}
}

func stringifyResult(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// flattenEnv exposes the context fields as EMBER_* variables.
func flattenEnv(hctx Context) []string {
	env := []string{
		envPrefix + "EVENT=" + hctx.Event,
		envPrefix + "TOOL_NAME=" + hctx.ToolName,
		envPrefix + "RESULT=" + hctx.Result,
		envPrefix + "IS_ERROR=" + strconv.FormatBool(hctx.IsError),
	}
	if hctx.SessionID != "" {
		env = append(env, envPrefix+"SESSION_ID="+hctx.SessionID)
	}
	if len(hctx.Arguments) > 0 {
		if data, err := json.Marshal(hctx.Arguments); err == nil {
			env = append(env, envPrefix+"ARGUMENTS="+string(data))
		}
	}
	return env
}
