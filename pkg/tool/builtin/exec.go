package toolbuiltin

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	defaultExecTimeout = 60 * time.Second
	maxExecTimeout     = 5 * time.Minute
	maxOutputBytes     = 64 * 1024
	truncationMarker   = "\n[output truncated]"
)

var execSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"command": map[string]any{
			"type":        "string",
			"description": "Shell command executed in the workspace.",
		},
		"timeout": map[string]any{
			"type":        "number",
			"description": "Optional timeout in seconds.",
		},
	},
	"required": []any{"command"},
}

// ExecTool runs shell commands in the workspace. The command gets its
// own process group so a timeout kills the whole tree.
type ExecTool struct {
	workDir string
	timeout time.Duration
}

// NewExecTool builds an exec tool rooted at workDir.
func NewExecTool(workDir string, timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &ExecTool{workDir: workDir, timeout: timeout}
}

func (e *ExecTool) Name() string { return "exec" }

func (e *ExecTool) Description() string {
	return "Execute a shell command in the workspace"
}

func (e *ExecTool) Schema() map[string]any { return execSchema }

func (e *ExecTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return "", err
	}
	timeout := e.timeout
	if raw, ok := args["timeout"]; ok && raw != nil {
		d, err := secondsArg(raw)
		if err != nil {
			return "", fmt.Errorf("invalid timeout: %w", err)
		}
		if d > 0 {
			timeout = d
		}
	}
	if timeout > maxExecTimeout {
		timeout = maxExecTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command("/bin/sh", "-c", command) //nolint:gosec // commands originate from the model on purpose
	cmd.Dir = e.workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out := newCappedBuffer(maxOutputBytes)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		// Negative pid targets the process group.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return out.String(), fmt.Errorf("command timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return out.String(), runCtx.Err()
	case err := <-done:
		if err != nil {
			return out.String(), fmt.Errorf("command failed: %w", err)
		}
		return out.String(), nil
	}
}

// cappedBuffer keeps the first n bytes of combined output and marks the
// cut when more arrives.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimRight(b.buf.String(), "\r\n")
	if b.truncated {
		return s + truncationMarker
	}
	return s
}

func stringArg(args map[string]any, key string) (string, error) {
	if args == nil {
		return "", fmt.Errorf("%s is required", key)
	}
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%s cannot be empty", key)
	}
	return s, nil
}

func secondsArg(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case float64:
		if v < 0 {
			return 0, errors.New("negative duration")
		}
		return time.Duration(v * float64(time.Second)), nil
	case int:
		if v < 0 {
			return 0, errors.New("negative duration")
		}
		return time.Duration(v) * time.Second, nil
	case int64:
		if v < 0 {
			return 0, errors.New("negative duration")
		}
		return time.Duration(v) * time.Second, nil
	default:
		return 0, fmt.Errorf("unsupported duration type %T", raw)
	}
}
