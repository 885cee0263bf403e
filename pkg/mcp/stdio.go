package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// transport is the half of a connection that moves frames. Split out so
// the client and manager can be tested against an in-memory fake.
type transport interface {
	Call(ctx context.Context, req *Request) (*Response, error)
	Notify(req *Request) error
	Close() error
}

// stdioOptions customizes how the child server process starts.
type stdioOptions struct {
	Args []string
	Env  map[string]string
	Dir  string
}

// stdioTransport runs the server as a child process and exchanges
// line-delimited JSON-RPC frames over its stdin/stdout pipes.
type stdioTransport struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  strings.Builder
	enc     *json.Encoder
	pending *pendingTracker

	writeMu  sync.Mutex
	failOnce sync.Once
	failErr  error
	cancel   context.CancelFunc
}

func newStdioTransport(ctx context.Context, binary string, opts stdioOptions) (transport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, binary, opts.Args...) //nolint:gosec // command comes from operator config
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		env := os.Environ()
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	t := &stdioTransport{
		cmd:     cmd,
		stdin:   stdin,
		pending: newPendingTracker(),
		cancel:  cancel,
	}
	cmd.Stderr = &t.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start mcp server: %w", err)
	}

	t.enc = json.NewEncoder(stdin)
	t.enc.SetEscapeHTML(false)

	go t.readLoop(stdout)
	go t.waitLoop()
	return t, nil
}

func (t *stdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID == nil {
			// Server-initiated notification; nothing correlates to it.
			continue
		}
		t.pending.deliver(*resp.ID, callResult{resp: &resp})
	}
	if err := scanner.Err(); err != nil {
		t.fail(fmt.Errorf("stdio read: %w", err))
		return
	}
	t.fail(ErrTransportClosed)
}

func (t *stdioTransport) waitLoop() {
	err := t.cmd.Wait()
	if err != nil {
		t.fail(fmt.Errorf("mcp server exited: %w - %s", err, strings.TrimSpace(t.stderr.String())))
		return
	}
	t.fail(ErrTransportClosed)
}

func (t *stdioTransport) fail(err error) {
	t.failOnce.Do(func() {
		if err == nil {
			err = ErrTransportClosed
		}
		t.failErr = err
		t.pending.failAll(err)
	})
}

// Call sends req and blocks until the matching response arrives or ctx ends.
// A response arriving after ctx expires is discarded.
func (t *stdioTransport) Call(ctx context.Context, req *Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.ID == nil {
		return nil, errors.New("call requires a request id")
	}
	req.JSONRPC = jsonRPCVersion

	ch, err := t.pending.add(*req.ID)
	if err != nil {
		return nil, err
	}
	if err := t.send(req); err != nil {
		t.pending.cancel(*req.ID)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		t.pending.cancel(*req.ID)
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget frame without an id.
func (t *stdioTransport) Notify(req *Request) error {
	req.JSONRPC = jsonRPCVersion
	req.ID = nil
	return t.send(req)
}

func (t *stdioTransport) send(req *Request) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.stdin == nil {
		return ErrTransportClosed
	}
	if err := t.enc.Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return nil
}

// Close tears down the child process and wakes pending calls.
func (t *stdioTransport) Close() error {
	t.fail(ErrTransportClosed)
	t.writeMu.Lock()
	if t.stdin != nil {
		_ = t.stdin.Close()
		t.stdin = nil
	}
	t.writeMu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return nil
}
