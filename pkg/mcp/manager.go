package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxRespawns    = 3
	respawnBackoff = 500 * time.Millisecond
)

// Tool pairs an advertised tool with the server that owns it.
type Tool struct {
	Server string
	Info   ToolInfo
}

type serverState struct {
	spec     ServerSpec
	conn     *Connection
	respawns int
	down     bool
	dialing  chan struct{} // non-nil while one caller spawns; closed when done
}

// Manager owns one connection per configured server, spawning lazily and
// respawning crashed servers a bounded number of times. A server whose
// respawn budget is spent stays unavailable until Reset.
type Manager struct {
	mu      sync.Mutex
	servers map[string]*serverState
	order   []string
	log     zerolog.Logger
	sleep   func(time.Duration)
}

// NewManager registers specs without spawning anything yet.
func NewManager(specs []ServerSpec, log zerolog.Logger) *Manager {
	m := &Manager{
		servers: make(map[string]*serverState, len(specs)),
		log:     log.With().Str("component", "mcp").Logger(),
		sleep:   time.Sleep,
	}
	for _, spec := range specs {
		if spec.Name == "" || spec.Command == "" {
			continue
		}
		if _, dup := m.servers[spec.Name]; dup {
			continue
		}
		m.servers[spec.Name] = &serverState{spec: spec}
		m.order = append(m.order, spec.Name)
	}
	return m
}

// Connect eagerly establishes every configured server. Individual
// failures are logged and leave the server to lazy reconnection.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()
	for _, name := range names {
		if _, err := m.ensureConnected(ctx, name); err != nil {
			m.log.Warn().Str("server", name).Err(err).Msg("mcp connect failed")
		}
	}
}

// Tools lists every tool across connected servers, sorted by server then
// tool name. Servers that cannot connect are skipped.
func (m *Manager) Tools(ctx context.Context) []Tool {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()

	var out []Tool
	for _, name := range names {
		conn, err := m.ensureConnected(ctx, name)
		if err != nil {
			continue
		}
		for _, info := range conn.Tools() {
			out = append(out, Tool{Server: name, Info: info})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].Info.Name < out[j].Info.Name
	})
	return out
}

// Invoke calls tool on server. A connection-lost failure marks the
// connection dead; the next Invoke attempts a respawn if budget remains.
func (m *Manager) Invoke(ctx context.Context, server, tool string, args map[string]any) (string, bool, error) {
	ctx, span := otel.Tracer("ember/mcp").Start(ctx, "mcp.invoke",
		trace.WithAttributes(
			attribute.String("mcp.server", server),
			attribute.String("mcp.tool", tool),
		))
	defer span.End()

	conn, err := m.ensureConnected(ctx, server)
	if err != nil {
		span.RecordError(err)
		return "", false, err
	}
	content, isErr, err := conn.CallTool(ctx, tool, args)
	if err != nil {
		span.RecordError(err)
		if isConnectionLost(err) {
			m.markDead(server, conn)
		}
		return "", false, err
	}
	return content, isErr, nil
}

// Reset restores the respawn budget for every server, typically after a
// config reload.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.servers {
		st.respawns = 0
		st.down = false
	}
}

// Close kills every live server process.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.servers {
		if st.conn != nil {
			_ = st.conn.Close()
			st.conn = nil
		}
	}
}

// ensureConnected returns the live connection for server, spawning it if
// needed. Only one caller dials at a time; concurrent callers wait on the
// dialing gate and re-check, so a batch of tool calls after a crash burns
// a single respawn attempt and never leaks an overwritten connection.
func (m *Manager) ensureConnected(ctx context.Context, server string) (*Connection, error) {
	for {
		m.mu.Lock()
		st, ok := m.servers[server]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("unknown mcp server %q", server)
		}
		if st.conn != nil {
			conn := st.conn
			m.mu.Unlock()
			return conn, nil
		}
		if st.down {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrServerUnavailable, server)
		}
		if st.dialing != nil {
			wait := st.dialing
			m.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		attempt := st.respawns
		if attempt >= maxRespawns {
			st.down = true
			m.mu.Unlock()
			m.log.Error().Str("server", server).Int("respawns", attempt).Msg("mcp respawn budget exhausted")
			return nil, fmt.Errorf("%w: %s", ErrServerUnavailable, server)
		}
		st.respawns++
		gate := make(chan struct{})
		st.dialing = gate
		spec := st.spec
		m.mu.Unlock()

		if attempt > 0 {
			m.sleep(respawnBackoff << (attempt - 1))
			m.log.Info().Str("server", server).Int("attempt", attempt+1).Msg("respawning mcp server")
		}

		conn, err := Connect(ctx, spec)

		m.mu.Lock()
		st.dialing = nil
		if err == nil {
			st.conn = conn
		}
		m.mu.Unlock()
		close(gate)

		if err != nil {
			return nil, err
		}
		m.log.Debug().Str("server", server).Int("tools", len(conn.Tools())).Msg("mcp server connected")
		return conn, nil
	}
}

func (m *Manager) markDead(server string, conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.servers[server]
	if !ok || st.conn != conn {
		return
	}
	_ = conn.Close()
	st.conn = nil
	m.log.Warn().Str("server", server).Msg("mcp connection lost")
}

func isConnectionLost(err error) bool {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Kind == KindConnectionLost
	}
	return errors.Is(err, ErrTransportClosed)
}
