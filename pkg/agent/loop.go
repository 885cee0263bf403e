package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/emberhq/ember/pkg/hooks"
	"github.com/emberhq/ember/pkg/message"
	"github.com/emberhq/ember/pkg/model"
	"github.com/emberhq/ember/pkg/session"
	"github.com/emberhq/ember/pkg/tool"
)

// State tracks where a turn is in its lifecycle.
type State int

const (
	StateAwaitingModel State = iota
	StateModelResponded
	StateExecutingTools
	StateHookStop
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateModelResponded:
		return "model_responded"
	case StateExecutingTools:
		return "executing_tools"
	case StateHookStop:
		return "hook_stop"
	case StateDone:
		return "done"
	default:
		return "aborted"
	}
}

// Error kinds reported in a failed Outcome.
const (
	ErrKindProvider       = "provider"
	ErrKindIterationLimit = "iteration_limit"
	ErrKindCancelled      = "cancelled"
)

// ErrIterationLimit aborts a turn whose tool rounds exceeded the budget.
var ErrIterationLimit = errors.New("tool iteration limit exceeded")

const toolFanOutLimit = 4

// HookSet groups configured hooks per lifecycle point.
type HookSet struct {
	Pre  []hooks.Spec
	Post []hooks.Spec
	Stop []hooks.Spec
}

// Outcome is the structured result of one turn.
type Outcome struct {
	State      State
	Content    string
	Usage      model.Usage
	Iterations int
	History    []message.Message
	Err        error
	ErrKind    string
}

// Failed reports whether the turn aborted.
func (o Outcome) Failed() bool { return o.State == StateAborted }

// Loop drives one conversation turn: alternate model calls with tool
// execution until the model answers without tool calls or a limit trips.
type Loop struct {
	model         model.Model
	registry      *tool.Registry
	manager       *session.Manager
	hooks         *hooks.Runner
	hookSet       HookSet
	systemPrompt  string
	maxIterations int
	log           zerolog.Logger
}

// LoopOption configures optional loop behaviour.
type LoopOption func(*Loop)

// WithSystemPrompt sets the system prompt sent on every model call.
func WithSystemPrompt(prompt string) LoopOption {
	return func(l *Loop) { l.systemPrompt = prompt }
}

// WithHooks installs lifecycle hooks.
func WithHooks(runner *hooks.Runner, set HookSet) LoopOption {
	return func(l *Loop) {
		l.hooks = runner
		l.hookSet = set
	}
}

// WithMaxIterations caps tool-executing rounds per turn.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// NewLoop wires a dispatch loop.
func NewLoop(m model.Model, registry *tool.Registry, manager *session.Manager, log zerolog.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		model:         m,
		registry:      registry,
		manager:       manager,
		maxIterations: 8,
		log:           log.With().Str("component", "loop").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes one turn for sess, starting from userMsg.
func (l *Loop) Run(ctx context.Context, sess *session.Session, userMsg message.Message) Outcome {
	ctx, span := otel.Tracer("ember/agent").Start(ctx, "agent.turn",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer span.End()

	sess.SetActive(true)
	defer sess.SetActive(false)
	sess.ResetIterations()

	l.manager.Append(sess, userMsg)

	var usage model.Usage
	for {
		if err := ctx.Err(); err != nil {
			return l.abort(sess, usage, err, ErrKindCancelled)
		}

		history, err := l.manager.PrepareForModelCall(ctx, sess)
		if err != nil {
			return l.abort(sess, usage, err, ErrKindProvider)
		}

		resp, err := l.model.Complete(ctx, model.Request{
			Messages: history,
			System:   l.systemPrompt,
			Tools:    l.registry.Definitions(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return l.abort(sess, usage, err, ErrKindCancelled)
			}
			return l.abort(sess, usage, err, ErrKindProvider)
		}
		usage.Add(resp.Usage)
		l.manager.Append(sess, resp.Message)

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			l.runStopHooks(ctx, sess, resp.Message.Content)
			l.log.Debug().Str("session", sess.ID).Int("iterations", sess.Iterations()).Msg("turn complete")
			return Outcome{
				State:      StateDone,
				Content:    resp.Message.Content,
				Usage:      usage,
				Iterations: sess.Iterations(),
				History:    sess.History(),
			}
		}

		if sess.Iterations() >= l.maxIterations {
			err := fmt.Errorf("%w: %d rounds", ErrIterationLimit, l.maxIterations)
			span.RecordError(err)
			return l.abort(sess, usage, err, ErrKindIterationLimit)
		}
		sess.BumpIterations()

		results := l.executeBatch(ctx, sess.ID, calls)
		if err := ctx.Err(); err != nil {
			return l.abort(sess, usage, err, ErrKindCancelled)
		}
		for _, res := range results {
			l.manager.Append(sess, message.ToolResultMessage(res))
		}
	}
}

func (l *Loop) abort(sess *session.Session, usage model.Usage, err error, kind string) Outcome {
	l.log.Warn().Str("session", sess.ID).Str("kind", kind).Err(err).Msg("turn aborted")
	return Outcome{
		State:      StateAborted,
		Usage:      usage,
		Iterations: sess.Iterations(),
		History:    sess.History(),
		Err:        err,
		ErrKind:    kind,
	}
}

// executeBatch runs one model response's tool calls concurrently and
// returns results in the provider's call order.
func (l *Loop) executeBatch(ctx context.Context, sessionID string, calls []message.ToolCall) []message.ToolResult {
	results := make([]message.ToolResult, len(calls))

	limit := toolFanOutLimit
	if len(calls) < limit {
		limit = len(calls)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = l.executeOne(gctx, sessionID, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (l *Loop) executeOne(ctx context.Context, sessionID string, call message.ToolCall) message.ToolResult {
	res := message.ToolResult{ToolCallID: call.ID}

	if l.hooks != nil {
		out := l.hooks.RunPre(ctx, l.hookSet.Pre, hooks.Context{
			SessionID: sessionID,
			ToolName:  call.Name,
			Arguments: call.Arguments,
		})
		if out.Blocked {
			res.Content = out.Result
			if res.Content == "" {
				res.Content = "blocked by hook"
			}
			return res
		}
	}

	content, err := l.registry.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		res.IsError = true
		res.ErrKind = tool.ClassifyErr(err)
		res.Content = err.Error()
		if content != "" {
			res.Content = content + "\n" + err.Error()
		}
		l.log.Debug().Str("tool", call.Name).Str("kind", res.ErrKind).Err(err).Msg("tool failed")
	} else {
		res.Content = content
	}

	if l.hooks != nil {
		out := l.hooks.RunPost(ctx, l.hookSet.Post, hooks.Context{
			SessionID: sessionID,
			ToolName:  call.Name,
			Arguments: call.Arguments,
			Result:    res.Content,
			IsError:   res.IsError,
		})
		if out.Replaced {
			res.Content = out.Result
		}
	}
	return res
}

func (l *Loop) runStopHooks(ctx context.Context, sess *session.Session, content string) {
	if l.hooks == nil || len(l.hookSet.Stop) == 0 {
		return
	}
	l.hooks.RunStop(ctx, l.hookSet.Stop, hooks.Context{
		SessionID: sess.ID,
		Result:    content,
	})
}
