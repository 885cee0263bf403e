package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/emberhq/ember/pkg/message"
)

// TrimPolicy controls when and how history is compacted.
type TrimPolicy struct {
	Enabled       bool
	Threshold     float64 // trigger ratio against the character budget
	PreserveCount int     // latest messages never compacted
}

// Summarizer condenses a message slice into one summary string. When no
// summarizer is wired in, compaction drops the middle partition instead;
// the choice is fixed at construction time, never per-call.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []message.Message) (string, error)
}

// charsPerToken mirrors the rough 4-bytes-per-token estimate the original
// heuristic uses; the budget doubles it to leave room for the reply.
const charsPerToken = 4

const minCharBudget = 2000

// Manager applies the trim policy to session histories before model calls.
type Manager struct {
	policy     TrimPolicy
	maxTokens  int
	summarizer Summarizer
	log        zerolog.Logger
}

// NewManager builds a context manager. summarizer may be nil.
func NewManager(policy TrimPolicy, maxTokens int, summarizer Summarizer, log zerolog.Logger) *Manager {
	if policy.PreserveCount < 1 {
		policy.PreserveCount = 1
	}
	if policy.Threshold <= 0 || policy.Threshold > 1 {
		policy.Threshold = 0.8
	}
	return &Manager{
		policy:     policy,
		maxTokens:  maxTokens,
		summarizer: summarizer,
		log:        log.With().Str("component", "session").Logger(),
	}
}

// Append adds msg to the session history.
func (m *Manager) Append(sess *Session, msg message.Message) {
	sess.Append(msg)
}

// PrepareForModelCall returns the message sequence to send, compacting the
// history first when it exceeds the budget.
func (m *Manager) PrepareForModelCall(ctx context.Context, sess *Session) ([]message.Message, error) {
	snapshot := sess.History()
	if !m.shouldCompact(snapshot) {
		return snapshot, nil
	}

	compacted, err := m.compact(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	sess.replace(compacted)

	if m.ratio(compacted) >= m.policy.Threshold {
		// Nothing left to remove; no further guarantee is possible.
		m.log.Warn().
			Str("session", sess.ID).
			Int("messages", len(compacted)).
			Msg("history still over budget after compaction")
	}
	return message.CloneAll(compacted), nil
}

func (m *Manager) shouldCompact(msgs []message.Message) bool {
	if !m.policy.Enabled {
		return false
	}
	if len(msgs) <= m.policy.PreserveCount {
		return false
	}
	return m.ratio(msgs) >= m.policy.Threshold
}

func (m *Manager) ratio(msgs []message.Message) float64 {
	total := 0
	for _, msg := range msgs {
		total += msg.Size()
	}
	budget := m.maxTokens * charsPerToken * 2
	if budget < minCharBudget {
		budget = minCharBudget
	}
	return float64(total) / float64(budget)
}

// compact partitions the history into anchor (leading system messages),
// middle and tail (last PreserveCount messages), then replaces the middle
// with a single summary message or drops it when no summarizer is wired.
func (m *Manager) compact(ctx context.Context, snapshot []message.Message) ([]message.Message, error) {
	anchor, middle, tail := partition(snapshot, m.policy.PreserveCount)
	if len(middle) == 0 {
		return snapshot, nil
	}

	out := make([]message.Message, 0, len(anchor)+1+len(tail))
	out = append(out, anchor...)

	if m.summarizer != nil {
		summary, err := m.summarizer.Summarize(ctx, middle)
		if err != nil {
			return nil, fmt.Errorf("session: summarize compacted history: %w", err)
		}
		if strings.TrimSpace(summary) != "" {
			out = append(out, message.Text(message.RoleSystem, "# Summary\n"+strings.TrimSpace(summary)))
		}
	}

	out = append(out, tail...)
	m.log.Debug().
		Int("before", len(snapshot)).
		Int("after", len(out)).
		Bool("summarized", m.summarizer != nil).
		Msg("compacted history")
	return out, nil
}

// partition splits msgs into the leading run of system messages, the tail of
// the last preserve entries, and everything in between. When anchor and tail
// would overlap, the tail wins and the middle is empty.
func partition(msgs []message.Message, preserve int) (anchor, middle, tail []message.Message) {
	anchorEnd := 0
	for anchorEnd < len(msgs) && msgs[anchorEnd].Role == message.RoleSystem {
		anchorEnd++
	}
	tailStart := len(msgs) - preserve
	if tailStart < anchorEnd {
		tailStart = anchorEnd
	}
	return msgs[:anchorEnd], msgs[anchorEnd:tailStart], msgs[tailStart:]
}
