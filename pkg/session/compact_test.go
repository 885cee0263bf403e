package session

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhq/ember/pkg/message"
)

type fixedSummarizer struct {
	summary string
	seen    []message.Message
}

func (f *fixedSummarizer) Summarize(_ context.Context, msgs []message.Message) (string, error) {
	f.seen = msgs
	return f.summary, nil
}

// bigHistory builds sys + n oversized user/assistant messages so the
// size ratio trips the threshold.
func bigHistory(n int) []message.Message {
	msgs := []message.Message{message.Text(message.RoleSystem, "persona prompt")}
	filler := strings.Repeat("x", 600)
	for i := 0; i < n; i++ {
		role := message.RoleUser
		if i%2 == 1 {
			role = message.RoleAssistant
		}
		msgs = append(msgs, message.Text(role, filler))
	}
	return msgs
}

func fillSession(sess *Session, msgs []message.Message) {
	for _, msg := range msgs {
		sess.Append(msg)
	}
}

func TestNoCompactionUnderThreshold(t *testing.T) {
	m := NewManager(TrimPolicy{Enabled: true, Threshold: 0.8, PreserveCount: 3}, 1024, nil, zerolog.Nop())
	sess := NewStore().Get("s")
	fillSession(sess, []message.Message{
		message.Text(message.RoleSystem, "sys"),
		message.Text(message.RoleUser, "short"),
	})

	out, err := m.PrepareForModelCall(context.Background(), sess)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestCompactionDropsMiddleWithoutSummarizer(t *testing.T) {
	m := NewManager(TrimPolicy{Enabled: true, Threshold: 0.5, PreserveCount: 3}, 1024, nil, zerolog.Nop())
	sess := NewStore().Get("s")
	history := bigHistory(10)
	fillSession(sess, history)

	out, err := m.PrepareForModelCall(context.Background(), sess)
	require.NoError(t, err)

	// anchor + tail only
	require.Len(t, out, 4)
	assert.Equal(t, history[0].Content, out[0].Content)
	for i := 0; i < 3; i++ {
		assert.Equal(t, history[len(history)-3+i].Content, out[1+i].Content)
		assert.Equal(t, history[len(history)-3+i].Role, out[1+i].Role)
	}
}

func TestCompactionSummarizesMiddle(t *testing.T) {
	sum := &fixedSummarizer{summary: "they discussed things"}
	m := NewManager(TrimPolicy{Enabled: true, Threshold: 0.5, PreserveCount: 3}, 1024, sum, zerolog.Nop())
	sess := NewStore().Get("s")
	history := bigHistory(10)
	fillSession(sess, history)

	out, err := m.PrepareForModelCall(context.Background(), sess)
	require.NoError(t, err)

	// anchor + one summary + tail
	require.Len(t, out, 5)
	assert.Equal(t, message.RoleSystem, out[1].Role)
	assert.Equal(t, "# Summary\nthey discussed things", out[1].Content)
	assert.Len(t, sum.seen, len(history)-1-3)
}

func TestAnchorAndTailSurviveByteIdentical(t *testing.T) {
	m := NewManager(TrimPolicy{Enabled: true, Threshold: 0.5, PreserveCount: 2}, 1024, nil, zerolog.Nop())
	sess := NewStore().Get("s")
	history := bigHistory(8)
	fillSession(sess, history)

	out, err := m.PrepareForModelCall(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, history[0].Content, out[0].Content)
	assert.Equal(t, history[len(history)-2].Content, out[1].Content)
	assert.Equal(t, history[len(history)-1].Content, out[2].Content)
}

func TestCompactionDisabledPolicy(t *testing.T) {
	m := NewManager(TrimPolicy{Enabled: false, Threshold: 0.5, PreserveCount: 2}, 128, nil, zerolog.Nop())
	sess := NewStore().Get("s")
	fillSession(sess, bigHistory(10))

	out, err := m.PrepareForModelCall(context.Background(), sess)
	require.NoError(t, err)
	assert.Len(t, out, 11)
}

func TestCompactionNoopWhenOnlyAnchorAndTail(t *testing.T) {
	m := NewManager(TrimPolicy{Enabled: true, Threshold: 0.1, PreserveCount: 5}, 64, nil, zerolog.Nop())
	sess := NewStore().Get("s")
	history := bigHistory(5)
	fillSession(sess, history)

	out, err := m.PrepareForModelCall(context.Background(), sess)
	require.NoError(t, err)
	// middle is empty: nothing can be removed.
	assert.Len(t, out, len(history))
}

func TestPartitionTailWinsOverlap(t *testing.T) {
	msgs := []message.Message{
		message.Text(message.RoleSystem, "a"),
		message.Text(message.RoleUser, "b"),
		message.Text(message.RoleAssistant, "c"),
	}
	anchor, middle, tail := partition(msgs, 5)
	assert.Len(t, anchor, 1)
	assert.Empty(t, middle)
	assert.Len(t, tail, 2)
}
