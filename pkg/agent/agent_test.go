package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhq/ember/pkg/config"
	"github.com/emberhq/ember/pkg/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	trimOff := false
	return &config.Config{
		Provider: config.ProviderConfig{Type: config.ProviderOpenAI, APIKey: "test-key"},
		Agent: config.AgentConfig{
			Workspace:         t.TempDir(),
			Model:             "gpt-4o-mini",
			MaxTokens:         1024,
			MaxConcurrency:    2,
			MaxToolIterations: 4,
		},
		Trim: config.TrimConfig{Enabled: &trimOff},
	}
}

func TestAgentRunCarriesPersona(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{textResponse("ahoy")}}
	ag, err := New(testConfig(t), WithModel(m), WithPersona("you are a pirate"))
	require.NoError(t, err)
	defer ag.Close()
	require.NoError(t, ag.Start(context.Background()))

	out, err := ag.Run(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, "ahoy", out.Content)
	assert.Equal(t, "you are a pirate", m.lastSystem)
}

func TestAgentRunReusesSessionKey(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{textResponse("first"), textResponse("second")}}
	ag, err := New(testConfig(t), WithModel(m))
	require.NoError(t, err)
	defer ag.Close()
	require.NoError(t, ag.Start(context.Background()))

	out, err := ag.Run(context.Background(), "chat-1", "one")
	require.NoError(t, err)
	require.Len(t, out.History, 2)

	out, err = ag.Run(context.Background(), "chat-1", "two")
	require.NoError(t, err)
	assert.Len(t, out.History, 4)
}

func TestAgentNilConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
