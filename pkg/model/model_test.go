package model

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhq/ember/pkg/message"
)

func TestNewRejectsMissingAPIKey(t *testing.T) {
	_, err := New(Config{Type: "openai"})
	assert.Error(t, err)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Config{Type: "bard", APIKey: "k"})
	assert.ErrorContains(t, err, "unknown provider")
}

func TestNewRequiresBaseURLForCompatProviders(t *testing.T) {
	for _, provider := range []string{"deepseek", "minimax", "custom"} {
		_, err := New(Config{Type: provider, APIKey: "k"})
		assert.ErrorContains(t, err, "baseUrl", provider)
	}
}

func TestNewBuildsKnownProviders(t *testing.T) {
	for _, cfg := range []Config{
		{Type: "anthropic", APIKey: "k", Model: "claude-3-5-haiku"},
		{Type: "openai", APIKey: "k", Model: "gpt-4o-mini"},
		{Type: "deepseek", APIKey: "k", BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"},
	} {
		m, err := New(cfg)
		require.NoError(t, err, cfg.Type)
		require.NotNil(t, m)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"https://api.deepseek.com":      "https://api.deepseek.com/v1/",
		"https://api.deepseek.com/":     "https://api.deepseek.com/v1/",
		"https://api.openai.com/v1":     "https://api.openai.com/v1/",
		"https://api.openai.com/v1/":    "https://api.openai.com/v1/",
		"https://host.example.com/v2":   "https://host.example.com/v2/",
		"https://host.example.com/beta": "https://host.example.com/beta/v1/",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeBaseURL(in), in)
	}
}

func TestOpenAIConvertMessagesRoles(t *testing.T) {
	history := []message.Message{
		message.Text(message.RoleSystem, "remember this"),
		message.Text(message.RoleUser, "hi"),
		{Role: message.RoleAssistant, Content: "calling", ToolCalls: []message.ToolCall{
			{ID: "c1", Name: "exec", Arguments: map[string]any{"command": "ls"}},
		}},
		message.ToolResultMessage(message.ToolResult{ToolCallID: "c1", Content: "out"}),
	}
	out := openaiConvertMessages(history, "be brief")
	require.Len(t, out, 5)

	assert.NotNil(t, out[0].OfSystem)
	assert.NotNil(t, out[1].OfSystem)
	assert.NotNil(t, out[2].OfUser)
	require.NotNil(t, out[3].OfAssistant)
	require.Len(t, out[3].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "c1", out[3].OfAssistant.ToolCalls[0].ID)
	assert.JSONEq(t, `{"command":"ls"}`, out[3].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, out[4].OfTool)
	assert.Equal(t, "c1", out[4].OfTool.ToolCallID)
}

func TestOpenAIConvertToolsDefaultsSchema(t *testing.T) {
	tools := openaiConvertTools([]ToolDefinition{
		{Name: "exec", Description: "run a command"},
		{Name: "  "},
	})
	require.Len(t, tools, 1)
	assert.Equal(t, "exec", tools[0].Function.Name)
	assert.Equal(t, "object", tools[0].Function.Parameters["type"])
}

func TestOpenAIResponseMessageSkipsBrokenCalls(t *testing.T) {
	raw := `{
		"role": "assistant",
		"content": "done",
		"tool_calls": [
			{"id": "c1", "type": "function", "function": {"name": "exec", "arguments": "{\"n\":1}"}},
			{"id": "", "type": "function", "function": {"name": "exec", "arguments": ""}}
		]
	}`
	var completion openai.ChatCompletionMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &completion))

	msg := openaiResponseMessage(completion)
	assert.Equal(t, message.RoleAssistant, msg.Role)
	assert.Equal(t, "done", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, float64(1), msg.ToolCalls[0].Arguments["n"])
}

func TestAnthropicConvertMessagesLiftsSystem(t *testing.T) {
	history := []message.Message{
		message.Text(message.RoleSystem, "sticky note"),
		message.Text(message.RoleUser, "hi"),
		message.ToolResultMessage(message.ToolResult{ToolCallID: "c1", Content: "boom", IsError: true}),
	}
	systemBlocks, params := anthropicConvertMessages(history, "be brief")

	require.Len(t, systemBlocks, 2)
	assert.Equal(t, "be brief", systemBlocks[0].Text)
	assert.Equal(t, "sticky note", systemBlocks[1].Text)

	require.Len(t, params, 2)
	assert.Equal(t, anthropicsdk.MessageParamRoleUser, params[0].Role)
	// Tool results travel as user-role tool_result blocks.
	assert.Equal(t, anthropicsdk.MessageParamRoleUser, params[1].Role)
	require.Len(t, params[1].Content, 1)
	require.NotNil(t, params[1].Content[0].OfToolResult)
	assert.Equal(t, "c1", params[1].Content[0].OfToolResult.ToolUseID)
}

func TestAnthropicConvertMessagesEmptyHistoryPlaceholder(t *testing.T) {
	_, params := anthropicConvertMessages(nil, "")
	require.Len(t, params, 1)
	assert.Equal(t, anthropicsdk.MessageParamRoleUser, params[0].Role)
}

func TestAnthropicEncodeSchema(t *testing.T) {
	schema, err := anthropicEncodeSchema(map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []any{"path"},
	})
	require.NoError(t, err)
	assert.Equal(t, "object", string(schema.Type))
	assert.Contains(t, schema.Properties.(map[string]any), "path")

	empty, err := anthropicEncodeSchema(nil)
	require.NoError(t, err)
	assert.Equal(t, "object", string(empty.Type))
}

func TestAnthropicResponseMessageParsesToolUse(t *testing.T) {
	msg := anthropicResponseMessage(anthropicsdk.Message{
		Content: []anthropicsdk.ContentBlockUnion{
			{Type: "text", Text: "let me check"},
			{Type: "tool_use", ID: "t1", Name: "read_file", Input: json.RawMessage(`{"path":"a.txt"}`)},
		},
	})
	assert.Equal(t, "let me check", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "read_file", msg.ToolCalls[0].Name)
	assert.Equal(t, "a.txt", msg.ToolCalls[0].Arguments["path"])
}

func TestDecodeJSONArgs(t *testing.T) {
	assert.Nil(t, decodeJSONArgs(nil))
	assert.Equal(t, map[string]any{"a": float64(1)}, decodeJSONArgs(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, map[string]any{"raw": "not json"}, decodeJSONArgs(json.RawMessage(`not json`)))
	assert.Equal(t, map[string]any{"value": float64(3)}, decodeJSONArgs(json.RawMessage(`3`)))
}

func TestRetryableClassification(t *testing.T) {
	assert.False(t, openaiRetryable(context.Canceled))
	assert.False(t, anthropicRetryable(context.DeadlineExceeded))
	assert.False(t, openaiRetryable(errors.New("parse failure")))

	assert.True(t, openaiRetryable(&openai.Error{StatusCode: 429}))
	assert.True(t, openaiRetryable(&openai.Error{StatusCode: 503}))
	assert.False(t, openaiRetryable(&openai.Error{StatusCode: 400}))

	assert.True(t, anthropicRetryable(&anthropicsdk.Error{StatusCode: 529}))
	assert.False(t, anthropicRetryable(&anthropicsdk.Error{StatusCode: 401}))
}

func TestProviderErrorFormatting(t *testing.T) {
	inner := errors.New("boom")
	err := &ProviderError{Provider: "openai", Status: 502, Err: inner}
	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "502")
	assert.ErrorIs(t, err, inner)

	bare := &ProviderError{Provider: "anthropic", Err: inner}
	assert.NotContains(t, bare.Error(), "status")
}

func TestUsageAdd(t *testing.T) {
	total := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	total.Add(Usage{InputTokens: 2, OutputTokens: 3, TotalTokens: 5})
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 8, TotalTokens: 20}, total)
}

type recordingModel struct {
	lastReq Request
	reply   string
	err     error
}

func (r *recordingModel) Complete(_ context.Context, req Request) (*Response, error) {
	r.lastReq = req
	if r.err != nil {
		return nil, r.err
	}
	return &Response{Message: message.Text(message.RoleAssistant, r.reply)}, nil
}

func TestSummarizerBuildsTranscript(t *testing.T) {
	rec := &recordingModel{reply: "  a summary  "}
	s := &Summarizer{Model: rec, ModelName: "gpt-4o-mini"}

	out, err := s.Summarize(context.Background(), []message.Message{
		message.Text(message.RoleUser, "hello"),
		message.Text(message.RoleAssistant, "hi there"),
	})
	require.NoError(t, err)
	assert.Equal(t, "a summary", out)

	require.Len(t, rec.lastReq.Messages, 1)
	prompt := rec.lastReq.Messages[0].Content
	assert.Contains(t, prompt, "user: hello")
	assert.Contains(t, prompt, "assistant: hi there")
	assert.Equal(t, "gpt-4o-mini", rec.lastReq.Model)
	assert.Equal(t, 512, rec.lastReq.MaxTokens)
	require.NotNil(t, rec.lastReq.Temperature)
	assert.InDelta(t, 0.2, *rec.lastReq.Temperature, 0.001)
}

func TestSummarizerPropagatesErrors(t *testing.T) {
	s := &Summarizer{Model: &recordingModel{err: errors.New("down")}}
	_, err := s.Summarize(context.Background(), nil)
	assert.ErrorContains(t, err, "down")

	var nilSummarizer *Summarizer
	_, err = nilSummarizer.Summarize(context.Background(), nil)
	assert.Error(t, err)
}
