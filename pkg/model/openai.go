package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/emberhq/ember/pkg/message"
)

type openaiCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// openaiModel speaks the OpenAI chat completions dialect. It also backs
// deepseek, minimax and custom endpoints that expose the same surface
// behind a different base URL.
type openaiModel struct {
	chat        openaiCompletions
	provider    string
	model       string
	maxTokens   int
	maxRetries  int
	temperature *float64
}

func newOpenAICompat(cfg Config, provider string) (Model, error) {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(normalizeBaseURL(cfg.BaseURL)))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	client := openai.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &openaiModel{
		chat:        &client.Chat.Completions,
		provider:    provider,
		model:       strings.TrimSpace(cfg.Model),
		maxTokens:   maxTokens,
		maxRetries:  2,
		temperature: cfg.Temperature,
	}, nil
}

// normalizeBaseURL appends /v1 when the endpoint omits a version segment,
// so configs can point at a bare host.
func normalizeBaseURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return raw
	}
	parts := strings.Split(trimmed, "/")
	last := parts[len(parts)-1]
	if len(last) >= 2 && last[0] == 'v' {
		if _, err := fmt.Sscanf(last[1:], "%d", new(int)); err == nil {
			return trimmed + "/"
		}
	}
	return trimmed + "/v1/"
}

func (m *openaiModel) Complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := m.doWithRetry(ctx, func(ctx context.Context) error {
		completion, err := m.chat.New(ctx, m.buildParams(req))
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return errors.New("empty choices in completion response")
		}
		choice := completion.Choices[0]
		resp = &Response{
			Message:    openaiResponseMessage(choice.Message),
			Usage:      openaiUsage(completion.Usage),
			StopReason: choice.FinishReason,
		}
		return nil
	})
	if err != nil {
		return nil, m.wrapErr(err)
	}
	return resp, nil
}

func (m *openaiModel) wrapErr(err error) error {
	status := 0
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return &ProviderError{Provider: m.provider, Status: status, Err: err}
}

func (m *openaiModel) buildParams(req Request) openai.ChatCompletionNewParams {
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = m.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(modelName),
		Messages:  openaiConvertMessages(req.Messages, req.System),
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	if m.temperature != nil {
		params.Temperature = openai.Float(*m.temperature)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = openaiConvertTools(req.Tools)
	}
	return params
}

func (m *openaiModel) doWithRetry(ctx context.Context, fn func(context.Context) error) error {
	attempts := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !openaiRetryable(err) || attempts >= m.maxRetries {
			return err
		}
		attempts++
		backoff := time.Duration(attempts*attempts) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func openaiRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func openaiConvertMessages(msgs []message.Message, system string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if trimmed := strings.TrimSpace(system); trimmed != "" {
		out = append(out, openai.SystemMessage(trimmed))
	}
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			if msg.Content != "" {
				out = append(out, openai.SystemMessage(msg.Content))
			}
		case message.RoleAssistant:
			out = append(out, openaiAssistantMessage(msg))
		case message.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openaiUserMessage(msg))
		}
	}
	return out
}

func openaiUserMessage(msg message.Message) openai.ChatCompletionMessageParamUnion {
	if len(msg.Blocks) == 0 {
		return openai.UserMessage(msg.Content)
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, 1+len(msg.Blocks))
	if msg.Content != "" {
		parts = append(parts, openai.TextContentPart(msg.Content))
	}
	for _, block := range msg.Blocks {
		switch block.Type {
		case message.BlockText:
			if block.Text != "" {
				parts = append(parts, openai.TextContentPart(block.Text))
			}
		case message.BlockImage:
			if block.Data != "" && block.MediaType != "" {
				url := "data:" + block.MediaType + ";base64," + block.Data
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			}
		case message.BlockDocument:
			// No document part in the chat completions dialect.
			parts = append(parts, openai.TextContentPart("[document]"))
		}
	}
	if len(parts) == 0 {
		return openai.UserMessage(msg.Content)
	}
	return openai.UserMessage(parts)
}

func openaiAssistantMessage(msg message.Message) openai.ChatCompletionMessageParamUnion {
	if len(msg.ToolCalls) == 0 {
		return openai.AssistantMessage(msg.Content)
	}
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		assistant.Content.OfString = param.NewOpt(msg.Content)
	}
	for _, call := range msg.ToolCalls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func openaiConvertTools(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, def := range tools {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		fn := openai.FunctionDefinitionParam{Name: name}
		if def.Description != "" {
			fn.Description = openai.String(def.Description)
		}
		if len(def.InputSchema) > 0 {
			fn.Parameters = openai.FunctionParameters(def.InputSchema)
		} else {
			fn.Parameters = openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func openaiResponseMessage(msg openai.ChatCompletionMessage) message.Message {
	out := message.Text(message.RoleAssistant, msg.Content)
	for _, call := range msg.ToolCalls {
		id := strings.TrimSpace(call.ID)
		name := strings.TrimSpace(call.Function.Name)
		if id == "" || name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, message.ToolCall{
			ID:        id,
			Name:      name,
			Arguments: decodeJSONArgs(json.RawMessage(call.Function.Arguments)),
		})
	}
	return out
}

func openaiUsage(u openai.CompletionUsage) Usage {
	return Usage{
		InputTokens:  int(u.PromptTokens),
		OutputTokens: int(u.CompletionTokens),
		TotalTokens:  int(u.TotalTokens),
	}
}
