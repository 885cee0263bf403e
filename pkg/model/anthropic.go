package model

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/emberhq/ember/pkg/message"
)

type anthropicMessages interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

type anthropicModel struct {
	msgs        anthropicMessages
	model       string
	maxTokens   int
	maxRetries  int
	temperature *float64
}

func newAnthropic(cfg Config) (Model, error) {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	client := anthropicsdk.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &anthropicModel{
		msgs:        &client.Messages,
		model:       strings.TrimSpace(cfg.Model),
		maxTokens:   maxTokens,
		maxRetries:  2,
		temperature: cfg.Temperature,
	}, nil
}

// Complete issues a non-streaming completion.
func (m *anthropicModel) Complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := m.doWithRetry(ctx, func(ctx context.Context) error {
		params, err := m.buildParams(req)
		if err != nil {
			return err
		}
		msg, err := m.msgs.New(ctx, params)
		if err != nil {
			return err
		}
		resp = &Response{
			Message:    anthropicResponseMessage(*msg),
			Usage:      anthropicUsage(msg.Usage),
			StopReason: string(msg.StopReason),
		}
		return nil
	})
	if err != nil {
		return nil, wrapAnthropicErr(err)
	}
	return resp, nil
}

func wrapAnthropicErr(err error) error {
	status := 0
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return &ProviderError{Provider: "anthropic", Status: status, Err: err}
}

func (m *anthropicModel) buildParams(req Request) (anthropicsdk.MessageNewParams, error) {
	systemBlocks, messageParams := anthropicConvertMessages(req.Messages, req.System)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(m.selectModel(req.Model)),
		MaxTokens: int64(maxTokens),
		Messages:  messageParams,
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicConvertTools(req.Tools)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if m.temperature != nil {
		params.Temperature = param.NewOpt(*m.temperature)
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	return params, nil
}

func (m *anthropicModel) selectModel(override string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	return m.model
}

func (m *anthropicModel) doWithRetry(ctx context.Context, fn func(context.Context) error) error {
	attempts := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !anthropicRetryable(err) || attempts >= m.maxRetries {
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

func anthropicRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *anthropicsdk.Error
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

func anthropicConvertMessages(msgs []message.Message, system string) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var systemBlocks []anthropicsdk.TextBlockParam
	if trimmed := strings.TrimSpace(system); trimmed != "" {
		systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: trimmed})
	}

	params := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			if trimmed := strings.TrimSpace(msg.Content); trimmed != "" {
				systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: trimmed})
			}
		case message.RoleAssistant:
			params = append(params, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: anthropicAssistantContent(msg),
			})
		case message.RoleTool:
			// Anthropic represents tool results as user-role blocks.
			params = append(params, anthropicsdk.MessageParam{
				Role: anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{
					anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError),
				},
			})
		default:
			params = append(params, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: anthropicUserContent(msg),
			})
		}
	}
	if len(params) == 0 {
		params = append(params, anthropicsdk.MessageParam{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(".")},
		})
	}
	return systemBlocks, params
}

func anthropicUserContent(msg message.Message) []anthropicsdk.ContentBlockParamUnion {
	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, 1+len(msg.Blocks))
	if strings.TrimSpace(msg.Content) != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}
	for _, block := range msg.Blocks {
		switch block.Type {
		case message.BlockText:
			if block.Text != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(block.Text))
			}
		case message.BlockImage:
			if block.Data != "" && block.MediaType != "" {
				blocks = append(blocks, anthropicsdk.NewImageBlockBase64(block.MediaType, block.Data))
			}
		case message.BlockDocument:
			if block.Data != "" {
				blocks = append(blocks, anthropicsdk.ContentBlockParamUnion{
					OfDocument: &anthropicsdk.DocumentBlockParam{
						Source: anthropicsdk.DocumentBlockParamSourceUnion{
							OfBase64: &anthropicsdk.Base64PDFSourceParam{Data: block.Data},
						},
					},
				})
			}
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock("."))
	}
	return blocks
}

func anthropicAssistantContent(msg message.Message) []anthropicsdk.ContentBlockParamUnion {
	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
	if strings.TrimSpace(msg.Content) != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}
	for _, call := range msg.ToolCalls {
		if call.ID == "" || call.Name == "" {
			continue
		}
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(call.ID, anthropicCloneArgs(call.Arguments), call.Name))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock("."))
	}
	return blocks
}

func anthropicConvertTools(tools []ToolDefinition) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, def := range tools {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schema, err := anthropicEncodeSchema(def.InputSchema)
		if err != nil {
			return nil, err
		}
		tool := anthropicsdk.ToolParam{Name: name, InputSchema: schema}
		if strings.TrimSpace(def.Description) != "" {
			tool.Description = anthropicsdk.String(def.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func anthropicEncodeSchema(raw map[string]any) (anthropicsdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func anthropicResponseMessage(msg anthropicsdk.Message) message.Message {
	var textParts []string
	var toolCalls []message.ToolCall
	for _, block := range msg.Content {
		if block.Type == "tool_use" {
			id := strings.TrimSpace(block.ID)
			name := strings.TrimSpace(block.Name)
			if id == "" || name == "" {
				continue
			}
			toolCalls = append(toolCalls, message.ToolCall{
				ID:        id,
				Name:      name,
				Arguments: decodeJSONArgs(block.Input),
			})
			continue
		}
		if block.Text != "" {
			textParts = append(textParts, block.Text)
		}
	}
	out := message.Text(message.RoleAssistant, strings.Join(textParts, ""))
	out.ToolCalls = toolCalls
	return out
}

func decodeJSONArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

func anthropicCloneArgs(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(v))
	for k, val := range v {
		cp[k] = val
	}
	return cp
}

func anthropicUsage(u anthropicsdk.Usage) Usage {
	input := int(u.InputTokens)
	output := int(u.OutputTokens)
	return Usage{InputTokens: input, OutputTokens: output, TotalTokens: input + output}
}
