package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emberhq/ember/pkg/message"
)

// Request is the normalized model call shape shared by all providers.
type Request struct {
	Messages    []message.Message
	System      string
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Response is the normalized completion result. ToolCalls is non-empty when
// the model wants tools executed before it can finish.
type Response struct {
	Message    message.Message
	Usage      Usage
	StopReason string
}

// ToolCalls returns the tool invocations requested by the response, if any.
func (r *Response) ToolCalls() []message.ToolCall {
	if r == nil {
		return nil
	}
	return r.Message.ToolCalls
}

// Usage aggregates token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ToolDefinition advertises one callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Model is the provider-neutral completion interface.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderError wraps a failed model call. The dispatch loop treats it as a
// turn failure and never retries; transient HTTP retries happen inside the
// adapters before this surfaces.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Config selects and parameterizes a provider backend. Type is one of the
// closed set: anthropic, openai, deepseek, minimax, custom. Everything but
// anthropic speaks the OpenAI-compatible chat API against BaseURL.
type Config struct {
	Type        string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration
}

// New builds the Model for cfg.Type. Selection is a configuration-time
// choice; there is no runtime provider switching.
func New(cfg Config) (Model, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("model: api key required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "anthropic":
		return newAnthropic(cfg)
	case "openai":
		return newOpenAICompat(cfg, "openai")
	case "deepseek", "minimax", "custom":
		name := strings.ToLower(strings.TrimSpace(cfg.Type))
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("model: baseUrl is required for %s", name)
		}
		return newOpenAICompat(cfg, name)
	default:
		return nil, fmt.Errorf("model: unknown provider type %q", cfg.Type)
	}
}

// Summarizer adapts a Model into the history summarization capability used
// by the context manager during compaction.
type Summarizer struct {
	Model     model
	MaxTokens int
	ModelName string
}

// model aliases Model so the struct field reads naturally.
type model = Model

const summarizerSystemPrompt = "You are a concise summarizer."

// Summarize condenses msgs into one short factual summary.
func (s *Summarizer) Summarize(ctx context.Context, msgs []message.Message) (string, error) {
	if s == nil || s.Model == nil {
		return "", errors.New("model: summarizer has no model")
	}
	var sb strings.Builder
	for _, msg := range msgs {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	prompt := "Summarize the following conversation succinctly, keep important facts and decisions:\n" + sb.String()

	maxTokens := s.MaxTokens
	if maxTokens <= 0 || maxTokens > 512 {
		maxTokens = 512
	}
	temp := 0.2
	resp, err := s.Model.Complete(ctx, Request{
		Messages:    []message.Message{message.Text(message.RoleUser, prompt)},
		System:      summarizerSystemPrompt,
		Model:       s.ModelName,
		MaxTokens:   maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
