package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/infra/metrics"
)

var _ adapter.AIServiceAdapter = (*AnthropicAdapter)(nil)

const (
	defaultAnthropicMaxTokens = 4096
	anthropicContextWindow    = 200_000
)

type AnthropicAdapter struct {
	client anthropic.Client
	model  string
	maxOut int
}

func NewAnthropicAdapter(apiKey, model string, maxOut int) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: empty api key")
	}
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if maxOut <= 0 {
		maxOut = defaultAnthropicMaxTokens
	}
	return &AnthropicAdapter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		maxOut: maxOut,
	}, nil
}

func (a *AnthropicAdapter) GetModelInfo(model string) (adapter.ModelInfo, error) {
	return adapter.ModelInfo{
		Name:            modelOrDefault(model, a.model),
		Description:     "Anthropic Messages model",
		MaxTokens:       anthropicContextWindow,
		MaxOutputTokens: a.maxOut,
		Supports:        []string{"text", "json"},
	}, nil
}

// CountTokens is an estimate; the cl100k encoding is close enough for
// budgeting prompts.
func (a *AnthropicAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return countTokens("", messages), nil
}

func (a *AnthropicAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	model = modelOrDefault(model, a.model)

	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(turns) == 0 {
		return "", adapter.Usage{}, errors.New("anthropic: no user message")
	}

	start := time.Now()
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(a.maxOut),
		System:    system,
		Messages:  turns,
	})
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveChatUsage("anthropic", model, 0, 0, 0, latency, false)
		return "", adapter.Usage{}, fmt.Errorf("anthropic chat: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	usage := adapter.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	ok := text.Len() > 0
	metrics.ObserveChatUsage("anthropic", model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, latency, ok)
	if !ok {
		return "", usage, domain.ErrEmptyResponse
	}
	return text.String(), usage, nil
}
