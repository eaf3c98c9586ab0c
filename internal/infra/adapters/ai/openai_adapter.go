package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIServiceAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter talks to the Chat Completions API of OpenAI or any
// OpenAI-compatible gateway.
type OpenAIAdapter struct {
	client   openai.Client
	provider string
	model    string
	maxOut   int
}

func NewOpenAIAdapter(apiKey, model string, maxOut int) (*OpenAIAdapter, error) {
	return newOpenAICompatible("openai", apiKey, "", model, maxOut)
}

func newOpenAICompatible(provider, apiKey, baseURL, model string, maxOut int) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s api key empty", provider)
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &OpenAIAdapter{
		client:   openai.NewClient(opts...),
		provider: provider,
		model:    model,
		maxOut:   maxOut,
	}, nil
}

func (o *OpenAIAdapter) GetModelInfo(model string) (adapter.ModelInfo, error) {
	model = modelOrDefault(model, o.model)
	return adapter.ModelInfo{
		Name:            model,
		Description:     o.provider + " chat completions model",
		MaxTokens:       openAIContextWindow(model),
		MaxOutputTokens: o.maxOut,
		Supports:        []string{"text", "json"},
	}, nil
}

// CountTokens uses the model's tiktoken encoding, cl100k_base when unknown.
func (o *OpenAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return countTokens(modelOrDefault(model, o.model), messages), nil
}

func (o *OpenAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	model = modelOrDefault(model, o.model)
	if len(messages) == 0 {
		return "", adapter.Usage{}, errors.New(o.provider + ": no messages")
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(messages),
	}
	if o.maxOut > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxOut))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveChatUsage(o.provider, model, 0, 0, 0, latency, false)
		return "", adapter.Usage{}, fmt.Errorf("%s chat: %w", o.provider, err)
	}

	usage := adapter.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			metrics.ObserveChatUsage(o.provider, model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, latency, true)
			return c.Message.Content, usage, nil
		}
	}
	metrics.ObserveChatUsage(o.provider, model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, latency, false)
	return "", usage, domain.ErrEmptyResponse
}

func toOpenAIMessages(msgs []adapter.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// countTokens approximates chat framing with 4 tokens per message.
func countTokens(model string, messages []adapter.Message) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	total := 0
	for _, m := range messages {
		if err != nil {
			total += len(m.Content)/4 + 4
			continue
		}
		total += len(enc.Encode(m.Content, nil, nil)) + 4
	}
	return total
}

// openAIContextWindow is the published context size per model family.
func openAIContextWindow(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4.1"):
		return 1_047_576
	case strings.HasPrefix(m, "gpt-3.5"):
		return 16_385
	case strings.HasPrefix(m, "gpt-4-") || m == "gpt-4":
		return 8_192
	default:
		return 128_000
	}
}
