package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"ai-analysis-pipeline/internal/domain"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/infra/metrics"
)

var (
	_ adapter.AIServiceAdapter = (*GeminiAdapter)(nil)
	_ adapter.VisionAdapter    = (*GeminiAdapter)(nil)
)

// GeminiAdapter serves both text generation and video analysis. Video is
// passed by URI so the backend fetches it directly.
type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	maxOut       int

	mu    sync.Mutex
	infos map[string]adapter.ModelInfo
}

func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.5-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel, maxOut: maxOut, infos: map[string]adapter.ModelInfo{}}, nil
}

// GetModelInfo asks the API once per model. A failed lookup is not cached
// and reports an unknown budget.
func (g *GeminiAdapter) GetModelInfo(model string) (adapter.ModelInfo, error) {
	model = modelOrDefault(model, g.defaultModel)
	g.mu.Lock()
	info, ok := g.infos[model]
	g.mu.Unlock()
	if ok {
		return info, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m, err := g.client.Models.Get(ctx, model, nil)
	if err != nil {
		return adapter.ModelInfo{Name: model, MaxOutputTokens: g.maxOut}, nil
	}
	info = adapter.ModelInfo{
		Name:            m.Name,
		Description:     m.Description,
		MaxTokens:       int(m.InputTokenLimit),
		MaxOutputTokens: int(m.OutputTokenLimit),
		Supports:        m.SupportedActions,
	}
	g.mu.Lock()
	g.infos[model] = info
	g.mu.Unlock()
	return info, nil
}

func (g *GeminiAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	_, contents := splitSystem(messages)
	resp, err := g.client.Models.CountTokens(ctx, modelOrDefault(model, g.defaultModel), contents, nil)
	if err != nil {
		return 0, err
	}
	return int(resp.TotalTokens), nil
}

func (g *GeminiAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	system, contents := splitSystem(messages)
	if len(contents) == 0 {
		return "", adapter.Usage{}, errors.New("gemini: no messages")
	}
	return g.generate(ctx, modelOrDefault(model, g.defaultModel), system, contents)
}

// AnalyzeMedia attaches the media as file data to the last user turn.
func (g *GeminiAdapter) AnalyzeMedia(ctx context.Context, model string, media adapter.Media, messages []adapter.Message) (string, adapter.Usage, error) {
	if media.URI == "" {
		return "", adapter.Usage{}, fmt.Errorf("gemini: %w: empty media uri", domain.ErrInvalidArgument)
	}
	system, contents := splitSystem(messages)
	mime := media.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	filePart := &genai.Part{FileData: &genai.FileData{FileURI: media.URI, MIMEType: mime}}

	if n := len(contents); n > 0 && contents[n-1].Role == genai.RoleUser {
		contents[n-1].Parts = append([]*genai.Part{filePart}, contents[n-1].Parts...)
	} else {
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{filePart}})
	}
	return g.generate(ctx, modelOrDefault(model, g.defaultModel), system, contents)
}

func (g *GeminiAdapter) generate(ctx context.Context, model string, system *genai.Content, contents []*genai.Content) (string, adapter.Usage, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		ResponseMIMEType:  "application/json",
	}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveChatUsage("gemini", model, 0, 0, 0, latency, false)
		return "", adapter.Usage{}, fmt.Errorf("gemini generate: %w", err)
	}

	u := adapter.Usage{}
	if resp.UsageMetadata != nil {
		u.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		u.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	text := resp.Text()
	metrics.ObserveChatUsage("gemini", model, u.PromptTokens, u.CompletionTokens, u.TotalTokens, latency, text != "")
	if text == "" {
		return "", u, domain.ErrEmptyResponse
	}
	return text, u, nil
}

// splitSystem moves system messages into a system instruction; Gemini has
// no system role in contents.
func splitSystem(msgs []adapter.Message) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: m.Content})
		case "assistant", "model":
			out = append(out, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: m.Content}}})
		default:
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return system, out
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
