package adapter

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ModelInfo describes a model. MaxTokens is the prompt budget the model
// accepts; zero means unknown.
type ModelInfo struct {
	Name            string
	Description     string
	MaxTokens       int
	MaxOutputTokens int
	Supports        []string
}

// Usage for a single call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// AIServiceAdapter is the port for text generation.
type AIServiceAdapter interface {
	GetModelInfo(model string) (ModelInfo, error)

	// CountTokens returns prompt tokens for the provided messages
	// (best-effort when the provider has no exact counter).
	CountTokens(ctx context.Context, model string, messages []Message) (int, error)

	// ChatWithUsage returns assistant text + usage as reported by the provider.
	ChatWithUsage(ctx context.Context, model string, messages []Message) (string, Usage, error)
}

// Media points a vision backend at a stored video or image.
type Media struct {
	URI      string
	MIMEType string
}

// VisionAdapter is the port for multimodal analysis of remote media.
type VisionAdapter interface {
	AnalyzeMedia(ctx context.Context, model string, media Media, messages []Message) (string, Usage, error)
}

// VideoLocator turns a storage key into a URL the vision backend can fetch.
type VideoLocator interface {
	Locate(ctx context.Context, storageKey string) (string, error)
}
