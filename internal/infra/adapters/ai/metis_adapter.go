package ai

const defaultMetisBaseURL = "https://api.metisai.ir/openai/v1"

// NewMetisOpenAIAdapter targets Metis's OpenAI-compatible gateway. It shares
// the OpenAI client and differs only in base URL and metric labels.
func NewMetisOpenAIAdapter(apiKey, model, baseURL string, maxOut int) (*OpenAIAdapter, error) {
	if baseURL == "" {
		baseURL = defaultMetisBaseURL
	}
	return newOpenAICompatible("metis", apiKey, baseURL, model, maxOut)
}
