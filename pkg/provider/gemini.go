package provider

import (
	"github.com/openai/openai-go/option"
)

// GeminiBaseURL is Google's OpenAI-compatible endpoint
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// NewGeminiProvider creates a Gemini provider speaking the OpenAI-compatible
// API. An empty baseURL selects GeminiBaseURL.
func NewGeminiProvider(apiKey, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = GeminiBaseURL
	}
	return newOpenAICompatible(NameGoogle, apiKey, option.WithBaseURL(baseURL))
}
