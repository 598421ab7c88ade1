// Package providers implements the chat completion backends. Every provider
// translates the engine's ChatRequest/ChatResponse to one concrete HTTP API:
// the OpenAI-compatible family goes through the go-openai SDK with a swapped
// base URL, Anthropic through its own SDK, and Gemini (native) and Cohere
// speak their wire formats directly.
package providers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/iabuilder/iabuilder/internal/engine"
)

const (
	// chatTimeout bounds non-streaming completions. Streaming requests are
	// only bounded by the caller's context since tokens keep arriving.
	chatTimeout = 60 * time.Second
	// listTimeout bounds model listing and key validation.
	listTimeout = 30 * time.Second
)

// kindFromStatus maps an HTTP status to the engine's error taxonomy.
func kindFromStatus(status int) engine.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return engine.ErrKindAuth
	case status == http.StatusTooManyRequests:
		return engine.ErrKindRateLimit
	case status >= 500:
		return engine.ErrKindTransient
	default:
		return engine.ErrKindAPI
	}
}

// httpProviderError builds a classified error for the hand-rolled providers
// that see the HTTP status directly instead of going through an SDK.
func httpProviderError(provider, model string, status int, err error) error {
	return &engine.ProviderError{
		Kind:       kindFromStatus(status),
		Provider:   provider,
		Model:      model,
		HTTPStatus: status,
		Err:        err,
	}
}

// Categorise groups model ids into display buckets for the /models listing.
func Categorise(models []engine.ModelInfo) map[string][]string {
	out := make(map[string][]string)
	for _, m := range models {
		cat := m.Category
		if cat == "" {
			cat = categoryForID(m.ID)
		}
		out[cat] = append(out[cat], m.ID)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}

func categoryForID(id string) string {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "embed"):
		return "embeddings"
	case strings.Contains(lower, "whisper") || strings.Contains(lower, "tts") || strings.Contains(lower, "audio"):
		return "audio"
	case strings.Contains(lower, "vision") || strings.Contains(lower, "image") || strings.Contains(lower, "dall-e"):
		return "vision"
	case strings.Contains(lower, "code") || strings.Contains(lower, "coder"):
		return "code"
	case strings.Contains(lower, "mini") || strings.Contains(lower, "small") || strings.Contains(lower, "haiku") ||
		strings.Contains(lower, "flash") || strings.Contains(lower, "instant") || strings.Contains(lower, "8b"):
		return "fast"
	default:
		return "chat"
	}
}

// modelSupportsTools is the shared capability heuristic: chat models are
// assumed tool-capable unless the id clearly names a non-chat modality.
func modelSupportsTools(id string) bool {
	lower := strings.ToLower(id)
	for _, marker := range []string{"embed", "whisper", "tts", "dall-e", "moderation", "audio", "guard"} {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
