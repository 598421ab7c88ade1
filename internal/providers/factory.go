package providers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// Base URLs for the OpenAI-compatible backends.
const (
	groqBaseURL       = "https://api.groq.com/openai/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	togetherBaseURL   = "https://api.together.xyz/v1"
	mistralBaseURL    = "https://api.mistral.ai/v1"
	deepseekBaseURL   = "https://api.deepseek.com/v1"
	aimlBaseURL       = "https://api.aimlapi.com/v1"
)

// defaultModels is the model a provider starts on before the user picks one.
var defaultModels = map[string]string{
	"groq":       "llama-3.3-70b-versatile",
	"openai":     "gpt-4o-mini",
	"anthropic":  "claude-3-5-sonnet-20241022",
	"gemini":     "gemini-1.5-flash",
	"openrouter": "meta-llama/llama-3.1-70b-instruct",
	"together":   "meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo",
	"mistral":    "mistral-small-latest",
	"deepseek":   "deepseek-chat",
	"aiml":       "gpt-4o-mini",
	"cohere":     "command-r-plus",
}

// New builds the provider registered under name with its default endpoint.
func New(name, apiKey string) (engine.Provider, error) {
	return NewWithBaseURL(name, apiKey, "")
}

// NewWithBaseURL builds a provider with an endpoint override, for proxies
// and compatibility gateways. An empty baseURL keeps the default. Most
// backends share the OpenAI wire format and differ only in base URL;
// anthropic, gemini and cohere get native clients, except that pointing
// gemini at its /v1beta/openai endpoint serves it through the
// OpenAI-compatible client instead.
func NewWithBaseURL(name, apiKey, baseURL string) (engine.Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: missing API key", name)
	}

	pick := func(def string) string {
		if baseURL != "" {
			return baseURL
		}
		return def
	}

	switch name {
	case "openai":
		return NewOpenAICompatible(name, apiKey, pick(""), nil, FallbackCatalog(name)), nil
	case "groq":
		return NewOpenAICompatible(name, apiKey, pick(groqBaseURL), nil, FallbackCatalog(name)), nil
	case "openrouter":
		// OpenRouter asks callers to identify themselves for its rankings.
		client := &http.Client{Transport: &headerTransport{headers: map[string]string{
			"HTTP-Referer": "https://github.com/iabuilder/iabuilder",
			"X-Title":      "iabuilder",
		}}}
		return NewOpenAICompatible(name, apiKey, pick(openRouterBaseURL), client, FallbackCatalog(name)), nil
	case "together":
		return NewOpenAICompatible(name, apiKey, pick(togetherBaseURL), nil, FallbackCatalog(name)), nil
	case "mistral":
		return NewOpenAICompatible(name, apiKey, pick(mistralBaseURL), nil, FallbackCatalog(name)), nil
	case "deepseek":
		return NewOpenAICompatible(name, apiKey, pick(deepseekBaseURL), nil, FallbackCatalog(name)), nil
	case "aiml":
		return NewOpenAICompatible(name, apiKey, pick(aimlBaseURL), nil, FallbackCatalog(name)), nil
	case "anthropic":
		p := NewAnthropicProvider(apiKey, FallbackCatalog(name))
		if baseURL != "" {
			p.setBaseURL(baseURL)
		}
		return p, nil
	case "gemini":
		if strings.Contains(baseURL, "/openai") {
			return NewOpenAICompatible(name, apiKey, baseURL, nil, FallbackCatalog(name)), nil
		}
		p := NewGeminiProvider(apiKey, FallbackCatalog(name))
		if baseURL != "" {
			p.baseURL = baseURL
		}
		return p, nil
	case "cohere":
		p := NewCohereProvider(apiKey, FallbackCatalog(name))
		if baseURL != "" {
			p.baseURL = baseURL
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(Supported(), ", "))
	}
}

// Supported lists the provider names New accepts, sorted.
func Supported() []string {
	names := make([]string, 0, len(defaultModels))
	for name := range defaultModels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultModel returns the starting model for a provider, or "" when the
// provider is unknown.
func DefaultModel(provider string) string {
	return defaultModels[strings.ToLower(strings.TrimSpace(provider))]
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}
