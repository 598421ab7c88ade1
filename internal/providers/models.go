package providers

import "github.com/iabuilder/iabuilder/internal/engine"

// fallbackCatalogs are the models shown when a provider's listing endpoint
// is unreachable. They also enrich live listings with display names and
// context windows the APIs do not always report.
var fallbackCatalogs = map[string][]engine.ModelInfo{
	"groq": {
		{ID: "llama-3.3-70b-versatile", DisplayName: "Llama 3.3 70B Versatile", Provider: "groq", ContextWindow: 131072, Category: "chat", SupportsTools: true},
		{ID: "llama-3.1-8b-instant", DisplayName: "Llama 3.1 8B Instant", Provider: "groq", ContextWindow: 131072, Category: "fast", SupportsTools: true},
		{ID: "mixtral-8x7b-32768", DisplayName: "Mixtral 8x7B", Provider: "groq", ContextWindow: 32768, Category: "chat", SupportsTools: true},
		{ID: "gemma2-9b-it", DisplayName: "Gemma 2 9B", Provider: "groq", ContextWindow: 8192, Category: "fast", SupportsTools: false},
	},
	"openai": {
		{ID: "gpt-4o", DisplayName: "GPT-4o", Provider: "openai", ContextWindow: 128000, Category: "chat", SupportsTools: true},
		{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", Provider: "openai", ContextWindow: 128000, Category: "fast", SupportsTools: true},
		{ID: "gpt-4-turbo", DisplayName: "GPT-4 Turbo", Provider: "openai", ContextWindow: 128000, Category: "chat", SupportsTools: true},
		{ID: "gpt-3.5-turbo", DisplayName: "GPT-3.5 Turbo", Provider: "openai", ContextWindow: 16385, Category: "fast", SupportsTools: true},
	},
	"anthropic": {
		{ID: "claude-3-5-sonnet-20241022", DisplayName: "Claude 3.5 Sonnet", Provider: "anthropic", ContextWindow: 200000, Category: "chat", SupportsTools: true},
		{ID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku", Provider: "anthropic", ContextWindow: 200000, Category: "fast", SupportsTools: true},
		{ID: "claude-3-opus-20240229", DisplayName: "Claude 3 Opus", Provider: "anthropic", ContextWindow: 200000, Category: "chat", SupportsTools: true},
	},
	"gemini": {
		{ID: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro", Provider: "gemini", ContextWindow: 2097152, Category: "chat", SupportsTools: true},
		{ID: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash", Provider: "gemini", ContextWindow: 1048576, Category: "fast", SupportsTools: true},
		{ID: "gemini-1.5-flash-8b", DisplayName: "Gemini 1.5 Flash 8B", Provider: "gemini", ContextWindow: 1048576, Category: "fast", SupportsTools: true},
	},
	"openrouter": {
		{ID: "meta-llama/llama-3.1-70b-instruct", DisplayName: "Llama 3.1 70B Instruct", Provider: "openrouter", ContextWindow: 131072, Category: "chat", SupportsTools: true},
		{ID: "anthropic/claude-3.5-sonnet", DisplayName: "Claude 3.5 Sonnet", Provider: "openrouter", ContextWindow: 200000, Category: "chat", SupportsTools: true},
		{ID: "openai/gpt-4o-mini", DisplayName: "GPT-4o mini", Provider: "openrouter", ContextWindow: 128000, Category: "fast", SupportsTools: true},
	},
	"together": {
		{ID: "meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo", DisplayName: "Llama 3.1 70B Turbo", Provider: "together", ContextWindow: 131072, Category: "chat", SupportsTools: true},
		{ID: "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo", DisplayName: "Llama 3.1 8B Turbo", Provider: "together", ContextWindow: 131072, Category: "fast", SupportsTools: true},
		{ID: "Qwen/Qwen2.5-72B-Instruct-Turbo", DisplayName: "Qwen 2.5 72B Turbo", Provider: "together", ContextWindow: 32768, Category: "chat", SupportsTools: true},
	},
	"mistral": {
		{ID: "mistral-large-latest", DisplayName: "Mistral Large", Provider: "mistral", ContextWindow: 128000, Category: "chat", SupportsTools: true},
		{ID: "mistral-small-latest", DisplayName: "Mistral Small", Provider: "mistral", ContextWindow: 32000, Category: "fast", SupportsTools: true},
		{ID: "codestral-latest", DisplayName: "Codestral", Provider: "mistral", ContextWindow: 32000, Category: "code", SupportsTools: true},
	},
	"deepseek": {
		{ID: "deepseek-chat", DisplayName: "DeepSeek Chat", Provider: "deepseek", ContextWindow: 64000, Category: "chat", SupportsTools: true},
		{ID: "deepseek-reasoner", DisplayName: "DeepSeek Reasoner", Provider: "deepseek", ContextWindow: 64000, Category: "chat", SupportsTools: false},
	},
	"aiml": {
		{ID: "gpt-4o", DisplayName: "GPT-4o", Provider: "aiml", ContextWindow: 128000, Category: "chat", SupportsTools: true},
		{ID: "meta-llama/Llama-3.3-70B-Instruct-Turbo", DisplayName: "Llama 3.3 70B Turbo", Provider: "aiml", ContextWindow: 131072, Category: "chat", SupportsTools: true},
	},
	"cohere": {
		{ID: "command-r-plus", DisplayName: "Command R+", Provider: "cohere", ContextWindow: 128000, Category: "chat", SupportsTools: true},
		{ID: "command-r", DisplayName: "Command R", Provider: "cohere", ContextWindow: 128000, Category: "chat", SupportsTools: true},
		{ID: "command-light", DisplayName: "Command Light", Provider: "cohere", ContextWindow: 4096, Category: "fast", SupportsTools: false},
	},
}

// FallbackCatalog returns the static models for a provider, or nil for an
// unknown one. Callers get their own copy.
func FallbackCatalog(provider string) []engine.ModelInfo {
	models, ok := fallbackCatalogs[provider]
	if !ok {
		return nil
	}
	return append([]engine.ModelInfo(nil), models...)
}
