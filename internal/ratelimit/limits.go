package ratelimit

import "strings"

// Limits are the published quotas for one provider/model pair at one
// billing tier. Day quotas are zero when the provider does not publish
// one; Tier labels the tier the numbers describe.
type Limits struct {
	RequestsPerMinute int
	TokensPerMinute   int
	RequestsPerDay    int
	TokensPerDay      int
	Tier              string
}

// providerDefaults hold the documented entry-tier quotas per provider.
// Values err on the conservative side; the point is to stop hitting 429s,
// not to squeeze the last request out of a window.
var providerDefaults = map[string]Limits{
	"groq":       {RequestsPerMinute: 30, TokensPerMinute: 6000, RequestsPerDay: 14400, Tier: "free"},
	"openai":     {RequestsPerMinute: 500, TokensPerMinute: 30000, Tier: "tier-1"},
	"anthropic":  {RequestsPerMinute: 50, TokensPerMinute: 40000, Tier: "tier-1"},
	"gemini":     {RequestsPerMinute: 15, TokensPerMinute: 250000, RequestsPerDay: 1500, Tier: "free"},
	"openrouter": {RequestsPerMinute: 20, TokensPerMinute: 200000, Tier: "free"},
	"mistral":    {RequestsPerMinute: 60, TokensPerMinute: 500000, Tier: "free"},
	"together":   {RequestsPerMinute: 60, TokensPerMinute: 180000, Tier: "build-1"},
	"deepseek":   {RequestsPerMinute: 60, TokensPerMinute: 100000, Tier: "standard"},
	"aiml":       {RequestsPerMinute: 30, TokensPerMinute: 50000, Tier: "free"},
	"cohere":     {RequestsPerMinute: 20, TokensPerMinute: 100000, Tier: "trial"},
}

// modelOverrides refine quotas for models whose limits differ from their
// provider's default tier.
var modelOverrides = map[string]map[string]Limits{
	"groq": {
		"llama-3.3-70b-versatile": {RequestsPerMinute: 30, TokensPerMinute: 12000, RequestsPerDay: 1000, TokensPerDay: 100000, Tier: "free"},
		"llama-3.1-8b-instant":    {RequestsPerMinute: 30, TokensPerMinute: 20000, RequestsPerDay: 14400, TokensPerDay: 500000, Tier: "free"},
		"mixtral-8x7b-32768":      {RequestsPerMinute: 30, TokensPerMinute: 5000, RequestsPerDay: 14400, Tier: "free"},
		"gemma2-9b-it":            {RequestsPerMinute: 30, TokensPerMinute: 15000, RequestsPerDay: 14400, Tier: "free"},
	},
	"openai": {
		"gpt-4o-mini":   {RequestsPerMinute: 500, TokensPerMinute: 200000, Tier: "tier-1"},
		"gpt-3.5-turbo": {RequestsPerMinute: 3500, TokensPerMinute: 200000, Tier: "tier-1"},
	},
	"anthropic": {
		"claude-3-5-haiku-20241022": {RequestsPerMinute: 50, TokensPerMinute: 50000, Tier: "tier-1"},
	},
	"gemini": {
		"gemini-1.5-pro":   {RequestsPerMinute: 2, TokensPerMinute: 32000, RequestsPerDay: 50, Tier: "free"},
		"gemini-1.5-flash": {RequestsPerMinute: 15, TokensPerMinute: 1000000, RequestsPerDay: 1500, Tier: "free"},
	},
}

// defaultLimits cover unknown providers.
var defaultLimits = Limits{RequestsPerMinute: 20, TokensPerMinute: 10000, Tier: "default"}

// LimitsFor looks up the quota for a provider/model pair, falling back to
// the provider default and then to a conservative catch-all.
func LimitsFor(provider, model string) Limits {
	provider = strings.ToLower(provider)
	model = strings.ToLower(model)

	if overrides, ok := modelOverrides[provider]; ok {
		if lim, ok := overrides[model]; ok {
			return lim
		}
	}
	if lim, ok := providerDefaults[provider]; ok {
		return lim
	}
	return defaultLimits
}
