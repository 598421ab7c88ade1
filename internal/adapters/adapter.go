// Package adapters selects and applies model-family specific handling of
// chat responses. A provider moves bytes; an adapter knows how a given model
// family formats tool calls, how much prompt hand-holding it needs, and
// whether the upstream API can be trusted with native tool messages for it.
package adapters

import (
	"strings"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// Strictness grades how explicit the system prompt must be about tool-call
// formatting for a model family.
type Strictness string

const (
	// StrictnessMinimal: the model follows the function-calling protocol
	// reliably, a short mention of the tools is enough.
	StrictnessMinimal Strictness = "minimal"
	// StrictnessStandard: normal instructions with one format example.
	StrictnessStandard Strictness = "standard"
	// StrictnessDetailed: spell out the exact JSON shape and common
	// mistakes, the model drifts without it.
	StrictnessDetailed Strictness = "detailed"
	// StrictnessMaximum: unknown model, assume nothing and over-explain.
	StrictnessMaximum Strictness = "maximum"
)

// Family identifies a model family with shared output quirks.
type Family string

const (
	FamilyLlamaLarge Family = "llama-large"
	FamilyLlamaSmall Family = "llama-small"
	FamilyClaude     Family = "claude"
	FamilyGPT4       Family = "gpt-4"
	FamilyGPT35      Family = "gpt-3.5"
	FamilyGemini     Family = "gemini"
	FamilyQwen       Family = "qwen"
	FamilyDeepSeek   Family = "deepseek"
	FamilyMistral    Family = "mistral"
	FamilyCommand    Family = "command"
	FamilyGeneric    Family = "generic"
)

// Info describes what a family can be trusted to do.
type Info struct {
	Family        Family
	SupportLevel  string // "native" or "text"
	SupportsTools bool
}

// Adapter is the per-model-family view the agent consults. It extends the
// engine contract with the prompt strictness hint and a capability summary.
type Adapter interface {
	engine.ModelAdapter
	StrictnessHint() Strictness
	Info() Info
}

// familyAdapter implements Adapter for every family; the differences are
// data, not code. accion enables the small-Llama pseudo-action repair.
type familyAdapter struct {
	family     Family
	native     bool
	strictness Strictness
	accion     bool
}

func (a *familyAdapter) SupportsNativeToolMessages() bool { return a.native }
func (a *familyAdapter) StrictnessHint() Strictness       { return a.strictness }

func (a *familyAdapter) Info() Info {
	level := "native"
	if !a.native {
		level = "text"
	}
	return Info{Family: a.family, SupportLevel: level, SupportsTools: true}
}

var families = map[Family]*familyAdapter{
	FamilyLlamaLarge: {family: FamilyLlamaLarge, native: true, strictness: StrictnessStandard},
	FamilyLlamaSmall: {family: FamilyLlamaSmall, native: false, strictness: StrictnessDetailed, accion: true},
	FamilyClaude:     {family: FamilyClaude, native: true, strictness: StrictnessMinimal},
	FamilyGPT4:       {family: FamilyGPT4, native: true, strictness: StrictnessMinimal},
	FamilyGPT35:      {family: FamilyGPT35, native: true, strictness: StrictnessStandard},
	FamilyGemini:     {family: FamilyGemini, native: true, strictness: StrictnessStandard},
	FamilyQwen:       {family: FamilyQwen, native: true, strictness: StrictnessStandard},
	FamilyDeepSeek:   {family: FamilyDeepSeek, native: true, strictness: StrictnessStandard},
	FamilyMistral:    {family: FamilyMistral, native: true, strictness: StrictnessStandard},
	FamilyCommand:    {family: FamilyCommand, native: true, strictness: StrictnessStandard},
	FamilyGeneric:    {family: FamilyGeneric, native: false, strictness: StrictnessMaximum},
}

// largeLlamaMarkers mark the Llama variants big enough to follow the
// native protocol. Everything else Llama gets the repair-heavy adapter.
var largeLlamaMarkers = []string{"70b", "90b", "405b", "versatile"}

// ForModel picks the adapter for a model from its identifier. Selection is
// per model, not per provider: the same Llama weights behave the same no
// matter who serves them.
func ForModel(model string) Adapter {
	m := strings.ToLower(model)

	switch {
	case strings.Contains(m, "claude"):
		return families[FamilyClaude]
	case strings.Contains(m, "gpt-4"):
		return families[FamilyGPT4]
	case strings.Contains(m, "gpt-3.5"):
		return families[FamilyGPT35]
	case strings.Contains(m, "gemini"):
		return families[FamilyGemini]
	case strings.Contains(m, "qwen"):
		return families[FamilyQwen]
	case strings.Contains(m, "deepseek"):
		return families[FamilyDeepSeek]
	case strings.Contains(m, "mistral"), strings.Contains(m, "mixtral"), strings.Contains(m, "codestral"):
		return families[FamilyMistral]
	case strings.Contains(m, "command"):
		return families[FamilyCommand]
	case strings.Contains(m, "llama"):
		for _, marker := range largeLlamaMarkers {
			if strings.Contains(m, marker) {
				return families[FamilyLlamaLarge]
			}
		}
		return families[FamilyLlamaSmall]
	default:
		return families[FamilyGeneric]
	}
}
