package engine

import (
	"context"
	"time"
)

// Message roles as they appear on the wire and in session files.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons normalised across providers.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
	FinishCancelled     = "cancelled"
)

// FunctionCall is the name/arguments pair inside a tool call. Arguments is
// always a JSON object serialised as a string, even when a provider hands us
// a decoded map.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is the canonical tool invocation shape used everywhere in the
// process: in conversation history, in session files on disk and in requests
// going back out to providers.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one conversation turn. ToolCallID and ToolName are only set on
// role "tool" messages and link the result back to the assistant call that
// produced it.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ToolSchema describes a callable tool to a provider. Parameters is a JSON
// Schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice steers provider-side tool selection. Mode is one of "auto",
// "none", "required" or "tool"; Name is only read when Mode is "tool".
type ToolChoice struct {
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}

// Usage holds token accounting as reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is a provider-agnostic chat completion request. System prompts
// travel as leading messages with RoleSystem; each provider relocates them
// into its native shape.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	ToolChoice  *ToolChoice
	MaxTokens   int
	Temperature *float32
	Stream      bool
}

// ChatResponse is the normalised result of one chat completion, streaming or
// not. Usage is nil when the provider reported none.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

// ModelInfo is display and capability metadata for one model.
type ModelInfo struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name,omitempty"`
	Provider      string `json:"provider"`
	ContextWindow int    `json:"context_window,omitempty"`
	Category      string `json:"category,omitempty"`
	SupportsTools bool   `json:"supports_tools"`
	Description   string `json:"description,omitempty"`
}

// StreamHandler receives incremental text while a response streams. It is
// never called concurrently for one request.
type StreamHandler func(chunk string)

// Provider is a chat completion backend. ChatCompletion honours req.Stream:
// when true it forwards text deltas through onChunk and still returns the
// fully assembled response. Cancellation via ctx mid-stream must yield a
// response with FinishCancelled and a nil error, carrying whatever content
// arrived before the cut.
type Provider interface {
	Name() string
	ChatCompletion(ctx context.Context, req ChatRequest, onChunk StreamHandler) (ChatResponse, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
	FallbackModels() []ModelInfo
	Categorise() map[string][]string
	SupportsFunctionCalling(model string) bool
	ValidateAPIKey(ctx context.Context) error
}

// ParsedResponse is a ChatResponse after model-specific post-processing.
// Repaired reports that tool calls were recovered from malformed text output
// rather than delivered natively.
type ParsedResponse struct {
	Content   string
	ToolCalls []ToolCall
	Repaired  bool
}

// ModelAdapter adjusts raw provider output for a model family's quirks.
// SupportsNativeToolMessages reports whether the family understands role
// "tool" messages; when false the conversation is rendered with tool traffic
// folded into plain text.
type ModelAdapter interface {
	Parse(resp ChatResponse) ParsedResponse
	SupportsNativeToolMessages() bool
}
