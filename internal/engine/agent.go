package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// MaxIterations caps provider round trips for one user message. Each
// iteration is one chat completion; tool results feed the next one.
const MaxIterations = 12

// ConversationLog is the slice of the conversation store the loop needs.
// Append runs compression checks and persistence; MessagesForAPI renders
// history for the wire, folding tool traffic into plain text when
// convertToolsToText is set.
type ConversationLog interface {
	Append(msg Message) error
	MessagesForAPI(convertToolsToText bool) []Message
}

// Limiter paces requests against provider quotas. SmartDelay blocks until
// the pending request fits under the limits or ctx is cancelled, reporting
// whether it waited.
type Limiter interface {
	SmartDelay(ctx context.Context, estimatedTokens int) (waited bool, err error)
	Record(promptTokens, completionTokens int)
	EstimateTokens(messages []Message, tools []ToolSchema) int
}

// UsageRecorder persists per-request token accounting. Implementations are
// best-effort; the loop ignores recording failures.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, provider, model string, u Usage) error
}

// ConfirmFunc asks the user to approve one tool call before it runs.
// Returning false cancels it and everything after it in the same response.
type ConfirmFunc func(call ToolCall) bool

// AgentConfig wires an Agent. Provider, Adapter, Conversation, Tools,
// Limiter and Model are required; the rest have working defaults.
type AgentConfig struct {
	Provider     Provider
	Adapter      ModelAdapter
	Conversation ConversationLog
	Tools        *Registry // nil means the process-wide Default registry
	Limiter      Limiter
	Usage        UsageRecorder
	Model        string
	MaxTokens    int
	Temperature  *float32
	Streaming    bool
	Autorun      bool
	Toolbox      bool
	Retry        RetryPolicy
	Hooks        Hooks
	Confirm      ConfirmFunc
}

// Agent drives the conversation: send history, parse the reply, run tool
// calls, feed results back, repeat until the model answers in plain text.
type Agent struct {
	provider  Provider
	adapter   ModelAdapter
	conv      ConversationLog
	tools     *Registry
	limiter   Limiter
	usage     UsageRecorder
	model     string
	maxTokens int
	temp      *float32
	streaming bool
	autorun   bool
	toolbox   bool
	retry     RetryPolicy
	hooks     Hooks
	confirm   ConfirmFunc
}

// NewAgent validates cfg and builds an Agent.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	switch {
	case cfg.Provider == nil:
		return nil, fmt.Errorf("agent: provider is required")
	case cfg.Adapter == nil:
		return nil, fmt.Errorf("agent: model adapter is required")
	case cfg.Conversation == nil:
		return nil, fmt.Errorf("agent: conversation is required")
	case cfg.Limiter == nil:
		return nil, fmt.Errorf("agent: rate limiter is required")
	case cfg.Model == "":
		return nil, fmt.Errorf("agent: model is required")
	}

	if cfg.Tools == nil {
		cfg.Tools = Default
	}

	retry := cfg.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}

	return &Agent{
		provider:  cfg.Provider,
		adapter:   cfg.Adapter,
		conv:      cfg.Conversation,
		tools:     cfg.Tools,
		limiter:   cfg.Limiter,
		usage:     cfg.Usage,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temperature,
		streaming: cfg.Streaming,
		autorun:   cfg.Autorun,
		toolbox:   cfg.Toolbox,
		retry:     retry,
		hooks:     cfg.Hooks,
		confirm:   cfg.Confirm,
	}, nil
}

// HandleUserMessage runs one full user turn: the message is appended to the
// conversation and the loop iterates until the model stops requesting tools,
// the iteration cap is hit, the request is cancelled or a call fails for
// good.
func (a *Agent) HandleUserMessage(ctx context.Context, text string) error {
	if err := a.conv.Append(Message{Role: RoleUser, Content: text}); err != nil {
		return err
	}

	for iteration := 0; iteration < MaxIterations; iteration++ {
		resp, err := a.step(ctx)
		if err != nil {
			if IsCancellation(err) {
				a.hooks.notice("request cancelled")
				return nil
			}
			return err
		}

		if resp.FinishReason == FinishCancelled {
			// Keep whatever streamed in before the cut, but never act on
			// tool calls from an aborted response.
			if content := StripThinking(resp.Content); strings.TrimSpace(content) != "" {
				if aerr := a.conv.Append(Message{Role: RoleAssistant, Content: content}); aerr != nil {
					return aerr
				}
			}
			a.hooks.notice("request cancelled")
			return nil
		}

		parsed := a.parse(resp)

		msg := Message{
			Role:      RoleAssistant,
			Content:   StripThinking(parsed.Content),
			ToolCalls: parsed.ToolCalls,
		}
		if err := a.conv.Append(msg); err != nil {
			return err
		}

		if len(parsed.ToolCalls) == 0 {
			return nil
		}

		if err := a.dispatch(ctx, parsed.ToolCalls); err != nil {
			return err
		}
	}

	a.hooks.notice(fmt.Sprintf("stopped after %d tool iterations without a final answer", MaxIterations))
	return nil
}

// step performs one provider round trip: pace against the rate limits, send
// the rendered history, record usage. A rate-limit wait aborted by ctx
// yields a synthetic cancelled response without touching the network.
func (a *Agent) step(ctx context.Context) (ChatResponse, error) {
	messages := a.conv.MessagesForAPI(!a.adapter.SupportsNativeToolMessages())

	var tools []ToolSchema
	if a.toolbox && a.provider.SupportsFunctionCalling(a.model) {
		tools = a.tools.Schemas()
	}

	est := a.limiter.EstimateTokens(messages, tools)
	if _, err := a.limiter.SmartDelay(ctx, est); err != nil {
		if IsCancellation(err) {
			return ChatResponse{FinishReason: FinishCancelled}, nil
		}
		return ChatResponse{}, err
	}

	req := ChatRequest{
		Model:       a.model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   a.maxTokens,
		Temperature: a.temp,
		Stream:      a.streaming,
	}

	var onChunk StreamHandler
	if a.streaming {
		onChunk = a.hooks.chunk
	}

	resp, err := RetryWithPolicy(ctx, a.retry, func(ctx context.Context) (ChatResponse, error) {
		r, callErr := a.provider.ChatCompletion(ctx, req, onChunk)
		if callErr != nil {
			return ChatResponse{}, WrapProviderError(a.provider.Name(), a.model, callErr)
		}
		return r, nil
	}, a.hooks.retry)
	if err != nil {
		return ChatResponse{}, err
	}

	a.recordUsage(ctx, resp, est)
	return resp, nil
}

// recordUsage feeds the rate limiter and the usage ledger after every
// response, estimating when the provider reported nothing.
func (a *Agent) recordUsage(ctx context.Context, resp ChatResponse, promptEstimate int) {
	var u Usage
	if resp.Usage != nil {
		u = *resp.Usage
	} else {
		u.PromptTokens = promptEstimate
		u.CompletionTokens = a.limiter.EstimateTokens([]Message{{Role: RoleAssistant, Content: resp.Content}}, nil)
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}

	a.limiter.Record(u.PromptTokens, u.CompletionTokens)

	if a.usage != nil {
		// Ledger writes are best-effort; a broken stats DB must not stall
		// the conversation.
		_ = a.usage.RecordUsage(ctx, a.provider.Name(), a.model, u)
	}
}

// parse applies the model adapter unless the toolbox is disabled, in which
// case the raw text stands and no repair may invent tool calls.
func (a *Agent) parse(resp ChatResponse) ParsedResponse {
	if !a.toolbox {
		return ParsedResponse{Content: resp.Content}
	}
	return a.adapter.Parse(resp)
}

// dispatch runs tool calls in order. When the user declines one, that call
// and every remaining one get a synthetic "cancelled by user" result so the
// next request still answers each tool_call id.
func (a *Agent) dispatch(ctx context.Context, calls []ToolCall) error {
	for i, call := range calls {
		if !a.autorun && a.confirm != nil && !a.confirm(call) {
			for _, skipped := range calls[i:] {
				res := ToolResult{Success: false, Error: "cancelled by user"}
				a.hooks.toolResult(skipped.Function.Name, res)
				if err := a.appendToolResult(skipped, res); err != nil {
					return err
				}
			}
			return nil
		}

		a.hooks.toolCall(call.Function.Name, call.Function.Arguments)
		res := a.tools.Execute(ctx, call.Function.Name, call.Function.Arguments)
		a.hooks.toolResult(call.Function.Name, res)
		if err := a.appendToolResult(call, res); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) appendToolResult(call ToolCall, res ToolResult) error {
	return a.conv.Append(Message{
		Role:       RoleTool,
		Content:    res.JSON(),
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
	})
}

// Runtime toggles, driven by the REPL's slash commands.

func (a *Agent) SetAutorun(v bool)   { a.autorun = v }
func (a *Agent) Autorun() bool       { return a.autorun }
func (a *Agent) SetStreaming(v bool) { a.streaming = v }
func (a *Agent) Streaming() bool     { return a.streaming }
func (a *Agent) SetToolbox(v bool)   { a.toolbox = v }
func (a *Agent) Toolbox() bool       { return a.toolbox }
func (a *Agent) Model() string       { return a.model }
func (a *Agent) Provider() Provider  { return a.provider }

// SetModel switches the active model and its adapter. History is preserved.
func (a *Agent) SetModel(model string, adapter ModelAdapter) {
	a.model = model
	a.adapter = adapter
}

// SetProvider hot-swaps the backend, model and adapter together.
func (a *Agent) SetProvider(p Provider, model string, adapter ModelAdapter) {
	a.provider = p
	a.model = model
	a.adapter = adapter
}

// SetConversation replaces the conversation log, used by /reset.
func (a *Agent) SetConversation(c ConversationLog) { a.conv = c }

var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking removes <think> reasoning blocks some models emit before
// their answer. An unterminated block swallows the rest of the text.
func StripThinking(s string) string {
	if !strings.Contains(s, "<think>") {
		return s
	}
	out := thinkRe.ReplaceAllString(s, "")
	if idx := strings.Index(out, "<think>"); idx >= 0 {
		out = out[:idx]
	}
	return strings.TrimSpace(out)
}
