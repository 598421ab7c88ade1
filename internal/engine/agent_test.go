package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// scriptedProvider returns canned responses (or errors) in order and records
// every request it saw.
type scriptedProvider struct {
	responses []ChatResponse
	errs      []error
	calls     int
	requests  []ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) ChatCompletion(ctx context.Context, req ChatRequest, onChunk StreamHandler) (ChatResponse, error) {
	idx := p.calls
	p.calls++
	p.requests = append(p.requests, req)

	if idx < len(p.errs) && p.errs[idx] != nil {
		return ChatResponse{}, p.errs[idx]
	}
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	resp := p.responses[idx]
	if req.Stream && onChunk != nil {
		onChunk(resp.Content)
	}
	return resp, nil
}

func (p *scriptedProvider) ListModels(ctx context.Context) ([]ModelInfo, error) { return nil, nil }
func (p *scriptedProvider) FallbackModels() []ModelInfo                         { return nil }
func (p *scriptedProvider) Categorise() map[string][]string                     { return nil }
func (p *scriptedProvider) SupportsFunctionCalling(model string) bool           { return true }
func (p *scriptedProvider) ValidateAPIKey(ctx context.Context) error            { return nil }

// passthroughAdapter hands responses through untouched.
type passthroughAdapter struct{}

func (passthroughAdapter) Parse(resp ChatResponse) ParsedResponse {
	return ParsedResponse{Content: StripThinking(resp.Content), ToolCalls: resp.ToolCalls}
}
func (passthroughAdapter) SupportsNativeToolMessages() bool { return true }

// memoryLog is an in-memory ConversationLog.
type memoryLog struct {
	messages []Message
}

func (l *memoryLog) Append(msg Message) error {
	l.messages = append(l.messages, msg)
	return nil
}

func (l *memoryLog) MessagesForAPI(convertToolsToText bool) []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// nopLimiter never delays.
type nopLimiter struct {
	recordedPrompt     int
	recordedCompletion int
}

func (l *nopLimiter) SmartDelay(ctx context.Context, estimatedTokens int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return false, nil
}
func (l *nopLimiter) Record(promptTokens, completionTokens int) {
	l.recordedPrompt += promptTokens
	l.recordedCompletion += completionTokens
}
func (l *nopLimiter) EstimateTokens(messages []Message, tools []ToolSchema) int {
	return len(messages) * 10
}

// capturingRecorder remembers every usage row it was handed.
type capturingRecorder struct {
	rows []Usage
}

func (r *capturingRecorder) RecordUsage(ctx context.Context, provider, model string, u Usage) error {
	r.rows = append(r.rows, u)
	return nil
}

func callTo(name, args, id string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: args}}
}

func testAgent(t *testing.T, p *scriptedProvider, mutate func(*AgentConfig)) (*Agent, *memoryLog, *Registry) {
	t.Helper()

	log := &memoryLog{}
	reg := NewRegistry()
	cfg := AgentConfig{
		Provider:     p,
		Adapter:      passthroughAdapter{},
		Conversation: log,
		Tools:        reg,
		Limiter:      &nopLimiter{},
		Model:        "test-model",
		MaxTokens:    128,
		Toolbox:      true,
		Autorun:      true,
		Retry:        RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	agent, err := NewAgent(cfg)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	return agent, log, reg
}

func TestNewAgentValidatesConfig(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{{Content: "x", FinishReason: FinishStop}}}

	_, err := NewAgent(AgentConfig{Adapter: passthroughAdapter{}, Conversation: &memoryLog{}, Tools: NewRegistry(), Limiter: &nopLimiter{}, Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "provider") {
		t.Errorf("err = %v, want provider complaint", err)
	}
	_, err = NewAgent(AgentConfig{Provider: p, Adapter: passthroughAdapter{}, Conversation: &memoryLog{}, Tools: NewRegistry(), Limiter: &nopLimiter{}})
	if err == nil || !strings.Contains(err.Error(), "model") {
		t.Errorf("err = %v, want model complaint", err)
	}
}

func TestNewAgentNilToolsUsesDefaultRegistry(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{{Content: "x", FinishReason: FinishStop}}}
	agent, err := NewAgent(AgentConfig{
		Provider:     p,
		Adapter:      passthroughAdapter{},
		Conversation: &memoryLog{},
		Limiter:      &nopLimiter{},
		Model:        "m",
	})
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	if agent.tools != Default {
		t.Error("nil Tools should fall back to the Default registry")
	}
}

func TestAgentPlainAnswer(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{Content: "hello back", FinishReason: FinishStop},
	}}
	agent, log, _ := testAgent(t, p, nil)

	if err := agent.HandleUserMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}

	if p.calls != 1 {
		t.Errorf("calls = %d, want 1", p.calls)
	}
	if len(log.messages) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(log.messages))
	}
	if log.messages[0].Role != RoleUser || log.messages[1].Role != RoleAssistant {
		t.Errorf("roles = %s, %s", log.messages[0].Role, log.messages[1].Role)
	}
	if log.messages[1].Content != "hello back" {
		t.Errorf("assistant = %q", log.messages[1].Content)
	}
}

func TestAgentToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{callTo("lookup", `{"key": "a"}`, "call_1")}, FinishReason: FinishToolCalls},
		{Content: "the value is 1", FinishReason: FinishStop},
	}}
	agent, log, reg := testAgent(t, p, nil)

	var gotArgs map[string]any
	reg.Register(Tool{
		Name:       "lookup",
		SchemaJSON: `{"type": "object", "required": ["key"]}`,
		Fn: func(ctx context.Context, args map[string]any) ToolResult {
			gotArgs = args
			return Success(map[string]any{"value": 1}, "looked up")
		},
	})

	if err := agent.HandleUserMessage(context.Background(), "what is a?"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}

	if p.calls != 2 {
		t.Fatalf("calls = %d, want 2", p.calls)
	}
	if gotArgs["key"] != "a" {
		t.Errorf("tool args = %+v", gotArgs)
	}

	// user, assistant(tool call), tool result, assistant answer
	if len(log.messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(log.messages))
	}
	toolMsg := log.messages[2]
	if toolMsg.Role != RoleTool || toolMsg.ToolCallID != "call_1" || toolMsg.ToolName != "lookup" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, `"success":true`) {
		t.Errorf("tool content = %q", toolMsg.Content)
	}

	// The second request must carry the tool result.
	second := p.requests[1]
	if len(second.Messages) != 3 {
		t.Errorf("second request carried %d messages, want 3", len(second.Messages))
	}
}

func TestAgentIterationCap(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{callTo("spin", "{}", "c")}, FinishReason: FinishToolCalls},
	}}

	var notices []string
	agent, _, reg := testAgent(t, p, func(cfg *AgentConfig) {
		cfg.Hooks = Hooks{OnNotice: func(msg string) { notices = append(notices, msg) }}
	})
	reg.Register(Tool{
		Name:       "spin",
		SchemaJSON: `{"type": "object"}`,
		Fn: func(ctx context.Context, args map[string]any) ToolResult {
			return Success(nil, "spun")
		},
	})

	if err := agent.HandleUserMessage(context.Background(), "go"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}

	if p.calls != MaxIterations {
		t.Errorf("calls = %d, want %d", p.calls, MaxIterations)
	}
	if len(notices) != 1 || !strings.Contains(notices[0], "without a final answer") {
		t.Errorf("notices = %v", notices)
	}
}

func TestAgentConfirmDecline(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{
			callTo("danger", "{}", "c1"),
			callTo("danger", "{}", "c2"),
		}, FinishReason: FinishToolCalls},
		{Content: "understood", FinishReason: FinishStop},
	}}

	ran := 0
	agent, log, reg := testAgent(t, p, func(cfg *AgentConfig) {
		cfg.Autorun = false
		cfg.Confirm = func(call ToolCall) bool { return false }
	})
	reg.Register(Tool{
		Name:       "danger",
		SchemaJSON: `{"type": "object"}`,
		Fn: func(ctx context.Context, args map[string]any) ToolResult {
			ran++
			return Success(nil, "ran")
		},
	})

	if err := agent.HandleUserMessage(context.Background(), "do it"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}

	if ran != 0 {
		t.Errorf("tool ran %d times despite decline", ran)
	}

	// Both calls get synthetic cancelled results so the follow-up request
	// still answers every tool_call id.
	cancelled := 0
	for _, m := range log.messages {
		if m.Role == RoleTool && strings.Contains(m.Content, "cancelled by user") {
			cancelled++
		}
	}
	if cancelled != 2 {
		t.Errorf("cancelled results = %d, want 2", cancelled)
	}
}

func TestAgentAutorunSkipsConfirm(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{callTo("quick", "{}", "c")}, FinishReason: FinishToolCalls},
		{Content: "done", FinishReason: FinishStop},
	}}

	asked := false
	ran := false
	agent, _, reg := testAgent(t, p, func(cfg *AgentConfig) {
		cfg.Autorun = true
		cfg.Confirm = func(call ToolCall) bool { asked = true; return false }
	})
	reg.Register(Tool{
		Name:       "quick",
		SchemaJSON: `{"type": "object"}`,
		Fn: func(ctx context.Context, args map[string]any) ToolResult {
			ran = true
			return Success(nil, "ok")
		},
	})

	if err := agent.HandleUserMessage(context.Background(), "go"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}
	if asked {
		t.Error("autorun should not ask for confirmation")
	}
	if !ran {
		t.Error("tool should have run")
	}
}

func TestAgentCancelledResponseKeepsPartialText(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{
			Content:      "partial answer <think>never finished",
			ToolCalls:    []ToolCall{callTo("never", "{}", "c")},
			FinishReason: FinishCancelled,
		},
	}}

	var notices []string
	ran := false
	agent, log, reg := testAgent(t, p, func(cfg *AgentConfig) {
		cfg.Hooks = Hooks{OnNotice: func(msg string) { notices = append(notices, msg) }}
	})
	reg.Register(Tool{
		Name:       "never",
		SchemaJSON: `{"type": "object"}`,
		Fn: func(ctx context.Context, args map[string]any) ToolResult {
			ran = true
			return Success(nil, "x")
		},
	})

	if err := agent.HandleUserMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}

	if ran {
		t.Error("tool calls from a cancelled response must not run")
	}
	if len(log.messages) != 2 || log.messages[1].Content != "partial answer" {
		t.Errorf("messages = %+v, want partial text kept", log.messages)
	}
	if len(notices) == 0 || !strings.Contains(notices[0], "cancelled") {
		t.Errorf("notices = %v", notices)
	}
}

func TestAgentToolboxOff(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{Content: "plain", FinishReason: FinishStop},
	}}
	agent, _, reg := testAgent(t, p, func(cfg *AgentConfig) {
		cfg.Toolbox = false
	})
	reg.Register(echoTool())

	if err := agent.HandleUserMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}
	if len(p.requests[0].Tools) != 0 {
		t.Error("toolbox off must not send tool schemas")
	}
}

func TestAgentRecordsUsage(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{Content: "ok", FinishReason: FinishStop, Usage: &Usage{PromptTokens: 11, CompletionTokens: 7}},
	}}

	rec := &capturingRecorder{}
	lim := &nopLimiter{}
	agent, _, _ := testAgent(t, p, func(cfg *AgentConfig) {
		cfg.Usage = rec
		cfg.Limiter = lim
	})

	if err := agent.HandleUserMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}

	if len(rec.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rec.rows))
	}
	row := rec.rows[0]
	if row.PromptTokens != 11 || row.CompletionTokens != 7 || row.TotalTokens != 18 {
		t.Errorf("row = %+v", row)
	}
	if lim.recordedPrompt != 11 || lim.recordedCompletion != 7 {
		t.Errorf("limiter saw %d/%d", lim.recordedPrompt, lim.recordedCompletion)
	}
}

func TestAgentEstimatesMissingUsage(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{Content: "ok", FinishReason: FinishStop},
	}}

	rec := &capturingRecorder{}
	agent, _, _ := testAgent(t, p, func(cfg *AgentConfig) {
		cfg.Usage = rec
	})

	if err := agent.HandleUserMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}
	if len(rec.rows) != 1 || rec.rows[0].TotalTokens == 0 {
		t.Errorf("rows = %+v, want estimated usage", rec.rows)
	}
}

func TestAgentRetriesTransientError(t *testing.T) {
	p := &scriptedProvider{
		errs:      []error{errors.New("503 service unavailable")},
		responses: []ChatResponse{{}, {Content: "recovered", FinishReason: FinishStop}},
	}

	retried := 0
	agent, log, _ := testAgent(t, p, func(cfg *AgentConfig) {
		cfg.Hooks = Hooks{OnRetry: func(attempt int, delay time.Duration, err error) { retried++ }}
	})

	if err := agent.HandleUserMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}
	if p.calls != 2 || retried != 1 {
		t.Errorf("calls = %d, retried = %d", p.calls, retried)
	}
	if log.messages[len(log.messages)-1].Content != "recovered" {
		t.Error("answer after retry missing")
	}
}

func TestAgentAuthErrorSurfaces(t *testing.T) {
	p := &scriptedProvider{
		errs:      []error{errors.New("401 invalid api key")},
		responses: []ChatResponse{{}},
	}
	agent, _, _ := testAgent(t, p, nil)

	err := agent.HandleUserMessage(context.Background(), "hi")
	if err == nil {
		t.Fatal("auth failure should surface")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Kind != ErrKindAuth {
		t.Errorf("err = %v, want auth provider error", err)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, auth errors must not retry", p.calls)
	}
}

func TestAgentCancelledContext(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{{Content: "x", FinishReason: FinishStop}}}

	var notices []string
	agent, log, _ := testAgent(t, p, func(cfg *AgentConfig) {
		cfg.Hooks = Hooks{OnNotice: func(msg string) { notices = append(notices, msg) }}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := agent.HandleUserMessage(ctx, "hi"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}
	if p.calls != 0 {
		t.Error("cancelled context must not reach the provider")
	}
	if len(log.messages) != 1 {
		t.Errorf("messages = %d, want just the user message", len(log.messages))
	}
	if len(notices) == 0 || !strings.Contains(notices[0], "cancelled") {
		t.Errorf("notices = %v", notices)
	}
}

func TestAgentStreamingForwardsChunks(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{Content: "streamed text", FinishReason: FinishStop},
	}}

	var chunks []string
	agent, _, _ := testAgent(t, p, func(cfg *AgentConfig) {
		cfg.Streaming = true
		cfg.Hooks = Hooks{OnChunk: func(chunk string) { chunks = append(chunks, chunk) }}
	})

	if err := agent.HandleUserMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}
	if len(chunks) == 0 || chunks[0] != "streamed text" {
		t.Errorf("chunks = %v", chunks)
	}
	if !p.requests[0].Stream {
		t.Error("request should ask for streaming")
	}
}

func TestStripThinking(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"no tags here", "no tags here"},
		{"<think>working...</think>answer", "answer"},
		{"pre <think>a</think>mid<think>b</think> post", "pre mid post"},
		{"answer <think>never closed", "answer"},
		{"<think>only thoughts</think>", ""},
	}
	for _, tt := range tests {
		if got := StripThinking(tt.in); got != tt.want {
			t.Errorf("StripThinking(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
