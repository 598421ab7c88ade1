package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/iabuilder/iabuilder/internal/engine"
)

func TestAnthropicBuildRequestLiftsSystem(t *testing.T) {
	p := NewAnthropicProvider("k", nil)
	req := p.buildRequest(engine.ChatRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []engine.Message{
			{Role: engine.RoleSystem, Content: "eres util"},
			{Role: engine.RoleUser, Content: "lee go.mod"},
			{Role: engine.RoleAssistant, Content: "Voy a leerlo.", ToolCalls: []engine.ToolCall{{
				ID: "toolu_1", Type: "function",
				Function: engine.FunctionCall{Name: "read_file", Arguments: `{"file_path":"go.mod"}`},
			}}},
			{Role: engine.RoleTool, Content: "module iabuilder", ToolCallID: "toolu_1", ToolName: "read_file"},
		},
		Tools: []engine.ToolSchema{{Name: "read_file", Description: "lee un archivo", Parameters: map[string]any{"type": "object"}}},
	})

	if len(req.MultiSystem) != 1 || req.MultiSystem[0].Text != "eres util" {
		t.Fatalf("multiSystem = %+v", req.MultiSystem)
	}
	// System messages never appear inline.
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d", len(req.Messages))
	}
	if req.Messages[1].Role != anthropic.RoleAssistant || len(req.Messages[1].Content) != 2 {
		t.Errorf("assistant turn = %+v", req.Messages[1])
	}
	// Tool results ride as user messages.
	if req.Messages[2].Role != anthropic.RoleUser {
		t.Errorf("tool result role = %q", req.Messages[2].Role)
	}
	if req.MaxTokens != 4096 {
		t.Errorf("maxTokens = %d, must default when unset", req.MaxTokens)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "read_file" {
		t.Errorf("tools = %+v", req.Tools)
	}
}

func TestAnthropicBuildRequestSkipsOrphanToolResult(t *testing.T) {
	p := NewAnthropicProvider("k", nil)
	req := p.buildRequest(engine.ChatRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []engine.Message{
			{Role: engine.RoleUser, Content: "hola"},
			{Role: engine.RoleTool, Content: "resultado suelto", ToolCallID: "toolu_9"},
		},
	})
	if len(req.Messages) != 1 {
		t.Fatalf("orphan tool result must be dropped, got %d messages", len(req.Messages))
	}
}

func TestAnthropicToolChoiceUnion(t *testing.T) {
	if got := anthropicToolChoice(nil); got != nil {
		t.Errorf("nil = %+v", got)
	}
	if got := anthropicToolChoice(&engine.ToolChoice{Mode: "required"}); got == nil || got.Type != "any" {
		t.Errorf("required = %+v", got)
	}
	got := anthropicToolChoice(&engine.ToolChoice{Mode: "tool", Name: "read_file"})
	if got == nil || got.Type != "tool" || got.Name != "read_file" {
		t.Errorf("tool = %+v", got)
	}
}

func TestAnthropicProjectResponse(t *testing.T) {
	resp := anthropic.MessagesResponse{
		Content: []anthropic.MessageContent{
			anthropic.NewTextMessageContent("Claro, "),
			anthropic.NewTextMessageContent("lo hago."),
			anthropic.NewToolUseMessageContent("toolu_1", "read_file", json.RawMessage(`{"file_path":"go.mod"}`)),
		},
		StopReason: "tool_use",
	}
	resp.Usage.InputTokens = 8
	resp.Usage.OutputTokens = 3

	out := projectAnthropicResponse(resp)
	if out.Content != "Claro, lo hago." {
		t.Errorf("content = %q", out.Content)
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
	tc := out.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Function.Name != "read_file" || tc.Function.Arguments != `{"file_path":"go.mod"}` {
		t.Errorf("call = %+v", tc)
	}
	if out.FinishReason != engine.FinishToolCalls {
		t.Errorf("finish = %q", out.FinishReason)
	}
	if out.Usage == nil || out.Usage.TotalTokens != 11 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestAnthropicStopReasonMapping(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"end_turn", engine.FinishStop},
		{"stop_sequence", engine.FinishStop},
		{"max_tokens", engine.FinishLength},
		{"tool_use", engine.FinishToolCalls},
		{"content_filtered", engine.FinishContentFilter},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normaliseAnthropicStop(tc.in); got != tc.want {
			t.Errorf("normaliseAnthropicStop(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAnthropicListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[
			{"id":"claude-3-5-sonnet-20241022","display_name":"Claude 3.5 Sonnet","type":"model"},
			{"id":"claude-3-5-haiku-20241022","display_name":"Claude 3.5 Haiku","type":"model"}
		],"has_more":false}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", nil)
	p.baseURL = srv.URL

	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %+v", models)
	}
	if models[0].ID != "claude-3-5-sonnet-20241022" || models[0].DisplayName != "Claude 3.5 Sonnet" {
		t.Errorf("models[0] = %+v", models[0])
	}
	if models[1].Category != "fast" {
		t.Errorf("haiku category = %q", models[1].Category)
	}
}

func TestAnthropicListModelsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("bad-key", nil)
	p.baseURL = srv.URL

	err := p.ValidateAPIKey(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	var pe *engine.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T", err)
	}
	if pe.Kind != engine.ErrKindAuth {
		t.Errorf("kind = %q", pe.Kind)
	}
}
