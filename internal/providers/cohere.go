package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/iabuilder/iabuilder/internal/engine"
)

const cohereAPIBase = "https://api.cohere.ai/v1"

// CohereProvider speaks the Cohere chat API. Its request shape differs from
// the rest: the current turn travels in "message", prior turns in
// "chat_history" and system prompts in "preamble". Streaming is NDJSON
// events rather than SSE.
type CohereProvider struct {
	apiKey   string
	baseURL  string
	http     *http.Client
	fallback []engine.ModelInfo
}

func NewCohereProvider(apiKey string, fallback []engine.ModelInfo) *CohereProvider {
	return &CohereProvider{
		apiKey:   apiKey,
		baseURL:  cohereAPIBase,
		http:     &http.Client{},
		fallback: fallback,
	}
}

func (p *CohereProvider) Name() string { return "cohere" }

type cohereHistoryEntry struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type cohereParamDef struct {
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
}

type cohereTool struct {
	Name                 string                    `json:"name"`
	Description          string                    `json:"description,omitempty"`
	ParameterDefinitions map[string]cohereParamDef `json:"parameter_definitions,omitempty"`
}

type cohereRequest struct {
	Model       string               `json:"model"`
	Message     string               `json:"message"`
	ChatHistory []cohereHistoryEntry `json:"chat_history,omitempty"`
	Preamble    string               `json:"preamble,omitempty"`
	Tools       []cohereTool         `json:"tools,omitempty"`
	Temperature *float32             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type cohereToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

type cohereMeta struct {
	Tokens *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"tokens"`
	BilledUnits *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"billed_units"`
}

type cohereChatResponse struct {
	Text         string           `json:"text"`
	ToolCalls    []cohereToolCall `json:"tool_calls"`
	FinishReason string           `json:"finish_reason"`
	Meta         *cohereMeta      `json:"meta"`
}

type cohereStreamEvent struct {
	EventType    string              `json:"event_type"`
	Text         string              `json:"text"`
	ToolCalls    []cohereToolCall    `json:"tool_calls"`
	FinishReason string              `json:"finish_reason"`
	Response     *cohereChatResponse `json:"response"`
}

func (p *CohereProvider) ChatCompletion(ctx context.Context, req engine.ChatRequest, onChunk engine.StreamHandler) (engine.ChatResponse, error) {
	payload := p.buildRequest(req)
	if req.Stream {
		payload.Stream = true
		return p.streamCompletion(ctx, req.Model, payload, onChunk)
	}
	return p.complete(ctx, req.Model, payload)
}

// buildRequest splits the transcript: the last user turn becomes "message",
// system prompts join into "preamble" and everything else lines up in
// "chat_history" in order.
func (p *CohereProvider) buildRequest(req engine.ChatRequest) cohereRequest {
	lastUser := -1
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == engine.RoleUser {
			lastUser = i
			break
		}
	}

	var preamble []string
	var history []cohereHistoryEntry
	message := " "

	for i, m := range req.Messages {
		if m.Role == engine.RoleSystem {
			if m.Content != "" {
				preamble = append(preamble, m.Content)
			}
			continue
		}
		if i == lastUser {
			if m.Content != "" {
				message = m.Content
			}
			continue
		}
		entry := cohereHistoryEntry{Message: m.Content}
		switch m.Role {
		case engine.RoleUser:
			entry.Role = "USER"
		case engine.RoleAssistant:
			entry.Role = "CHATBOT"
			if entry.Message == "" && len(m.ToolCalls) > 0 {
				entry.Message = renderCallsAsText(m.ToolCalls)
			}
		case engine.RoleTool:
			entry.Role = "TOOL"
		default:
			continue
		}
		if entry.Message == "" {
			entry.Message = " "
		}
		history = append(history, entry)
	}

	out := cohereRequest{
		Model:       req.Model,
		Message:     message,
		ChatHistory: history,
		Preamble:    strings.Join(preamble, "\n\n"),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 && (req.ToolChoice == nil || req.ToolChoice.Mode != "none") {
		for _, ts := range req.Tools {
			out.Tools = append(out.Tools, cohereTool{
				Name:                 ts.Name,
				Description:          ts.Description,
				ParameterDefinitions: cohereParamDefs(ts.Parameters),
			})
		}
	}
	return out
}

func renderCallsAsText(calls []engine.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, tc := range calls {
		parts = append(parts, fmt.Sprintf("%s(%s)", tc.Function.Name, tc.Function.Arguments))
	}
	return strings.Join(parts, "\n")
}

// cohereParamDefs converts a JSON Schema object into the flat
// parameter_definitions map this API wants, with its Python-flavoured type
// names.
func cohereParamDefs(schema map[string]any) map[string]cohereParamDef {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := make(map[string]bool)
	if list, ok := schema["required"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				required[s] = true
			}
		}
	}

	out := make(map[string]cohereParamDef, len(props))
	for name, raw := range props {
		def := cohereParamDef{Type: "str", Required: required[name]}
		if prop, ok := raw.(map[string]any); ok {
			if desc, ok := prop["description"].(string); ok {
				def.Description = desc
			}
			if typ, ok := prop["type"].(string); ok {
				def.Type = cohereTypeName(typ)
			}
		}
		out[name] = def
	}
	return out
}

func cohereTypeName(jsonType string) string {
	switch jsonType {
	case "string":
		return "str"
	case "integer":
		return "int"
	case "number":
		return "float"
	case "boolean":
		return "bool"
	case "array":
		return "list"
	case "object":
		return "dict"
	default:
		return "str"
	}
}

func (p *CohereProvider) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	return p.http.Do(req)
}

func cohereAPIError(body io.Reader, status int) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		return fmt.Errorf("status %d: %s", status, payload.Message)
	}
	return fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(raw)))
}

func (p *CohereProvider) complete(ctx context.Context, model string, payload cohereRequest) (engine.ChatResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := p.post(cctx, "/chat", payload)
	if err != nil {
		if ctx.Err() != nil && engine.IsCancellation(ctx.Err()) {
			return engine.ChatResponse{FinishReason: engine.FinishCancelled}, nil
		}
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.ChatResponse{}, httpProviderError(p.Name(), model, resp.StatusCode, cohereAPIError(resp.Body, resp.StatusCode))
	}

	var body cohereChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, fmt.Errorf("decode response: %w", err))
	}

	calls := convertCohereCalls(body.ToolCalls)
	out := engine.ChatResponse{
		Content:      body.Text,
		ToolCalls:    calls,
		FinishReason: defaultFinish(normaliseCohereFinish(body.FinishReason), len(calls) > 0),
		Usage:        cohereUsage(body.Meta),
	}
	return out, nil
}

// streamCompletion consumes the NDJSON event stream: text-generation events
// carry deltas, tool-calls-generation the finished calls and stream-end the
// finish reason plus usage.
func (p *CohereProvider) streamCompletion(ctx context.Context, model string, payload cohereRequest, onChunk engine.StreamHandler) (engine.ChatResponse, error) {
	resp, err := p.post(ctx, "/chat", payload)
	if err != nil {
		if engine.IsCancellation(err) || ctx.Err() != nil {
			return engine.ChatResponse{FinishReason: engine.FinishCancelled}, nil
		}
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.ChatResponse{}, httpProviderError(p.Name(), model, resp.StatusCode, cohereAPIError(resp.Body, resp.StatusCode))
	}

	var text strings.Builder
	var calls []engine.ToolCall
	var finish string
	var usage *engine.Usage

	dec := json.NewDecoder(resp.Body)
	for {
		var ev cohereStreamEvent
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				break
			}
			if engine.IsCancellation(err) || ctx.Err() != nil {
				return engine.ChatResponse{
					Content:      text.String(),
					ToolCalls:    calls,
					FinishReason: engine.FinishCancelled,
				}, nil
			}
			return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, fmt.Errorf("read stream: %w", err))
		}

		switch ev.EventType {
		case "text-generation":
			if ev.Text != "" {
				if onChunk != nil {
					onChunk(ev.Text)
				}
				text.WriteString(ev.Text)
			}
		case "tool-calls-generation":
			calls = append(calls, convertCohereCalls(ev.ToolCalls)...)
		case "stream-end":
			finish = ev.FinishReason
			if ev.Response != nil {
				if finish == "" {
					finish = ev.Response.FinishReason
				}
				usage = cohereUsage(ev.Response.Meta)
			}
		}
	}

	return engine.ChatResponse{
		Content:      text.String(),
		ToolCalls:    calls,
		FinishReason: defaultFinish(normaliseCohereFinish(finish), len(calls) > 0),
		Usage:        usage,
	}, nil
}

// convertCohereCalls post-processes the {name,parameters} pairs into
// canonical calls. The API assigns no IDs so calls get positional ones.
func convertCohereCalls(in []cohereToolCall) []engine.ToolCall {
	var out []engine.ToolCall
	for _, tc := range in {
		if tc.Name == "" {
			continue
		}
		args := "{}"
		if len(tc.Parameters) > 0 {
			if raw, err := json.Marshal(tc.Parameters); err == nil {
				args = string(raw)
			}
		}
		out = append(out, engine.ToolCall{
			ID:   fmt.Sprintf("call_%d", len(out)),
			Type: "function",
			Function: engine.FunctionCall{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return out
}

// normaliseCohereFinish maps the terminal markers. COMPLETE is the generic
// "done" and carries no tool information, so it defers to the default rule.
func normaliseCohereFinish(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return engine.FinishLength
	case "ERROR_TOXIC":
		return engine.FinishContentFilter
	default:
		return ""
	}
}

func cohereUsage(meta *cohereMeta) *engine.Usage {
	if meta == nil {
		return nil
	}
	var in, out int
	if meta.Tokens != nil {
		in, out = meta.Tokens.InputTokens, meta.Tokens.OutputTokens
	} else if meta.BilledUnits != nil {
		in, out = meta.BilledUnits.InputTokens, meta.BilledUnits.OutputTokens
	}
	if in == 0 && out == 0 {
		return nil
	}
	return &engine.Usage{
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
	}
}

func (p *CohereProvider) ListModels(ctx context.Context) ([]engine.ModelInfo, error) {
	cctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, p.baseURL+"/models?page_size=100&endpoint=chat", nil)
	if err != nil {
		return nil, engine.WrapProviderError(p.Name(), "", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, engine.WrapProviderError(p.Name(), "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpProviderError(p.Name(), "", resp.StatusCode, cohereAPIError(resp.Body, resp.StatusCode))
	}

	var payload struct {
		Models []struct {
			Name          string  `json:"name"`
			ContextLength float64 `json:"context_length"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, engine.WrapProviderError(p.Name(), "", fmt.Errorf("decode models listing: %w", err))
	}

	out := make([]engine.ModelInfo, 0, len(payload.Models))
	for _, m := range payload.Models {
		out = append(out, engine.ModelInfo{
			ID:            m.Name,
			DisplayName:   m.Name,
			Provider:      p.Name(),
			ContextWindow: int(m.ContextLength),
			Category:      categoryForID(m.Name),
			SupportsTools: modelSupportsTools(m.Name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *CohereProvider) FallbackModels() []engine.ModelInfo {
	return append([]engine.ModelInfo(nil), p.fallback...)
}

func (p *CohereProvider) Categorise() map[string][]string {
	return Categorise(p.fallback)
}

func (p *CohereProvider) SupportsFunctionCalling(model string) bool {
	return modelSupportsTools(model)
}

func (p *CohereProvider) ValidateAPIKey(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}
