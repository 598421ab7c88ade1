package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/iabuilder/iabuilder/internal/engine"
)

const (
	anthropicAPIBase = "https://api.anthropic.com/v1"
	// anthropicVersion is the API revision header required by the models
	// endpoint; the SDK sends its own for chat calls.
	anthropicVersion = "2023-06-01"
)

// AnthropicProvider speaks the Anthropic Messages API through its SDK. The
// models listing endpoint is not covered by the SDK so it is called directly.
type AnthropicProvider struct {
	client   *anthropic.Client
	apiKey   string
	http     *http.Client
	baseURL  string
	fallback []engine.ModelInfo
}

func NewAnthropicProvider(apiKey string, fallback []engine.ModelInfo) *AnthropicProvider {
	return &AnthropicProvider{
		client:   anthropic.NewClient(apiKey),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: listTimeout},
		baseURL:  anthropicAPIBase,
		fallback: fallback,
	}
}

// setBaseURL points both the SDK client and the direct listing calls at url.
func (p *AnthropicProvider) setBaseURL(url string) {
	p.baseURL = url
	p.client = anthropic.NewClient(p.apiKey, anthropic.WithBaseURL(url))
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) ChatCompletion(ctx context.Context, req engine.ChatRequest, onChunk engine.StreamHandler) (engine.ChatResponse, error) {
	base := p.buildRequest(req)
	if req.Stream {
		return p.streamCompletion(ctx, req.Model, base, onChunk)
	}
	return p.complete(ctx, req.Model, base)
}

// buildRequest translates the canonical request. System messages are lifted
// into the top-level multi-part system field, tool results ride as user
// messages with tool_result content, and max_tokens is mandatory on this API
// so it defaults when unset.
func (p *AnthropicProvider) buildRequest(req engine.ChatRequest) anthropic.MessagesRequest {
	var systemParts []anthropic.MessageSystemPart
	var msgs []anthropic.Message

	// The API rejects tool results that do not answer an assistant
	// tool_use block, so orphaned ones are dropped.
	var prevAssistantHadToolCalls bool

	for _, m := range req.Messages {
		switch m.Role {
		case engine.RoleSystem:
			systemParts = append(systemParts, anthropic.MessageSystemPart{
				Type: "text",
				Text: m.Content,
			})
			prevAssistantHadToolCalls = false
		case engine.RoleUser:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
			})
			prevAssistantHadToolCalls = false
		case engine.RoleAssistant:
			var content []anthropic.MessageContent
			if strings.TrimSpace(m.Content) != "" {
				content = append(content, anthropic.NewTextMessageContent(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				content = append(content, anthropic.NewToolUseMessageContent(
					tc.ID,
					tc.Function.Name,
					json.RawMessage(args),
				))
			}
			if len(content) == 0 {
				content = append(content, anthropic.NewTextMessageContent(" "))
			}
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: content,
			})
			prevAssistantHadToolCalls = len(m.ToolCalls) > 0
		case engine.RoleTool:
			if !prevAssistantHadToolCalls {
				continue
			}
			content := m.Content
			if content == "" {
				content = "{}"
			}
			msgs = append(msgs, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewToolResultMessageContent(m.ToolCallID, content, false),
				},
			})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	out := anthropic.MessagesRequest{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if len(systemParts) > 0 {
		out.MultiSystem = systemParts
	}
	if req.Temperature != nil {
		out.Temperature = req.Temperature
	}

	// "none" has no equivalent here; withholding the tools achieves it.
	if len(req.Tools) > 0 && (req.ToolChoice == nil || req.ToolChoice.Mode != "none") {
		var defs []anthropic.ToolDefinition
		for _, ts := range req.Tools {
			defs = append(defs, anthropic.ToolDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				InputSchema: ts.Parameters,
			})
		}
		out.Tools = defs
		if choice := anthropicToolChoice(req.ToolChoice); choice != nil {
			out.ToolChoice = choice
		}
	}

	return out
}

// anthropicToolChoice maps the canonical modes onto the {auto,any,tool} union.
func anthropicToolChoice(tc *engine.ToolChoice) *anthropic.ToolChoice {
	if tc == nil {
		return nil
	}
	switch tc.Mode {
	case "auto":
		return &anthropic.ToolChoice{Type: "auto"}
	case "required":
		return &anthropic.ToolChoice{Type: "any"}
	case "tool":
		return &anthropic.ToolChoice{Type: "tool", Name: tc.Name}
	default:
		return nil
	}
}

func (p *AnthropicProvider) complete(ctx context.Context, model string, req anthropic.MessagesRequest) (engine.ChatResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := p.client.CreateMessages(cctx, req)
	if err != nil {
		if ctx.Err() != nil && engine.IsCancellation(ctx.Err()) {
			return engine.ChatResponse{FinishReason: engine.FinishCancelled}, nil
		}
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, err)
	}
	return projectAnthropicResponse(resp), nil
}

func (p *AnthropicProvider) streamCompletion(ctx context.Context, model string, base anthropic.MessagesRequest, onChunk engine.StreamHandler) (engine.ChatResponse, error) {
	var partial strings.Builder

	req := anthropic.MessagesStreamRequest{MessagesRequest: base}
	req.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
		if delta.Delta.Type == "text_delta" && delta.Delta.Text != nil {
			partial.WriteString(*delta.Delta.Text)
			if onChunk != nil {
				onChunk(*delta.Delta.Text)
			}
		}
	}

	resp, err := p.client.CreateMessagesStream(ctx, req)
	if err != nil {
		if engine.IsCancellation(err) || ctx.Err() != nil {
			return engine.ChatResponse{
				Content:      partial.String(),
				FinishReason: engine.FinishCancelled,
			}, nil
		}
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, err)
	}

	// The returned response carries the complete content blocks, so the
	// projection is identical to the non-streaming path.
	return projectAnthropicResponse(resp), nil
}

// projectAnthropicResponse flattens content blocks back into the canonical
// shape: text blocks concatenate, tool_use blocks become tool calls.
func projectAnthropicResponse(resp anthropic.MessagesResponse) engine.ChatResponse {
	var text strings.Builder
	var calls []engine.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text.WriteString(*block.Text)
			}
		case "tool_use":
			if block.MessageContentToolUse == nil || block.MessageContentToolUse.ID == "" {
				continue
			}
			tu := block.MessageContentToolUse
			args := string(tu.Input)
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			calls = append(calls, engine.ToolCall{
				ID:   tu.ID,
				Type: "function",
				Function: engine.FunctionCall{
					Name:      tu.Name,
					Arguments: args,
				},
			})
		}
	}

	out := engine.ChatResponse{
		Content:      text.String(),
		ToolCalls:    calls,
		FinishReason: defaultFinish(normaliseAnthropicStop(string(resp.StopReason)), len(calls) > 0),
	}
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		out.Usage = &engine.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

func normaliseAnthropicStop(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return engine.FinishStop
	case "max_tokens":
		return engine.FinishLength
	case "tool_use":
		return engine.FinishToolCalls
	case "content_filtered":
		return engine.FinishContentFilter
	default:
		return ""
	}
}

// ListModels calls GET /v1/models directly; the SDK does not wrap it.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]engine.ModelInfo, error) {
	cctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, p.baseURL+"/models?limit=100", nil)
	if err != nil {
		return nil, engine.WrapProviderError(p.Name(), "", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, engine.WrapProviderError(p.Name(), "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, httpProviderError(p.Name(), "", resp.StatusCode,
			fmt.Errorf("list models: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var payload struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, engine.WrapProviderError(p.Name(), "", fmt.Errorf("decode models listing: %w", err))
	}

	out := make([]engine.ModelInfo, 0, len(payload.Data))
	for _, m := range payload.Data {
		display := m.DisplayName
		if display == "" {
			display = m.ID
		}
		out = append(out, engine.ModelInfo{
			ID:            m.ID,
			DisplayName:   display,
			Provider:      p.Name(),
			Category:      categoryForID(m.ID),
			SupportsTools: true,
		})
	}
	return out, nil
}

func (p *AnthropicProvider) FallbackModels() []engine.ModelInfo {
	return append([]engine.ModelInfo(nil), p.fallback...)
}

func (p *AnthropicProvider) Categorise() map[string][]string {
	return Categorise(p.fallback)
}

func (p *AnthropicProvider) SupportsFunctionCalling(model string) bool {
	return modelSupportsTools(model)
}

func (p *AnthropicProvider) ValidateAPIKey(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}
