package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// OpenAICompatible serves every provider speaking the OpenAI chat
// completions dialect: OpenAI itself plus Groq, OpenRouter, Together,
// Mistral, DeepSeek, AIML and Gemini's compatibility endpoint. Only the
// base URL, the key and the fallback catalog differ per provider.
type OpenAICompatible struct {
	name     string
	client   *openai.Client
	fallback []engine.ModelInfo
}

// NewOpenAICompatible builds a provider against the given base URL. A nil
// httpClient uses the SDK default; OpenRouter passes one that injects its
// attribution headers.
func NewOpenAICompatible(name, apiKey, baseURL string, httpClient *http.Client, fallback []engine.ModelInfo) *OpenAICompatible {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAICompatible{
		name:     name,
		client:   openai.NewClientWithConfig(cfg),
		fallback: fallback,
	}
}

func (p *OpenAICompatible) Name() string { return p.name }

// ChatCompletion sends one completion request. With req.Stream the response
// is assembled from SSE deltas and every content delta is forwarded through
// onChunk in arrival order.
func (p *OpenAICompatible) ChatCompletion(ctx context.Context, req engine.ChatRequest, onChunk engine.StreamHandler) (engine.ChatResponse, error) {
	oaiReq := p.buildRequest(req)
	if req.Stream {
		return p.streamCompletion(ctx, req.Model, oaiReq, onChunk)
	}
	return p.complete(ctx, req.Model, oaiReq)
}

func (p *OpenAICompatible) buildRequest(req engine.ChatRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case engine.RoleSystem:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			})
		case engine.RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			})
		case engine.RoleAssistant:
			// Empty assistant content serialises to null and some
			// gateways reject it; a single space is accepted everywhere.
			content := m.Content
			if content == "" {
				content = " "
			}
			var calls []openai.ToolCall
			for _, tc := range m.ToolCalls {
				calls = append(calls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: calls,
			})
		case engine.RoleTool:
			content := m.Content
			if content == "" {
				content = "{}"
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: m.ToolCallID,
				Content:    content,
			})
		}
	}

	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.Tool, 0, len(req.Tools))
		for _, ts := range req.Tools {
			tools = append(tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        ts.Name,
					Description: ts.Description,
					Parameters:  ts.Parameters,
				},
			})
		}
		out.Tools = tools
		out.ToolChoice = openAIToolChoice(req.ToolChoice)
	}

	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = req.Temperature
	}

	return out
}

// openAIToolChoice renders the tool choice union. The zero choice means
// "auto" so the model decides when to call.
func openAIToolChoice(tc *engine.ToolChoice) any {
	if tc == nil {
		return "auto"
	}
	switch tc.Mode {
	case "tool":
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: tc.Name},
		}
	case "none", "required", "auto":
		return tc.Mode
	default:
		return "auto"
	}
}

func (p *OpenAICompatible) complete(ctx context.Context, model string, req openai.ChatCompletionRequest) (engine.ChatResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(cctx, req)
	if err != nil {
		if ctx.Err() != nil && engine.IsCancellation(ctx.Err()) {
			return engine.ChatResponse{FinishReason: engine.FinishCancelled}, nil
		}
		return engine.ChatResponse{}, engine.WrapProviderError(p.name, model, err)
	}
	if len(resp.Choices) == 0 {
		return engine.ChatResponse{}, engine.WrapProviderError(p.name, model, errors.New("response carried no choices"))
	}

	choice := resp.Choices[0]
	out := engine.ChatResponse{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, engine.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: engine.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	out.FinishReason = defaultFinish(normaliseOpenAIFinish(string(choice.FinishReason)), len(out.ToolCalls) > 0)

	if resp.Usage.TotalTokens > 0 {
		out.Usage = &engine.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (p *OpenAICompatible) streamCompletion(ctx context.Context, model string, req openai.ChatCompletionRequest, onChunk engine.StreamHandler) (engine.ChatResponse, error) {
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		if engine.IsCancellation(err) {
			return engine.ChatResponse{FinishReason: engine.FinishCancelled}, nil
		}
		return engine.ChatResponse{}, engine.WrapProviderError(p.name, model, err)
	}
	defer stream.Close()

	acc := newStreamAccumulator()
	for {
		chunk, recvErr := stream.Recv()
		if recvErr != nil {
			// Some gateways wrap the terminal EOF instead of returning
			// io.EOF itself.
			if errors.Is(recvErr, io.EOF) || strings.Contains(recvErr.Error(), "EOF") {
				break
			}
			if engine.IsCancellation(recvErr) || ctx.Err() != nil {
				return acc.cancelled(), nil
			}
			return engine.ChatResponse{}, engine.WrapProviderError(p.name, model, recvErr)
		}

		// The final chunk under include_usage carries usage and no choices.
		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			acc.setUsage(engine.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			})
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if onChunk != nil {
				onChunk(choice.Delta.Content)
			}
			acc.addContent(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			acc.addToolCallDelta(index, tc.ID, string(tc.Type), tc.Function.Name, tc.Function.Arguments)
		}
		acc.setFinish(normaliseOpenAIFinish(string(choice.FinishReason)))
	}

	return acc.response(), nil
}

// normaliseOpenAIFinish keeps the canonical reasons as-is and folds the
// legacy function_call signal into tool_calls. Empty stays empty so the
// default rule can apply.
func normaliseOpenAIFinish(reason string) string {
	switch reason {
	case "", "null":
		return ""
	case "function_call":
		return engine.FinishToolCalls
	default:
		return reason
	}
}

// defaultFinish applies the fallback when the provider said nothing.
func defaultFinish(reason string, hasCalls bool) string {
	if reason != "" {
		return reason
	}
	if hasCalls {
		return engine.FinishToolCalls
	}
	return engine.FinishStop
}

// ListModels queries the provider's model catalog, enriching ids found in
// the static fallback list with their known metadata.
func (p *OpenAICompatible) ListModels(ctx context.Context) ([]engine.ModelInfo, error) {
	cctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	resp, err := p.client.ListModels(cctx)
	if err != nil {
		return nil, engine.WrapProviderError(p.name, "", err)
	}

	known := make(map[string]engine.ModelInfo, len(p.fallback))
	for _, m := range p.fallback {
		known[m.ID] = m
	}

	out := make([]engine.ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		if info, ok := known[m.ID]; ok {
			out = append(out, info)
			continue
		}
		out = append(out, engine.ModelInfo{
			ID:            m.ID,
			DisplayName:   m.ID,
			Provider:      p.name,
			Category:      categoryForID(m.ID),
			SupportsTools: modelSupportsTools(m.ID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FallbackModels returns the static catalog used when the listing endpoint
// is unreachable.
func (p *OpenAICompatible) FallbackModels() []engine.ModelInfo {
	return append([]engine.ModelInfo(nil), p.fallback...)
}

func (p *OpenAICompatible) Categorise() map[string][]string {
	return Categorise(p.fallback)
}

func (p *OpenAICompatible) SupportsFunctionCalling(model string) bool {
	return modelSupportsTools(model)
}

// ValidateAPIKey exercises the cheapest authenticated endpoint.
func (p *OpenAICompatible) ValidateAPIKey(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}
