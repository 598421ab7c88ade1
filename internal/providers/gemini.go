package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/iabuilder/iabuilder/internal/engine"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider speaks the native Gemini REST API. Unlike the other
// backends its streaming endpoint emits a JSON array of response objects,
// not server-sent events.
type GeminiProvider struct {
	apiKey   string
	baseURL  string
	http     *http.Client
	fallback []engine.ModelInfo
}

func NewGeminiProvider(apiKey string, fallback []engine.ModelInfo) *GeminiProvider {
	return &GeminiProvider{
		apiKey:   apiKey,
		baseURL:  geminiAPIBase,
		http:     &http.Client{},
		fallback: fallback,
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiToolConfig struct {
	FunctionCallingConfig struct {
		Mode                 string   `json:"mode"`
		AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
	} `json:"functionCallingConfig"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

func (p *GeminiProvider) ChatCompletion(ctx context.Context, req engine.ChatRequest, onChunk engine.StreamHandler) (engine.ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), req.Model, err)
	}
	if req.Stream {
		return p.streamCompletion(ctx, req.Model, body, onChunk)
	}
	return p.complete(ctx, req.Model, body)
}

// buildRequest translates the canonical request: assistant turns become role
// "model", system messages move to systemInstruction and tool results ride
// as functionResponse parts paired by function name.
func (p *GeminiProvider) buildRequest(req engine.ChatRequest) geminiRequest {
	var out geminiRequest

	// The API pairs results by name, so remember which name each call ID
	// belongs to for tool messages missing ToolName.
	callNames := make(map[string]string)

	var systemParts []geminiPart
	for _, m := range req.Messages {
		switch m.Role {
		case engine.RoleSystem:
			systemParts = append(systemParts, geminiPart{Text: m.Content})
		case engine.RoleUser:
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})
		case engine.RoleAssistant:
			var parts []geminiPart
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: tc.Function.Name,
					Args: decodeArgsObject(tc.Function.Arguments),
				}})
			}
			if len(parts) == 0 {
				parts = append(parts, geminiPart{Text: " "})
			}
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: parts})
		case engine.RoleTool:
			name := m.ToolName
			if name == "" {
				name = callNames[m.ToolCallID]
			}
			if name == "" {
				continue
			}
			out.Contents = append(out.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResponse{
					Name:     name,
					Response: decodeResultObject(m.Content),
				}}},
			})
		}
	}
	if len(systemParts) > 0 {
		out.SystemInstruction = &geminiContent{Parts: systemParts}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(req.Tools))
		for _, ts := range req.Tools {
			decls = append(decls, geminiFunctionDecl{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  ts.Parameters,
			})
		}
		out.Tools = []geminiTool{{FunctionDeclarations: decls}}
		out.ToolConfig = geminiToolChoice(req.ToolChoice)
	}

	if req.MaxTokens > 0 || req.Temperature != nil {
		out.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}

	return out
}

func geminiToolChoice(tc *engine.ToolChoice) *geminiToolConfig {
	if tc == nil {
		return nil
	}
	cfg := &geminiToolConfig{}
	switch tc.Mode {
	case "auto":
		cfg.FunctionCallingConfig.Mode = "AUTO"
	case "none":
		cfg.FunctionCallingConfig.Mode = "NONE"
	case "required":
		cfg.FunctionCallingConfig.Mode = "ANY"
	case "tool":
		cfg.FunctionCallingConfig.Mode = "ANY"
		cfg.FunctionCallingConfig.AllowedFunctionNames = []string{tc.Name}
	default:
		return nil
	}
	return cfg
}

// decodeArgsObject turns a serialised arguments string back into the object
// the API expects; unparseable input degrades to an empty object.
func decodeArgsObject(args string) map[string]any {
	if strings.TrimSpace(args) == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(args), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

// decodeResultObject wraps non-object tool output so functionResponse always
// carries a JSON object.
func decodeResultObject(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"result": content}
}

// endpoint builds a model method URL. The key rides as a query parameter,
// which is what this API documents for API-key auth.
func (p *GeminiProvider) endpoint(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s?key=%s",
		p.baseURL, strings.TrimPrefix(model, "models/"), method, url.QueryEscape(p.apiKey))
}

func (p *GeminiProvider) post(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.http.Do(req)
}

// readAPIError decodes the {"error":{...}} envelope non-200 responses carry.
func readAPIError(body io.Reader, status int) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		return fmt.Errorf("status %d (%s): %s", status, payload.Error.Status, payload.Error.Message)
	}
	return fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(raw)))
}

func (p *GeminiProvider) complete(ctx context.Context, model string, body []byte) (engine.ChatResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := p.post(cctx, p.endpoint(model, "generateContent"), body)
	if err != nil {
		if ctx.Err() != nil && engine.IsCancellation(ctx.Err()) {
			return engine.ChatResponse{FinishReason: engine.FinishCancelled}, nil
		}
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.ChatResponse{}, httpProviderError(p.Name(), model, resp.StatusCode, readAPIError(resp.Body, resp.StatusCode))
	}

	var payload geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, fmt.Errorf("decode response: %w", err))
	}
	if len(payload.Candidates) == 0 {
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, fmt.Errorf("response carried no candidates"))
	}

	var text strings.Builder
	var calls []engine.ToolCall
	for _, part := range payload.Candidates[0].Content.Parts {
		collectGeminiPart(part, &text, &calls, nil)
	}

	out := engine.ChatResponse{
		Content:      text.String(),
		ToolCalls:    calls,
		FinishReason: defaultFinish(normaliseGeminiFinish(payload.Candidates[0].FinishReason), len(calls) > 0),
	}
	if u := payload.UsageMetadata; u != nil && u.TotalTokenCount > 0 {
		out.Usage = &engine.Usage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.TotalTokenCount,
		}
	}
	return out, nil
}

// streamCompletion reads the array-of-objects stream: a json.Decoder walks
// one top-level JSON array and each element is a full response object whose
// parts are appended as they arrive.
func (p *GeminiProvider) streamCompletion(ctx context.Context, model string, body []byte, onChunk engine.StreamHandler) (engine.ChatResponse, error) {
	resp, err := p.post(ctx, p.endpoint(model, "streamGenerateContent"), body)
	if err != nil {
		if engine.IsCancellation(err) || ctx.Err() != nil {
			return engine.ChatResponse{FinishReason: engine.FinishCancelled}, nil
		}
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.ChatResponse{}, httpProviderError(p.Name(), model, resp.StatusCode, readAPIError(resp.Body, resp.StatusCode))
	}

	var text strings.Builder
	var calls []engine.ToolCall
	var finish string
	var usage *geminiUsageMetadata

	dec := json.NewDecoder(resp.Body)
	if _, err := dec.Token(); err != nil {
		if engine.IsCancellation(err) || ctx.Err() != nil {
			return engine.ChatResponse{FinishReason: engine.FinishCancelled}, nil
		}
		return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, fmt.Errorf("read stream: %w", err))
	}
	for dec.More() {
		var el geminiResponse
		if err := dec.Decode(&el); err != nil {
			if engine.IsCancellation(err) || ctx.Err() != nil {
				return engine.ChatResponse{
					Content:      text.String(),
					ToolCalls:    calls,
					FinishReason: engine.FinishCancelled,
				}, nil
			}
			return engine.ChatResponse{}, engine.WrapProviderError(p.Name(), model, fmt.Errorf("read stream: %w", err))
		}
		if el.UsageMetadata != nil && el.UsageMetadata.TotalTokenCount > 0 {
			usage = el.UsageMetadata
		}
		if len(el.Candidates) == 0 {
			continue
		}
		cand := el.Candidates[0]
		for _, part := range cand.Content.Parts {
			collectGeminiPart(part, &text, &calls, onChunk)
		}
		if cand.FinishReason != "" {
			finish = cand.FinishReason
		}
	}

	out := engine.ChatResponse{
		Content:      text.String(),
		ToolCalls:    calls,
		FinishReason: defaultFinish(normaliseGeminiFinish(finish), len(calls) > 0),
	}
	if usage != nil {
		out.Usage = &engine.Usage{
			PromptTokens:     usage.PromptTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.TotalTokenCount,
		}
	}
	return out, nil
}

// collectGeminiPart folds one part into the running response. The API does
// not assign call IDs, so calls get stable positional ones.
func collectGeminiPart(part geminiPart, text *strings.Builder, calls *[]engine.ToolCall, onChunk engine.StreamHandler) {
	if part.Text != "" {
		if onChunk != nil {
			onChunk(part.Text)
		}
		text.WriteString(part.Text)
	}
	if fc := part.FunctionCall; fc != nil && fc.Name != "" {
		args := "{}"
		if len(fc.Args) > 0 {
			if raw, err := json.Marshal(fc.Args); err == nil {
				args = string(raw)
			}
		}
		*calls = append(*calls, engine.ToolCall{
			ID:   fmt.Sprintf("call_%d", len(*calls)),
			Type: "function",
			Function: engine.FunctionCall{
				Name:      fc.Name,
				Arguments: args,
			},
		})
	}
}

func normaliseGeminiFinish(reason string) string {
	switch reason {
	case "STOP":
		return engine.FinishStop
	case "MAX_TOKENS":
		return engine.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return engine.FinishContentFilter
	default:
		return ""
	}
}

func (p *GeminiProvider) ListModels(ctx context.Context) ([]engine.ModelInfo, error) {
	cctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	listURL := fmt.Sprintf("%s/models?pageSize=100&key=%s", p.baseURL, url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, engine.WrapProviderError(p.Name(), "", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, engine.WrapProviderError(p.Name(), "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpProviderError(p.Name(), "", resp.StatusCode, readAPIError(resp.Body, resp.StatusCode))
	}

	var payload struct {
		Models []struct {
			Name                       string   `json:"name"`
			DisplayName                string   `json:"displayName"`
			Description                string   `json:"description"`
			InputTokenLimit            int      `json:"inputTokenLimit"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, engine.WrapProviderError(p.Name(), "", fmt.Errorf("decode models listing: %w", err))
	}

	out := make([]engine.ModelInfo, 0, len(payload.Models))
	for _, m := range payload.Models {
		chat := false
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				chat = true
				break
			}
		}
		if !chat {
			continue
		}
		id := strings.TrimPrefix(m.Name, "models/")
		display := m.DisplayName
		if display == "" {
			display = id
		}
		out = append(out, engine.ModelInfo{
			ID:            id,
			DisplayName:   display,
			Provider:      p.Name(),
			ContextWindow: m.InputTokenLimit,
			Category:      categoryForID(id),
			SupportsTools: modelSupportsTools(id),
			Description:   m.Description,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *GeminiProvider) FallbackModels() []engine.ModelInfo {
	return append([]engine.ModelInfo(nil), p.fallback...)
}

func (p *GeminiProvider) Categorise() map[string][]string {
	return Categorise(p.fallback)
}

func (p *GeminiProvider) SupportsFunctionCalling(model string) bool {
	return modelSupportsTools(model)
}

func (p *GeminiProvider) ValidateAPIKey(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}
