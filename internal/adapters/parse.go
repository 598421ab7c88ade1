package adapters

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// emptyResponseNotice stands in for a reply that carried neither text nor a
// usable tool call.
const emptyResponseNotice = "El modelo no devolvió una respuesta utilizable."

var (
	toolCodeFenceRe = regexp.MustCompile("(?s)```tool_code\\s*\\n?(.*?)```")
	toolCallXMLRe   = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)
	nameCallRe      = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)$`)
	accionPrefixRe  = regexp.MustCompile(`^\s*\[Acci[oó]n:\s*([^\]]+)\]\s*`)
)

// shellCommands are the leading words that make a bare line look like a
// shell invocation rather than prose.
var shellCommands = map[string]bool{
	"ls": true, "cat": true, "grep": true, "find": true, "echo": true,
	"pwd": true, "cd": true, "mkdir": true, "rm": true, "cp": true,
	"mv": true, "head": true, "tail": true, "wc": true, "git": true,
	"go": true, "python": true, "python3": true, "pip": true, "npm": true,
	"node": true, "make": true, "curl": true, "wget": true, "touch": true,
	"chmod": true, "sed": true, "awk": true, "which": true, "df": true,
	"du": true, "ps": true, "tar": true, "diff": true, "sort": true,
}

// Parse applies the family's repair chain to a raw response. Native tool
// calls pass through untouched. Otherwise the assistant text is scanned for
// the known malformed encodings in order: ```tool_code``` fences,
// <tool_call> XML wrappers, bare call-shaped JSON objects and, for small
// Llama, the [Acción: …] pseudo-prefix. When a repair fires the matched
// text is removed from the visible content since it was an attempted call,
// not chat.
func (a *familyAdapter) Parse(resp engine.ChatResponse) engine.ParsedResponse {
	if len(resp.ToolCalls) > 0 {
		return engine.ParsedResponse{Content: resp.Content, ToolCalls: resp.ToolCalls}
	}

	text := resp.Content
	var calls []engine.ToolCall
	repaired := false

	if got, cleaned, ok := repairToolCodeFences(text); ok {
		calls, text, repaired = got, cleaned, true
	} else if got, cleaned, ok := repairXMLToolCalls(text); ok {
		calls, text, repaired = got, cleaned, true
	} else if got, cleaned, ok := repairBareJSON(text); ok {
		calls, text, repaired = got, cleaned, true
	} else if a.accion {
		if got, cleaned, ok := repairAccionPrefix(text); ok {
			calls, text, repaired = got, cleaned, true
		} else {
			// Strip the prefix even when it named no command; it is
			// formatting noise either way.
			text = accionPrefixRe.ReplaceAllString(text, "")
		}
	}

	content := strings.TrimSpace(text)
	if len(calls) == 0 && content == "" {
		content = emptyResponseNotice
	}

	return engine.ParsedResponse{Content: content, ToolCalls: calls, Repaired: repaired}
}

// repairToolCodeFences extracts calls from ```tool_code``` blocks. A block
// holds either a name(json_args) call or a bare shell command, which maps
// to execute_bash.
func repairToolCodeFences(text string) ([]engine.ToolCall, string, bool) {
	matches := toolCodeFenceRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, text, false
	}

	var calls []engine.ToolCall
	for _, m := range matches {
		block := strings.TrimSpace(m[1])
		if block == "" {
			continue
		}
		if call, ok := callFromBlock(block); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		return nil, text, false
	}
	return calls, toolCodeFenceRe.ReplaceAllString(text, ""), true
}

// callFromBlock interprets one fenced block.
func callFromBlock(block string) (engine.ToolCall, bool) {
	if m := nameCallRe.FindStringSubmatch(block); m != nil {
		args := strings.TrimSpace(m[2])
		if args == "" {
			args = "{}"
		}
		if json.Valid([]byte(args)) {
			return newToolCall(m[1], args), true
		}
	}
	if looksLikeShellCommand(block) {
		return bashCall(block), true
	}
	return engine.ToolCall{}, false
}

// repairXMLToolCalls extracts calls from <tool_call>{…}</tool_call>
// wrappers, a format several open models were fine-tuned on.
func repairXMLToolCalls(text string) ([]engine.ToolCall, string, bool) {
	matches := toolCallXMLRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, text, false
	}

	var calls []engine.ToolCall
	for _, m := range matches {
		if call, ok := callFromJSON([]byte(m[1])); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		return nil, text, false
	}
	return calls, toolCallXMLRe.ReplaceAllString(text, ""), true
}

// repairBareJSON scans the text for call-shaped JSON objects dropped
// straight into the prose: {"name":…,"arguments":…} or {"function":{…}}.
// Each balanced object is decoded in place and removed from the content.
func repairBareJSON(text string) ([]engine.ToolCall, string, bool) {
	var calls []engine.ToolCall
	var kept strings.Builder
	rest := text

	for {
		start := strings.IndexByte(rest, '{')
		if start == -1 {
			kept.WriteString(rest)
			break
		}

		dec := json.NewDecoder(strings.NewReader(rest[start:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			kept.WriteString(rest[:start+1])
			rest = rest[start+1:]
			continue
		}

		if call, ok := callFromJSON(raw); ok {
			calls = append(calls, call)
			kept.WriteString(rest[:start])
		} else {
			kept.WriteString(rest[:start+len(raw)])
		}
		rest = rest[start+len(raw):]
	}

	if len(calls) == 0 {
		return nil, text, false
	}
	return calls, kept.String(), true
}

// repairAccionPrefix handles the small-Llama habit of answering with a
// bracketed pseudo-action. When the bracketed text starts with a shell
// command it becomes an execute_bash call; the prefix is dropped either way.
func repairAccionPrefix(text string) ([]engine.ToolCall, string, bool) {
	m := accionPrefixRe.FindStringSubmatch(text)
	if m == nil {
		return nil, text, false
	}

	action := strings.TrimSpace(m[1])
	if !looksLikeShellCommand(action) {
		return nil, text, false
	}

	cleaned := accionPrefixRe.ReplaceAllString(text, "")
	return []engine.ToolCall{bashCall(action)}, cleaned, true
}

// callFromJSON accepts the two call-shaped object layouts models emit.
func callFromJSON(raw []byte) (engine.ToolCall, bool) {
	var probe struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Function  *struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return engine.ToolCall{}, false
	}

	name := probe.Name
	args := probe.Arguments
	if probe.Function != nil && probe.Function.Name != "" {
		name = probe.Function.Name
		args = probe.Function.Arguments
	}
	if name == "" || (probe.Function == nil && args == nil) {
		return engine.ToolCall{}, false
	}

	argsJSON, ok := argumentsString(args)
	if !ok {
		return engine.ToolCall{}, false
	}
	return newToolCall(name, argsJSON), true
}

// argumentsString normalises the arguments field: an object is compacted,
// a string must itself contain JSON, absence means no arguments.
func argumentsString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "{}", true
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		if !json.Valid([]byte(s)) {
			return "", false
		}
		return s, true
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", false
	}
	return buf.String(), true
}

func looksLikeShellCommand(s string) bool {
	fields := strings.Fields(s)
	return len(fields) > 0 && shellCommands[fields[0]]
}

func bashCall(command string) engine.ToolCall {
	args, _ := json.Marshal(map[string]string{"command": command})
	return newToolCall("execute_bash", string(args))
}

func newToolCall(name, argsJSON string) engine.ToolCall {
	return engine.ToolCall{
		ID:   "call_" + uuid.NewString(),
		Type: "function",
		Function: engine.FunctionCall{
			Name:      name,
			Arguments: argsJSON,
		},
	}
}
