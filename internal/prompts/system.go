package prompts

import (
	"fmt"
	"strings"

	"github.com/iabuilder/iabuilder/internal/adapters"
	"github.com/iabuilder/iabuilder/internal/engine"
	"github.com/iabuilder/iabuilder/internal/project"
	"github.com/iabuilder/iabuilder/internal/workspace"
)

// InteractiveID is the base prompt for the REPL assistant.
const InteractiveID = "interactive"

func init() {
	DefaultRegistry().Register(&Prompt{
		ID:          InteractiveID,
		Version:     PromptV1,
		Description: "Base system prompt for the interactive assistant",
		Content: `You are iabuilder, an AI assistant working from the command line inside the workspace at {{workdir}}.

You can call tools to read and change files, run shell commands and search the web. Use them whenever a task needs real information; never invent file contents or command output.

Rules:
- Read a file before editing it.
- Make small, focused changes and preserve the surrounding style.
- After changing code, run it or its tests when a quick check is possible.
- When a command fails, quote the relevant error lines and say what you will try next.
- Answer in the language the user writes in.

Available tools:
{{tools}}`,
	})
}

// Strictness guidance appended after the base prompt. Minimal families get
// nothing: their function-calling protocol needs no reinforcement.
const (
	standardToolGuidance = `Call tools through the function-calling interface, one call at a time. Wait for each result before deciding the next step.`

	detailedToolGuidance = standardToolGuidance + `

If the function-calling interface is unavailable, emit exactly one JSON object of the form {"name": "<tool>", "arguments": {...}} and nothing else. Do not wrap tool calls in code fences, do not prefix them with [Acción: ...] and do not describe a call instead of making it.`

	maximumToolGuidance = detailedToolGuidance + `

Common mistakes to avoid:
- Emitting anything before or after the JSON object on the same line.
- Sending arguments as a string instead of an object.
- Inventing tool names or argument keys not present in the tool list.
- Calling several tools in one message.
When in doubt, ask the user in plain text instead of emitting a malformed call.`
)

func strictnessFragment(s adapters.Strictness) string {
	switch s {
	case adapters.StrictnessStandard:
		return standardToolGuidance
	case adapters.StrictnessDetailed:
		return detailedToolGuidance
	case adapters.StrictnessMaximum:
		return maximumToolGuidance
	default:
		return ""
	}
}

// BuildSystemPrompt renders the session system prompt for a workspace, the
// registered tools and the strictness the model family asks for. Workspace
// kind and project rules join as extra fragments when present.
func BuildSystemPrompt(workdir string, schemas []engine.ToolSchema, strictness adapters.Strictness) (string, error) {
	b, err := NewPromptBuilder(DefaultRegistry(), InteractiveID, PromptV1)
	if err != nil {
		return "", err
	}
	if hint := workspace.Hint(workdir); hint != "" {
		b.AddFragment(hint)
	}
	rules, err := project.Rules(workdir)
	if err != nil {
		return "", err
	}
	if rules != "" {
		b.AddFragment("Project rules (from " + project.Dir + "/" + project.RulesFile + "):\n" + rules)
	}
	if fragment := strictnessFragment(strictness); fragment != "" {
		b.AddFragment(fragment)
	}
	b.SetVariable("workdir", workdir)
	b.SetVariable("tools", renderToolList(schemas))
	return b.Build(), nil
}

func renderToolList(schemas []engine.ToolSchema) string {
	if len(schemas) == 0 {
		return "(no tools registered)"
	}
	var sb strings.Builder
	for _, s := range schemas {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
