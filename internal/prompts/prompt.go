// Package prompts holds the system prompt fragments and assembles the
// final prompt for a session: base instructions, the tool list and the
// strictness guidance the model family needs.
package prompts

// PromptVersion identifies a revision of a prompt.
type PromptVersion string

// PromptV1 is the current prompt revision.
const PromptV1 PromptVersion = "1.0.0"

// Prompt is a registered prompt template. Content may contain {{key}}
// placeholders filled in by the builder.
type Prompt struct {
	ID          string
	Version     PromptVersion
	Content     string
	Description string
}
