package session

import (
	"fmt"
	"strings"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// ExportMarkdown renders the conversation as a readable transcript, used by
// the /save command.
func (c *Conversation) ExportMarkdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Conversation %s\n\n", c.sessionID)
	fmt.Fprintf(&b, "- Created: %s\n", c.createdAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- Last updated: %s\n", c.lastUpdated.Format("2006-01-02 15:04:05"))
	if c.provider != "" || c.model != "" {
		fmt.Fprintf(&b, "- Model: %s/%s\n", c.provider, c.model)
	}
	fmt.Fprintf(&b, "- Messages: %d\n", len(c.messages))
	if c.compressions > 0 {
		fmt.Fprintf(&b, "- Compressions: %d\n", c.compressions)
	}
	b.WriteString("\n")

	for _, m := range c.messages {
		ts := ""
		if !m.Timestamp.IsZero() {
			ts = " (" + m.Timestamp.Format("15:04:05") + ")"
		}

		switch m.Role {
		case engine.RoleSystem:
			fmt.Fprintf(&b, "## System%s\n\n%s\n\n", ts, m.Content)
		case engine.RoleUser:
			fmt.Fprintf(&b, "## User%s\n\n%s\n\n", ts, m.Content)
		case engine.RoleAssistant:
			fmt.Fprintf(&b, "## Assistant%s\n\n", ts)
			if strings.TrimSpace(m.Content) != "" {
				fmt.Fprintf(&b, "%s\n\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "**Tool call:** `%s`\n\n```json\n%s\n```\n\n", tc.Function.Name, tc.Function.Arguments)
			}
		case engine.RoleTool:
			fmt.Fprintf(&b, "### Result of `%s`%s\n\n```json\n%s\n```\n\n", m.ToolName, ts, m.Content)
		}
	}

	return b.String()
}
