package filesystem

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// editFileImpl replaces old_text with new_text in a file. Without
// replace_all the match must be unique.
func editFileImpl(root, path, oldText, newText string, replaceAll bool) engine.ToolResult {
	full, err := resolvePath(root, path)
	if err != nil {
		return engine.Failure(err.Error())
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return engine.Failuref("file not found: %s", path)
		}
		return engine.Failuref("failed to read %s: %v", path, err)
	}
	if looksBinary(data) {
		return engine.Failuref("%s looks binary and cannot be edited as text", path)
	}
	content := string(data)

	if oldText == "" {
		return engine.Failure("old_text must not be empty")
	}
	if oldText == newText {
		return engine.Failure("old_text and new_text are identical, nothing to change")
	}

	count := strings.Count(content, oldText)
	if count == 0 {
		msg := fmt.Sprintf("old_text not found in %s", path)
		// A whitespace mismatch is the usual culprit; say so when the text
		// matches after collapsing runs of whitespace.
		normalised := strings.Join(strings.Fields(content), " ")
		if strings.Contains(normalised, strings.Join(strings.Fields(oldText), " ")) {
			msg += " (the text exists with different whitespace or indentation; re-read the file and copy it exactly)"
		}
		return engine.Failure(msg)
	}
	if count > 1 && !replaceAll {
		return engine.Failuref(
			"old_text appears %d times in %s; add more context to make it unique or pass replace_all=true",
			count, path)
	}

	var updated string
	replacements := 1
	if replaceAll {
		updated = strings.ReplaceAll(content, oldText, newText)
		replacements = count
	} else {
		updated = strings.Replace(content, oldText, newText, 1)
	}

	if err := os.WriteFile(full, []byte(updated), 0644); err != nil {
		return engine.Failuref("failed to write %s: %v", path, err)
	}

	result := map[string]any{
		"path":         path,
		"replacements": replacements,
	}
	noun := "occurrence"
	if replacements != 1 {
		noun = "occurrences"
	}
	return engine.Success(result, fmt.Sprintf("Replaced %d %s in %s", replacements, noun, path))
}

// NewEditFileTool builds the edit_file tool.
func NewEditFileTool(root string) engine.Tool {
	return engine.Tool{
		Name: "edit_file",
		Description: "Replaces exact text in a file. Read the file first and copy old_text exactly, " +
			"including whitespace. Fails when old_text is missing or ambiguous.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path relative to the workspace root"},
				"old_text": {"type": "string", "description": "Exact text to replace"},
				"new_text": {"type": "string", "description": "Replacement text"},
				"replace_all": {"type": "boolean", "description": "Replace every occurrence (default false)"}
			},
			"required": ["file_path", "old_text", "new_text"]
		}`,
		Fn: func(ctx context.Context, args map[string]any) engine.ToolResult {
			path, ok := stringArg(args, "file_path")
			if !ok {
				return engine.Failure("file_path must be a string")
			}
			oldText, ok := stringArg(args, "old_text")
			if !ok {
				return engine.Failure("old_text must be a string")
			}
			newText, ok := stringArg(args, "new_text")
			if !ok {
				return engine.Failure("new_text must be a string")
			}
			return editFileImpl(root, path, oldText, newText, boolArg(args, "replace_all", false))
		},
	}
}
