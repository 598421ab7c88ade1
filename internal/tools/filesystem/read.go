package filesystem

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// readFileImpl returns a line range of a text file. When the literal path
// does not exist the resolver, if any, gets a chance to interpret it as a
// semantic reference.
func readFileImpl(root, path string, startLine, endLine int, resolver Resolver) engine.ToolResult {
	shown := path

	full, err := resolvePath(root, path)
	if err != nil {
		return engine.Failure(err.Error())
	}

	st, statErr := os.Stat(full)
	if os.IsNotExist(statErr) && resolver != nil {
		if resolved, ok := resolver.Resolve(path); ok {
			if rfull, rerr := resolvePath(root, resolved); rerr == nil {
				if rst, serr := os.Stat(rfull); serr == nil {
					full, st, statErr, shown = rfull, rst, nil, resolved
				}
			}
		}
	}
	if statErr != nil {
		return engine.Failuref("file not found: %s", path)
	}
	if st.IsDir() {
		return engine.Failuref("%s is a directory, not a file", shown)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return engine.Failuref("failed to read %s: %v", shown, err)
	}
	if looksBinary(data) {
		return engine.Failuref("%s looks binary and cannot be read as text", shown)
	}

	content := string(data)
	lines := strings.Split(content, "\n")
	// A trailing newline produces one empty phantom line.
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)

	if startLine < 1 {
		startLine = 1
	}
	if endLine < 0 || endLine > total {
		endLine = total
	}
	if startLine > total {
		return engine.Failuref("start_line %d is beyond the end of %s (%d lines)", startLine, shown, total)
	}
	if endLine < startLine {
		return engine.Failuref("invalid line range %d-%d", startLine, endLine)
	}

	selected := strings.Join(lines[startLine-1:endLine], "\n")
	result := map[string]any{
		"path":        shown,
		"content":     selected,
		"start_line":  startLine,
		"end_line":    endLine,
		"total_lines": total,
	}
	return engine.Success(result, fmt.Sprintf("Read %s (lines %d-%d of %d)", shown, startLine, endLine, total))
}

// NewReadFileTool builds the read_file tool. resolver may be nil.
func NewReadFileTool(root string, resolver Resolver) engine.Tool {
	return engine.Tool{
		Name: "read_file",
		Description: "Reads a text file from the workspace. Accepts a path relative to the workspace root, " +
			"or a short reference like \"the readme\" that is resolved against the project index. " +
			"Optionally restrict to a line range.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path relative to the workspace root, or a file reference"},
				"start_line": {"type": "integer", "minimum": 1, "description": "First line to return, 1-based (default 1)"},
				"end_line": {"type": "integer", "description": "Last line to return, inclusive; -1 reads to the end (default -1)"}
			},
			"required": ["file_path"]
		}`,
		Fn: func(ctx context.Context, args map[string]any) engine.ToolResult {
			path, ok := stringArg(args, "file_path")
			if !ok {
				return engine.Failure("file_path must be a string")
			}
			start := intArg(args, "start_line", 1)
			end := intArg(args, "end_line", -1)
			return readFileImpl(root, path, start, end, resolver)
		},
	}
}
