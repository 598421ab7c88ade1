package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// writeFileImpl creates or fully replaces a file, creating parent
// directories as needed. The write goes through a sibling temp file and a
// rename so readers never observe a half-written file.
func writeFileImpl(root, path, content string) engine.ToolResult {
	full, err := resolvePath(root, path)
	if err != nil {
		return engine.Failure(err.Error())
	}

	if st, serr := os.Stat(full); serr == nil && st.IsDir() {
		return engine.Failuref("%s is a directory, not a file", path)
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return engine.Failuref("failed to create directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, ".write_file-*")
	if err != nil {
		return engine.Failuref("failed to create temp file: %v", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return engine.Failuref("failed to write file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return engine.Failuref("failed to write file: %v", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return engine.Failuref("failed to set file mode: %v", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return engine.Failuref("failed to replace file: %v", err)
	}

	result := map[string]any{
		"path":          path,
		"bytes_written": len(content),
	}
	return engine.Success(result, fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
}

// NewWriteFileTool builds the write_file tool.
func NewWriteFileTool(root string) engine.Tool {
	return engine.Tool{
		Name:        "write_file",
		Description: "Creates or replaces a file with the given content. Parent directories are created automatically.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Path relative to the workspace root"},
				"content": {"type": "string", "description": "Full new content of the file"}
			},
			"required": ["file_path", "content"]
		}`,
		Fn: func(ctx context.Context, args map[string]any) engine.ToolResult {
			path, ok := stringArg(args, "file_path")
			if !ok {
				return engine.Failure("file_path must be a string")
			}
			content, ok := stringArg(args, "content")
			if !ok {
				return engine.Failure("content must be a string")
			}
			return writeFileImpl(root, path, content)
		},
	}
}
