// Package filesystem implements the file tools: read_file, write_file and
// edit_file. All paths are interpreted relative to the workspace root and
// may not escape it.
package filesystem

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Resolver maps a conversational file reference ("the readme") to a path
// relative to the workspace root. read_file consults it when the literal
// path does not exist. The project index satisfies this.
type Resolver interface {
	Resolve(reference string) (string, bool)
}

// resolvePath joins a model-supplied path with the workspace root and
// rejects escapes.
func resolvePath(root, path string) (string, error) {
	full := filepath.Clean(filepath.Join(root, path))
	rel, err := filepath.Rel(filepath.Clean(root), full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the workspace", path)
	}
	return full, nil
}

// looksBinary reports whether content is unsuitable for text tools.
func looksBinary(content []byte) bool {
	if bytes.IndexByte(content, 0) >= 0 {
		return true
	}
	return !utf8.Valid(content)
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

// intArg extracts an optional integer argument; JSON numbers decode as
// float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// boolArg extracts an optional boolean argument.
func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
