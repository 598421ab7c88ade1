// Package workspace guesses what kind of project a directory holds so the
// system prompt can mention the conventional build and test commands.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies a workspace by its dominant toolchain.
type Kind string

const (
	Go      Kind = "go"
	Node    Kind = "node"
	Python  Kind = "python"
	Rust    Kind = "rust"
	Unknown Kind = "unknown"
)

// manifests maps marker files to the kind they identify, in priority order.
var manifests = []struct {
	file string
	kind Kind
}{
	{"go.mod", Go},
	{"package.json", Node},
	{"pyproject.toml", Python},
	{"requirements.txt", Python},
	{"Cargo.toml", Rust},
}

// extensions maps source file extensions to kinds for the fallback scan.
var extensions = map[string]Kind{
	".go":  Go,
	".ts":  Node,
	".tsx": Node,
	".js":  Node,
	".jsx": Node,
	".py":  Python,
	".rs":  Rust,
}

// minFallbackFiles is how many same-kind source files the root must hold
// before the extension scan trusts its guess.
const minFallbackFiles = 3

// Detect classifies root by manifest first, then by counting source file
// extensions in the root directory when no manifest is present.
func Detect(root string) Kind {
	for _, m := range manifests {
		if _, err := os.Stat(filepath.Join(root, m.file)); err == nil {
			return m.kind
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return Unknown
	}

	counts := make(map[Kind]int)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if kind, ok := extensions[ext]; ok {
			counts[kind]++
		}
	}

	best, bestCount := Unknown, 0
	for _, kind := range []Kind{Go, Node, Python, Rust} {
		if counts[kind] > bestCount {
			best, bestCount = kind, counts[kind]
		}
	}
	if bestCount < minFallbackFiles {
		return Unknown
	}
	return best
}

// Commands returns the conventional build and test invocations for a kind.
// Either may be empty when the toolchain has no convention to suggest.
func Commands(k Kind) (build, test string) {
	switch k {
	case Go:
		return "go build ./...", "go test ./..."
	case Node:
		return "npm run build", "npm test"
	case Python:
		return "", "pytest"
	case Rust:
		return "cargo build", "cargo test"
	}
	return "", ""
}

// Hint renders one sentence about the workspace for the system prompt, or ""
// when nothing useful was detected.
func Hint(root string) string {
	k := Detect(root)
	if k == Unknown {
		return ""
	}

	build, test := Commands(k)
	parts := make([]string, 0, 2)
	if build != "" {
		parts = append(parts, fmt.Sprintf("build with `%s`", build))
	}
	if test != "" {
		parts = append(parts, fmt.Sprintf("test with `%s`", test))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("The workspace looks like a %s project.", k)
	}
	return fmt.Sprintf("The workspace looks like a %s project: %s.", k, strings.Join(parts, ", "))
}
