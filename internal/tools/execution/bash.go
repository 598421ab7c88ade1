// Package execution implements the execute_bash tool: shell commands run
// inside the workspace with a timeout, streamed output and a safe mode that
// refuses obviously destructive commands before they start.
package execution

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/iabuilder/iabuilder/internal/engine"
)

const (
	defaultBashTimeout = 30 * time.Second
	minBashTimeout     = 1 * time.Second
	maxBashTimeout     = 5 * time.Minute
)

// destructivePatterns is the safe-mode refusal list. Each entry names the
// class of damage so the refusal can say what matched. The list errs on the
// side of blocking; users who need one of these can turn safe_mode off.
var destructivePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"recursive force remove", regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*)\b`)},
	{"filesystem format", regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`)},
	{"raw device write", regexp.MustCompile(`(?i)\bdd\b[^|;&]*\bof=/dev/`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{[^}]*\}\s*;?\s*:`)},
	{"system power control", regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\b`)},
	{"privilege escalation", regexp.MustCompile(`(?i)\bsudo\b`)},
	{"download piped to shell", regexp.MustCompile(`(?i)\b(curl|wget)\b[^|]*\|\s*(ba|z)?sh\b`)},
	{"world-writable chmod on /", regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)*777\s+/`)},
	{"git force push", regexp.MustCompile(`(?i)\bgit\s+push\b[^|;&]*(\s--force\b|\s-f\b)`)},
}

// destructiveMatch reports the first pattern a command matches.
func destructiveMatch(command string) (string, bool) {
	for _, p := range destructivePatterns {
		if p.re.MatchString(command) {
			return p.name, true
		}
	}
	return "", false
}

// Options configures the execute_bash tool.
type Options struct {
	// Workdir is the workspace root. working_dir arguments resolve under it
	// and may not escape it.
	Workdir string
	// SafeMode reports whether destructive commands are refused. It is read
	// on every call so configuration changes apply immediately. nil means
	// safe mode off.
	SafeMode func() bool
	// Stdout and Stderr, when set, receive command output as it is produced
	// in addition to the captured copies returned in the result.
	Stdout io.Writer
	Stderr io.Writer
}

// resolveWorkingDir joins a working_dir argument with the workspace root and
// rejects escapes and non-directories.
func resolveWorkingDir(root, dir string) (string, error) {
	if dir == "" || dir == "." {
		return root, nil
	}
	full := filepath.Clean(filepath.Join(root, dir))
	rel, err := filepath.Rel(filepath.Clean(root), full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("working_dir %s is outside the workspace", dir)
	}
	st, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("working_dir %s does not exist", dir)
	}
	if !st.IsDir() {
		return "", fmt.Errorf("working_dir %s is not a directory", dir)
	}
	return full, nil
}

func executeBashImpl(ctx context.Context, o Options, command, workingDir string, timeout time.Duration) engine.ToolResult {
	command = strings.TrimSpace(command)
	if command == "" {
		return engine.Failure("command must not be empty")
	}

	if o.SafeMode != nil && o.SafeMode() {
		if name, ok := destructiveMatch(command); ok {
			return engine.Failuref("safe mode refused the command: it matches the destructive pattern %q (disable safe_mode to run it)", name)
		}
	}

	dir, err := resolveWorkingDir(o.Workdir, workingDir)
	if err != nil {
		return engine.Failure(err.Error())
	}

	if timeout < minBashTimeout {
		timeout = minBashTimeout
	}
	if timeout > maxBashTimeout {
		timeout = maxBashTimeout
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := io.Writer(&stdoutBuf)
	stderr := io.Writer(&stderrBuf)
	if o.Stdout != nil {
		stdout = io.MultiWriter(&stdoutBuf, o.Stdout)
	}
	if o.Stderr != nil {
		stderr = io.MultiWriter(&stderrBuf, o.Stderr)
	}

	started := time.Now()
	code, timedOut, err := runCommand(ctx, dir, command, timeout, stdout, stderr)
	if err != nil {
		return engine.Failuref("failed to start command: %v", err)
	}
	elapsed := time.Since(started).Round(10 * time.Millisecond)
	cancelled := !timedOut && ctx.Err() != nil

	var summary string
	switch {
	case timedOut:
		summary = fmt.Sprintf("command timed out after %s and was killed", timeout)
	case cancelled:
		summary = fmt.Sprintf("command cancelled after %s and killed", elapsed)
	default:
		summary = fmt.Sprintf("command exited with code %d in %s", code, elapsed)
	}

	res := engine.ToolResult{
		Success: code == 0 && !timedOut && !cancelled,
		Result: map[string]any{
			"stdout":    stdoutBuf.String(),
			"stderr":    stderrBuf.String(),
			"exit_code": code,
		},
		Summary: summary,
	}
	if !res.Success {
		res.Error = summary
	}
	return res
}

// NewExecuteBashTool builds the execute_bash tool.
func NewExecuteBashTool(o Options) engine.Tool {
	return engine.Tool{
		Name: "execute_bash",
		Description: "Runs a shell command in the workspace and returns its stdout, stderr and exit code. " +
			"The command is killed when the timeout expires.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command to run"},
				"working_dir": {"type": "string", "description": "Directory to run in, relative to the workspace root (default \".\")"},
				"timeout": {"type": "integer", "minimum": 1, "description": "Timeout in seconds (default 30)"}
			},
			"required": ["command"]
		}`,
		Fn: func(ctx context.Context, args map[string]any) engine.ToolResult {
			command, ok := stringArg(args, "command")
			if !ok {
				return engine.Failure("command must be a string")
			}
			workingDir := "."
			if wd, ok := stringArg(args, "working_dir"); ok && wd != "" {
				workingDir = wd
			}
			timeout := time.Duration(intArg(args, "timeout", 30)) * time.Second
			return executeBashImpl(ctx, o, command, workingDir, timeout)
		},
	}
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
