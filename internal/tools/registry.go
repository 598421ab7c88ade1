// Package tools assembles the built-in tool set.
package tools

import (
	"io"

	"github.com/iabuilder/iabuilder/internal/engine"
	"github.com/iabuilder/iabuilder/internal/tools/execution"
	"github.com/iabuilder/iabuilder/internal/tools/filesystem"
	"github.com/iabuilder/iabuilder/internal/tools/websearch"
)

// Options carries the cross-cutting wiring the built-in tools need.
type Options struct {
	// Workdir is the workspace root all file and shell tools operate under.
	Workdir string
	// Resolver resolves conversational file references for read_file.
	// nil disables resolution.
	Resolver filesystem.Resolver
	// SafeMode gates destructive shell commands. nil means off.
	SafeMode func() bool
	// Stdout and Stderr receive live command output from execute_bash.
	Stdout io.Writer
	Stderr io.Writer
	// Search is the web_search backend. nil uses the production client.
	Search *websearch.Client
}

// RegisterDefaults registers the built-in tools on reg: read_file,
// write_file, edit_file, execute_bash and web_search, in that order.
func RegisterDefaults(reg *engine.Registry, o Options) error {
	search := o.Search
	if search == nil {
		search = websearch.NewClient()
	}
	for _, t := range []engine.Tool{
		filesystem.NewReadFileTool(o.Workdir, o.Resolver),
		filesystem.NewWriteFileTool(o.Workdir),
		filesystem.NewEditFileTool(o.Workdir),
		execution.NewExecuteBashTool(execution.Options{
			Workdir:  o.Workdir,
			SafeMode: o.SafeMode,
			Stdout:   o.Stdout,
			Stderr:   o.Stderr,
		}),
		websearch.NewWebSearchTool(search),
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
