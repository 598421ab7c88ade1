package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/go-units"

	"github.com/iabuilder/iabuilder/internal/adapters"
	"github.com/iabuilder/iabuilder/internal/config"
	"github.com/iabuilder/iabuilder/internal/providers"
)

// ErrQuit signals the REPL to exit.
var ErrQuit = errors.New("quit")

// Command is one slash command.
type Command struct {
	Name  string
	Usage string
	Help  string
	Run   func(ctx context.Context, a *App, args []string) error
}

// Dispatch routes a slash command. It reports false when line is ordinary
// input for the agent. Unknown commands are reported to the user, not to the
// model.
func (a *App) Dispatch(ctx context.Context, line string) (bool, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return false, nil
	}

	fields := strings.Fields(trimmed)
	name := strings.TrimPrefix(fields[0], "/")
	for _, cmd := range a.commands {
		if cmd.Name == name {
			return true, cmd.Run(ctx, a, fields[1:])
		}
	}
	fmt.Fprintf(a.Out, "unknown command /%s (try /help)\n", name)
	return true, nil
}

func defaultCommands() []Command {
	return []Command{
		{
			Name: "help", Help: "show this list",
			Run: runHelp,
		},
		{
			Name: "reset", Help: "start a fresh conversation",
			Run: runReset,
		},
		{
			Name: "autorun", Usage: "[on|off]", Help: "run tools without asking for confirmation",
			Run: runAutorun,
		},
		{
			Name: "toolbox", Usage: "[on|off]", Help: "expose tools to the model",
			Run: runToolbox,
		},
		{
			Name: "stream", Usage: "[on|off]", Help: "stream responses as they arrive",
			Run: runStream,
		},
		{
			Name: "stats", Help: "session, rate-limit and token usage statistics",
			Run: runStats,
		},
		{
			Name: "compress", Help: "fold older history into a summary now",
			Run: runCompress,
		},
		{
			Name: "save", Usage: "[path]", Help: "export the conversation as markdown",
			Run: runSave,
		},
		{
			Name: "model", Usage: "[name]", Help: "show or switch the active model",
			Run: runModel,
		},
		{
			Name: "provider", Usage: "[use|add|remove] ...", Help: "list or administer providers",
			Run: runProvider,
		},
		{
			Name: "models", Usage: "[refresh]", Help: "list the provider's models by category",
			Run: runModels,
		},
		{
			Name: "sessions", Help: "list stored sessions",
			Run: runSessions,
		},
		{
			Name: "exit", Help: "quit",
			Run: func(ctx context.Context, a *App, args []string) error { return ErrQuit },
		},
	}
}

func runHelp(ctx context.Context, a *App, args []string) error {
	fmt.Fprintln(a.Out, "commands:")
	for _, cmd := range a.commands {
		usage := "/" + cmd.Name
		if cmd.Usage != "" {
			usage += " " + cmd.Usage
		}
		fmt.Fprintf(a.Out, "  %-24s %s\n", usage, cmd.Help)
	}
	return nil
}

func runReset(ctx context.Context, a *App, args []string) error {
	adapter := adapters.ForModel(a.Agent.Model())
	conv, err := a.startConversation(a.providerName, a.Agent.Model(), adapter.StrictnessHint())
	if err != nil {
		return err
	}
	a.Conv = conv
	a.Agent.SetConversation(conv)
	fmt.Fprintf(a.Out, "conversation reset (session %s)\n", conv.SessionID())
	return nil
}

// parseToggle interprets an optional on/off argument; no argument flips the
// current value.
func parseToggle(args []string, current bool) (bool, error) {
	if len(args) == 0 {
		return !current, nil
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", args[0])
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func runAutorun(ctx context.Context, a *App, args []string) error {
	v, err := parseToggle(args, a.Agent.Autorun())
	if err != nil {
		return err
	}
	a.Agent.SetAutorun(v)
	a.Config.Autorun = v
	a.saveConfig()
	fmt.Fprintf(a.Out, "autorun is %s\n", onOff(v))
	return nil
}

func runToolbox(ctx context.Context, a *App, args []string) error {
	v, err := parseToggle(args, a.Agent.Toolbox())
	if err != nil {
		return err
	}
	a.Agent.SetToolbox(v)
	a.Config.Toolbox = v
	a.saveConfig()
	fmt.Fprintf(a.Out, "toolbox is %s\n", onOff(v))
	return nil
}

func runStream(ctx context.Context, a *App, args []string) error {
	v, err := parseToggle(args, a.Agent.Streaming())
	if err != nil {
		return err
	}
	a.Agent.SetStreaming(v)
	a.Config.Streaming = v
	a.saveConfig()
	fmt.Fprintf(a.Out, "streaming is %s\n", onOff(v))
	return nil
}

func runStats(ctx context.Context, a *App, args []string) error {
	fmt.Fprintf(a.Out, "session %s: %d messages, ~%d tokens, %d compressions\n",
		a.Conv.SessionID(), a.Conv.Len(), a.Conv.EstimatedTokens(), a.Conv.Compressions())

	snap := a.Limiter.Stats()
	fmt.Fprintf(a.Out, "rate limits for %s/%s (%s tier): %d/%d requests this minute, %d/%d tokens (raw limits %d rpm, %d tpm)\n",
		snap.Provider, snap.Model, snap.Tier, snap.RequestsThisMin, snap.EffectiveRPM,
		snap.TokensThisMin, snap.EffectiveTPM, snap.RequestsPerMinute, snap.TokensPerMinute)
	if snap.RequestsPerDay > 0 || snap.TokensPerDay > 0 {
		fmt.Fprintf(a.Out, "published day quota: %d requests, %d tokens\n",
			snap.RequestsPerDay, snap.TokensPerDay)
	}

	if a.Usage == nil {
		fmt.Fprintln(a.Out, "usage ledger unavailable")
		return nil
	}
	stats, err := a.Usage.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read usage stats: %w", err)
	}
	fmt.Fprintf(a.Out, "all time: %d requests, %d prompt + %d completion = %d tokens (ledger %s on disk)\n",
		stats.Requests, stats.PromptTokens, stats.CompletionTokens, stats.TotalTokens,
		units.HumanSize(float64(a.Usage.SizeOnDisk())))
	for _, m := range stats.ByModel {
		fmt.Fprintf(a.Out, "  %s/%s: %d requests, %d tokens\n", m.Provider, m.Model, m.Requests, m.TotalTokens)
	}
	return nil
}

func runCompress(ctx context.Context, a *App, args []string) error {
	folded, err := a.Conv.Compress()
	if err != nil {
		return err
	}
	if folded {
		fmt.Fprintf(a.Out, "history folded into a summary (%d messages remain)\n", a.Conv.Len())
	} else {
		fmt.Fprintln(a.Out, "nothing to compress")
	}
	return nil
}

func runSave(ctx context.Context, a *App, args []string) error {
	path := filepath.Join(a.Workdir, "session_"+a.Conv.SessionID()+".md")
	if len(args) > 0 {
		path = args[0]
	}
	if err := os.WriteFile(path, []byte(a.Conv.ExportMarkdown()), 0644); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	fmt.Fprintf(a.Out, "saved transcript to %s\n", path)
	return nil
}

func runModel(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(a.Out, "model: %s (provider %s)\n", a.Agent.Model(), a.providerName)
		return nil
	}

	model := args[0]
	if list, err := a.Models.Models(ctx, a.Agent.Provider(), false); err == nil {
		known := false
		for _, m := range list {
			if m.ID == model {
				known = true
				break
			}
		}
		if !known {
			fmt.Fprintf(a.Out, "⚠️  %s is not in the %s catalog; using it anyway\n", model, a.providerName)
		}
	}

	a.Agent.SetModel(model, adapters.ForModel(model))
	tier := ""
	if pc, ok := a.Providers.Get(a.providerName); ok {
		tier = pc.Extra["tier"]
	}
	a.Limiter.UpdateModel(a.providerName, model, tier)
	a.Conv.SetModelInfo(a.providerName, model)
	fmt.Fprintf(a.Out, "model set to %s\n", model)
	return nil
}

func runProvider(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		for _, pc := range a.Providers.List() {
			marker := " "
			if pc.Name == a.Providers.ActiveName() {
				marker = "*"
			}
			model := pc.DefaultModel
			if model == "" {
				model = providers.DefaultModel(pc.Name)
			}
			fmt.Fprintf(a.Out, "%s %s (model %s)\n", marker, pc.Name, model)
		}
		if len(a.Providers.List()) == 0 {
			fmt.Fprintln(a.Out, "no providers configured; add one with /provider add <name> <api_key>")
		}
		return nil
	}

	switch args[0] {
	case "use":
		if len(args) < 2 {
			return fmt.Errorf("usage: /provider use <name>")
		}
		if err := a.Providers.SetActive(args[1]); err != nil {
			return err
		}
		if err := a.switchProvider(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "provider set to %s (model %s)\n", a.providerName, a.Agent.Model())
		return nil

	case "add":
		if len(args) < 3 {
			return fmt.Errorf("usage: /provider add <name> <api_key>")
		}
		name := strings.ToLower(args[1])
		if providers.DefaultModel(name) == "" {
			return fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(providers.Supported(), ", "))
		}
		if err := a.Providers.Set(config.ProviderConfig{Name: name, APIKey: args[2], Enabled: true}); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "added provider %s\n", name)
		return nil

	case "remove":
		if len(args) < 2 {
			return fmt.Errorf("usage: /provider remove <name>")
		}
		name := strings.ToLower(args[1])
		if err := a.Providers.Remove(name); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "removed provider %s\n", name)
		if name == a.providerName {
			if next := a.Providers.ActiveName(); next != "" {
				if err := a.switchProvider(next); err != nil {
					return err
				}
				fmt.Fprintf(a.Out, "switched to %s\n", next)
			} else {
				fmt.Fprintln(a.Out, "⚠️  no providers left; this session keeps the removed one until you /exit")
			}
		}
		return nil

	default:
		return fmt.Errorf("usage: /provider [use|add|remove] ...")
	}
}

// switchProvider rebuilds the provider client and moves the agent, limiter
// and session metadata over to it.
func (a *App) switchProvider(name string) error {
	pc, ok := a.Providers.Get(name)
	if !ok {
		return fmt.Errorf("provider %q is not configured", name)
	}
	prov, err := providers.NewWithBaseURL(pc.Name, pc.APIKey, pc.BaseURL)
	if err != nil {
		return err
	}

	model := pc.DefaultModel
	if model == "" {
		model = providers.DefaultModel(pc.Name)
	}

	a.Agent.SetProvider(prov, model, adapters.ForModel(model))
	a.Limiter.UpdateModel(pc.Name, model, pc.Extra["tier"])
	a.Conv.SetModelInfo(pc.Name, model)
	a.providerName = pc.Name
	return nil
}

func runModels(ctx context.Context, a *App, args []string) error {
	refresh := len(args) > 0 && args[0] == "refresh"
	list, err := a.Models.Models(ctx, a.Agent.Provider(), refresh)
	if err != nil {
		return err
	}

	cats := providers.Categorise(list)
	names := make([]string, 0, len(cats))
	for cat := range cats {
		names = append(names, cat)
	}
	sort.Strings(names)

	for _, cat := range names {
		fmt.Fprintf(a.Out, "%s:\n", cat)
		for _, id := range cats[cat] {
			fmt.Fprintf(a.Out, "  %s\n", id)
		}
	}
	fmt.Fprintf(a.Out, "%d models; switch with /model <name>\n", len(list))
	return nil
}

func runSessions(ctx context.Context, a *App, args []string) error {
	entries, err := a.Store.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.Out, "no stored sessions")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(a.Out, "%s  %3d messages  %s  %s/%s\n",
			e.SessionID, e.Metadata.MessageCount,
			e.Metadata.LastUpdated.Format("2006-01-02 15:04"),
			e.Metadata.Provider, e.Metadata.Model)
	}
	fmt.Fprintln(a.Out, "resume one with: iabuilder -resume <id>")
	return nil
}
