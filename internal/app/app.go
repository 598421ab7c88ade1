// Package app wires the runtime together: configuration, the active
// provider, rate limiter, tools, project index, usage ledger, conversation
// and agent, plus the slash-command handlers the REPL dispatches to.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/iabuilder/iabuilder/internal/adapters"
	"github.com/iabuilder/iabuilder/internal/config"
	"github.com/iabuilder/iabuilder/internal/engine"
	"github.com/iabuilder/iabuilder/internal/index"
	"github.com/iabuilder/iabuilder/internal/project"
	"github.com/iabuilder/iabuilder/internal/prompts"
	"github.com/iabuilder/iabuilder/internal/providers"
	"github.com/iabuilder/iabuilder/internal/ratelimit"
	"github.com/iabuilder/iabuilder/internal/session"
	"github.com/iabuilder/iabuilder/internal/tools"
	"github.com/iabuilder/iabuilder/internal/tools/filesystem"
	"github.com/iabuilder/iabuilder/internal/usage"
)

// stateDirName is the per-user state directory under $HOME.
const stateDirName = ".iabuilder"

// Options configures BuildApp. Zero values pick working defaults.
type Options struct {
	// Workdir is the workspace root (default: current directory).
	Workdir string
	// HomeDir overrides the state directory (default: $HOME/.iabuilder).
	HomeDir string
	// Provider picks a configured provider for this session instead of the
	// registry's active one.
	Provider string
	// Model overrides the starting model.
	Model string
	// Streaming overrides config.json's streaming flag when non-nil.
	Streaming *bool
	// Resume loads the session with this id instead of starting fresh.
	Resume string
	// Out receives command output and live tool output (default: stdout).
	Out io.Writer
	// Hooks are handed to the agent for rendering.
	Hooks engine.Hooks
	// Confirm approves tool calls when autorun is off.
	Confirm engine.ConfirmFunc
}

// App is the assembled runtime.
type App struct {
	HomeDir string
	Workdir string
	Out     io.Writer

	Config     *config.Config
	ConfigMgr  *config.Manager
	Providers  *config.Registry
	Models     *config.ModelRegistry
	Limiter    *ratelimit.Limiter
	Tools      *engine.Registry
	Index      *index.Index // nil when indexing failed
	Usage      *usage.Store // nil when the ledger failed to open
	Store      *session.Store
	Compressor *session.Compressor
	Conv       *session.Conversation
	Agent      *engine.Agent

	providerName string
	commands     []Command
}

// BuildApp assembles the runtime from configuration and flags.
func BuildApp(ctx context.Context, o Options) (*App, error) {
	workdir := o.Workdir
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		workdir = wd
	}
	workdir, err := filepath.Abs(workdir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	if info, err := os.Stat(workdir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace path is not a valid directory: %s", workdir)
	}

	home := o.HomeDir
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		home = filepath.Join(userHome, stateDirName)
	}
	for _, dir := range []string{home, filepath.Join(home, "history"), filepath.Join(home, "resume")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}

	out := o.Out
	if out == nil {
		out = os.Stdout
	}

	cfgMgr := config.NewManager(home)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, err
	}

	reg, err := config.LoadRegistry(home)
	if err != nil {
		return nil, err
	}
	if err := reg.SeedLegacy(cfg.APIKey, cfg.DefaultModel); err != nil {
		return nil, err
	}
	if err := seedFromEnv(reg); err != nil {
		return nil, err
	}

	name := strings.ToLower(strings.TrimSpace(o.Provider))
	if name == "" {
		name = reg.ActiveName()
	}
	if name == "" {
		return nil, fmt.Errorf("no provider configured: set an API key (e.g. GROQ_API_KEY) or add one with /provider add")
	}
	pc, ok := reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured (known: %s)", name, strings.Join(reg.Names(), ", "))
	}

	prov, err := providers.NewWithBaseURL(pc.Name, pc.APIKey, pc.BaseURL)
	if err != nil {
		return nil, err
	}

	model := o.Model
	if model == "" {
		model = pc.DefaultModel
	}
	if model == "" {
		model = cfg.DefaultModel
	}
	if model == "" {
		model = providers.DefaultModel(pc.Name)
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured for provider %s", pc.Name)
	}

	streaming := cfg.Streaming
	if o.Streaming != nil {
		streaming = *o.Streaming
	}

	pcfg, err := project.Load(workdir)
	if err != nil {
		log.Printf("⚠️  Ignoring project config: %v", err)
		pcfg = nil
	}

	// The project index powers read_file's semantic references. Losing it
	// degrades the tool, not the session.
	var idx *index.Index
	if pcfg != nil && pcfg.IndexingDisabled {
		log.Printf("Project config disables indexing (file references off)")
	} else {
		idx, err = index.New(workdir)
		if err != nil {
			log.Printf("⚠️  Failed to index %s: %v (file references disabled)", workdir, err)
			idx = nil
		} else if err := idx.Watch(); err != nil {
			log.Printf("⚠️  Failed to watch %s: %v (index will go stale)", workdir, err)
		}
	}

	usageStore, err := usage.Open(ctx, filepath.Join(home, "usage.db"))
	if err != nil {
		log.Printf("⚠️  Failed to open usage ledger: %v (stats disabled)", err)
		usageStore = nil
	}

	limiter := ratelimit.New(pc.Name, model)
	if tier := pc.Extra["tier"]; tier != "" {
		limiter.UpdateModel(pc.Name, model, tier)
	}

	app := &App{
		HomeDir:      home,
		Workdir:      workdir,
		Out:          out,
		Config:       cfg,
		ConfigMgr:    cfgMgr,
		Providers:    reg,
		Models:       config.NewModelRegistry(),
		Limiter:      limiter,
		Index:        idx,
		Usage:        usageStore,
		Store:        session.NewStore(filepath.Join(home, "history")),
		Compressor:   session.NewCompressor(filepath.Join(home, "resume")),
		providerName: pc.Name,
	}

	app.Tools = engine.NewRegistry()
	if err := tools.RegisterDefaults(app.Tools, tools.Options{
		Workdir:  workdir,
		Resolver: app.resolver(),
		SafeMode: func() bool { return app.Config.SafeMode },
		Stdout:   out,
		Stderr:   out,
	}); err != nil {
		app.Close()
		return nil, err
	}

	adapter := adapters.ForModel(model)

	if o.Resume != "" {
		sess, err := app.Store.Load(o.Resume)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to resume session %s: %w", o.Resume, err)
		}
		app.Conv = session.Resume(app.historyStore(), app.Compressor, sess)
		app.Conv.SetModelInfo(pc.Name, model)
	} else {
		conv, err := app.startConversation(pc.Name, model, adapter.StrictnessHint())
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Conv = conv
	}

	agent, err := engine.NewAgent(engine.AgentConfig{
		Provider:     prov,
		Adapter:      adapter,
		Conversation: app.Conv,
		Tools:        app.Tools,
		Limiter:      app.Limiter,
		Usage:        app.usageRecorder(),
		Model:        model,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  &cfg.Temperature,
		Streaming:    streaming,
		Autorun:      cfg.Autorun,
		Toolbox:      cfg.Toolbox,
		Hooks:        o.Hooks,
		Confirm:      o.Confirm,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Agent = agent
	app.commands = defaultCommands()

	return app, nil
}

// seedFromEnv bootstraps provider entries on a first run: any supported
// provider with a <NAME>_API_KEY in the environment gets an entry with an
// empty stored key, so the secret stays in the environment and providers.json
// never holds it.
func seedFromEnv(reg *config.Registry) error {
	if len(reg.Names()) > 0 {
		return nil
	}
	for _, name := range providers.Supported() {
		if os.Getenv(strings.ToUpper(name)+"_API_KEY") == "" {
			continue
		}
		if err := reg.Set(config.ProviderConfig{Name: name, Enabled: true}); err != nil {
			return err
		}
	}
	return nil
}

// startConversation begins a fresh session seeded with the system prompt.
func (a *App) startConversation(provider, model string, strictness adapters.Strictness) (*session.Conversation, error) {
	conv := session.NewConversation(a.historyStore(), a.Compressor, provider, model)

	prompt, err := prompts.BuildSystemPrompt(a.Workdir, a.Tools.Schemas(), strictness)
	if err != nil {
		return nil, err
	}
	if err := conv.Append(engine.Message{Role: engine.RoleSystem, Content: prompt}); err != nil {
		return nil, err
	}
	return conv, nil
}

// historyStore returns the session store, or nil when auto_save is off.
func (a *App) historyStore() *session.Store {
	if !a.Config.AutoSave {
		return nil
	}
	return a.Store
}

// resolver adapts the index for the read_file tool. A nil *Index must yield
// a nil interface, not an interface holding a nil pointer.
func (a *App) resolver() filesystem.Resolver {
	if a.Index == nil {
		return nil
	}
	return a.Index
}

// usageRecorder adapts the SQLite ledger to the engine's recorder interface.
func (a *App) usageRecorder() engine.UsageRecorder {
	if a.Usage == nil {
		return nil
	}
	return &usageRecorder{store: a.Usage}
}

type usageRecorder struct {
	store *usage.Store
}

func (r *usageRecorder) RecordUsage(ctx context.Context, provider, model string, u engine.Usage) error {
	return r.store.Add(ctx, usage.Record{
		Provider:         provider,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	})
}

// ProviderName reports the active provider.
func (a *App) ProviderName() string { return a.providerName }

// saveConfig persists config.json, reporting failures without aborting the
// command that triggered the save.
func (a *App) saveConfig() {
	if err := a.ConfigMgr.Save(a.Config); err != nil {
		fmt.Fprintf(a.Out, "⚠️  failed to save config: %v\n", err)
	}
}

// Close releases the index and the usage ledger.
func (a *App) Close() {
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			log.Printf("⚠️  Failed to close index: %v", err)
		}
	}
	if a.Usage != nil {
		if err := a.Usage.Close(); err != nil {
			log.Printf("⚠️  Failed to close usage ledger: %v", err)
		}
	}
}
