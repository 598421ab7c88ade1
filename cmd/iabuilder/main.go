package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/iabuilder/iabuilder/internal/app"
)

func main() {
	// Load .env if present so provider keys are visible to the bootstrap.
	_ = godotenv.Load()

	if err := run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("iabuilder: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("iabuilder", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "workspace root (default: current directory)")
	providerFlag := fs.String("provider", "", "configured provider to use for this session")
	modelFlag := fs.String("model", "", "model to start with")
	streamFlag := fs.Bool("stream", false, "stream responses token by token")
	resumeFlag := fs.String("resume", "", "resume the stored session with this id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Only an explicit -stream should override config.json.
	var streaming *bool
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "stream" {
			streaming = streamFlag
		}
	})

	r := newREPL()
	a, err := app.BuildApp(ctx, app.Options{
		Workdir:   *dirFlag,
		Provider:  *providerFlag,
		Model:     *modelFlag,
		Streaming: streaming,
		Resume:    *resumeFlag,
		Out:       os.Stdout,
		Hooks:     r.hooks(),
		Confirm:   r.confirm,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	r.app = a
	return r.loop(ctx)
}
