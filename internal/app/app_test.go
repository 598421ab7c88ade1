package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/iabuilder/iabuilder/internal/engine"
	"github.com/iabuilder/iabuilder/internal/providers"
	"github.com/iabuilder/iabuilder/internal/session"
)

// clearProviderEnv blanks every <NAME>_API_KEY so tests control exactly which
// providers the environment seeds.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, name := range providers.Supported() {
		t.Setenv(strings.ToUpper(name)+"_API_KEY", "")
	}
}

func TestBuildAppSeedsFromEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	home := t.TempDir()
	work := t.TempDir()
	out := &bytes.Buffer{}

	a, err := BuildApp(context.Background(), Options{Workdir: work, HomeDir: home, Out: out})
	if err != nil {
		t.Fatalf("BuildApp: %v", err)
	}
	defer a.Close()

	if a.ProviderName() != "groq" {
		t.Errorf("provider = %q, want groq", a.ProviderName())
	}
	if a.Agent.Model() != providers.DefaultModel("groq") {
		t.Errorf("model = %q, want the groq default", a.Agent.Model())
	}

	want := []string{"read_file", "write_file", "edit_file", "execute_bash", "web_search"}
	if got := a.Tools.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("tools = %v, want %v", got, want)
	}

	if a.Conv.Len() != 1 {
		t.Errorf("fresh conversation has %d messages, want 1 (system prompt)", a.Conv.Len())
	}

	for _, dir := range []string{home, filepath.Join(home, "history"), filepath.Join(home, "resume")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("state directory %s missing", dir)
		}
	}

	// The env-seeded entry must not persist the secret.
	data, err := os.ReadFile(filepath.Join(home, "providers.json"))
	if err != nil {
		t.Fatalf("providers.json missing: %v", err)
	}
	if strings.Contains(string(data), "gsk-test") {
		t.Error("providers.json should not contain the API key from the environment")
	}
}

func TestBuildAppNoProvider(t *testing.T) {
	clearProviderEnv(t)

	_, err := BuildApp(context.Background(), Options{Workdir: t.TempDir(), HomeDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "no provider configured") {
		t.Errorf("err = %v, want no provider configured", err)
	}
}

func TestBuildAppUnknownProviderFlag(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	_, err := BuildApp(context.Background(), Options{
		Workdir:  t.TempDir(),
		HomeDir:  t.TempDir(),
		Provider: "mistral",
	})
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("err = %v, want not configured", err)
	}
}

func TestBuildAppRejectsBadWorkdir(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := BuildApp(context.Background(), Options{Workdir: file, HomeDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "not a valid directory") {
		t.Errorf("err = %v, want workdir rejection", err)
	}
}

func TestBuildAppResume(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	home := t.TempDir()
	store := session.NewStore(filepath.Join(home, "history"))
	sess := &session.Session{
		SessionID: "20250102_090000",
		Metadata:  session.Metadata{Provider: "groq", MessageCount: 2},
		Messages: []engine.Message{
			{Role: engine.RoleSystem, Content: "system prompt"},
			{Role: engine.RoleUser, Content: "where were we"},
		},
	}
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a, err := BuildApp(context.Background(), Options{
		Workdir: t.TempDir(),
		HomeDir: home,
		Resume:  "20250102_090000",
	})
	if err != nil {
		t.Fatalf("BuildApp: %v", err)
	}
	defer a.Close()

	if a.Conv.SessionID() != "20250102_090000" {
		t.Errorf("session = %q, want the resumed id", a.Conv.SessionID())
	}
	if a.Conv.Len() != 2 {
		t.Errorf("resumed conversation has %d messages, want 2", a.Conv.Len())
	}
}

func TestBuildAppResumeMissing(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	_, err := BuildApp(context.Background(), Options{
		Workdir: t.TempDir(),
		HomeDir: t.TempDir(),
		Resume:  "19990101_000000",
	})
	if err == nil || !strings.Contains(err.Error(), "failed to resume") {
		t.Errorf("err = %v, want resume failure", err)
	}
}

func TestBuildAppStreamingOverride(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	off := false
	a, err := BuildApp(context.Background(), Options{
		Workdir:   t.TempDir(),
		HomeDir:   t.TempDir(),
		Streaming: &off,
	})
	if err != nil {
		t.Fatalf("BuildApp: %v", err)
	}
	defer a.Close()

	if a.Agent.Streaming() {
		t.Error("streaming flag should override the config default")
	}
}
