package providers

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
)

func TestNewBuildsKnownProviders(t *testing.T) {
	for _, name := range Supported() {
		p, err := New(name, "test-key")
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("New(%q).Name() = %q", name, p.Name())
		}
	}
}

func TestNewNativeProviderTypes(t *testing.T) {
	p, err := New("anthropic", "k")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*AnthropicProvider); !ok {
		t.Errorf("anthropic = %T", p)
	}
	p, _ = New("gemini", "k")
	if _, ok := p.(*GeminiProvider); !ok {
		t.Errorf("gemini = %T", p)
	}
	p, _ = New("cohere", "k")
	if _, ok := p.(*CohereProvider); !ok {
		t.Errorf("cohere = %T", p)
	}
	p, _ = New("groq", "k")
	if _, ok := p.(*OpenAICompatible); !ok {
		t.Errorf("groq = %T", p)
	}
}

func TestNewWithBaseURLOverridesEndpoint(t *testing.T) {
	p, err := NewWithBaseURL("gemini", "k", "https://proxy.test/v1beta/openai")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*OpenAICompatible); !ok {
		t.Errorf("gemini openai endpoint = %T", p)
	}

	p, _ = NewWithBaseURL("gemini", "k", "https://proxy.test/v1beta")
	gp, ok := p.(*GeminiProvider)
	if !ok {
		t.Fatalf("gemini = %T", p)
	}
	if gp.baseURL != "https://proxy.test/v1beta" {
		t.Errorf("gemini baseURL = %q", gp.baseURL)
	}

	p, _ = NewWithBaseURL("anthropic", "k", "https://proxy.test")
	ap, ok := p.(*AnthropicProvider)
	if !ok {
		t.Fatalf("anthropic = %T", p)
	}
	if ap.baseURL != "https://proxy.test" {
		t.Errorf("anthropic baseURL = %q", ap.baseURL)
	}

	p, _ = NewWithBaseURL("cohere", "k", "https://proxy.test")
	cp, ok := p.(*CohereProvider)
	if !ok {
		t.Fatalf("cohere = %T", p)
	}
	if cp.baseURL != "https://proxy.test" {
		t.Errorf("cohere baseURL = %q", cp.baseURL)
	}
}

func TestNewRejectsUnknownAndMissingKey(t *testing.T) {
	if _, err := New("acme-llm", "k"); err == nil || !strings.Contains(err.Error(), "supported:") {
		t.Errorf("unknown provider error = %v", err)
	}
	if _, err := New("groq", ""); err == nil {
		t.Error("missing key must fail")
	}
}

func TestSupportedIsSorted(t *testing.T) {
	names := Supported()
	if !sort.StringsAreSorted(names) {
		t.Errorf("Supported() = %v", names)
	}
	if len(names) != 10 {
		t.Errorf("expected 10 providers, got %d", len(names))
	}
}

func TestDefaultModel(t *testing.T) {
	if got := DefaultModel("groq"); got != "llama-3.3-70b-versatile" {
		t.Errorf("groq default = %q", got)
	}
	if got := DefaultModel(" Anthropic "); got != "claude-3-5-sonnet-20241022" {
		t.Errorf("anthropic default = %q", got)
	}
	if got := DefaultModel("acme"); got != "" {
		t.Errorf("unknown default = %q", got)
	}
}

func TestHeaderTransportInjectsHeaders(t *testing.T) {
	var gotReferer, gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
	}))
	defer srv.Close()

	client := &http.Client{Transport: &headerTransport{headers: map[string]string{
		"HTTP-Referer": "https://example.test",
		"X-Title":      "iabuilder",
	}}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if gotReferer != "https://example.test" || gotTitle != "iabuilder" {
		t.Errorf("headers = %q, %q", gotReferer, gotTitle)
	}
}
