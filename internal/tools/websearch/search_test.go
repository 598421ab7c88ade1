package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const instantAnswerPayload = `{
	"AbstractText": "Go is a statically typed, compiled programming language.",
	"AbstractURL": "https://en.wikipedia.org/wiki/Go_(programming_language)",
	"Heading": "Go (programming language)",
	"RelatedTopics": [
		{"FirstURL": "https://go.dev", "Text": "The Go project homepage"},
		{"Name": "Related searches", "Topics": [{"FirstURL": "https://x", "Text": "nested"}]},
		{"FirstURL": "https://go.dev/doc", "Text": "Go documentation and tutorials"}
	]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
}

func TestSearchAbstractComesFirst(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(instantAnswerPayload))
	})

	results, err := c.Search(context.Background(), "golang", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Title != "Go (programming language)" {
		t.Errorf("first title = %q", results[0].Title)
	}
	if results[0].URL != "https://en.wikipedia.org/wiki/Go_(programming_language)" {
		t.Errorf("first url = %q", results[0].URL)
	}
	if results[1].URL != "https://go.dev" || results[2].URL != "https://go.dev/doc" {
		t.Errorf("topic order wrong: %q, %q", results[1].URL, results[2].URL)
	}
}

func TestSearchHonoursMaxResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(instantAnswerPayload))
	})

	results, err := c.Search(context.Background(), "golang", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestSearchRequestShape(t *testing.T) {
	var gotQuery, gotFormat, gotUA string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`{}`))
	})

	if _, err := c.Search(context.Background(), "go generics & errors", 5); err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotQuery != "go generics & errors" {
		t.Errorf("q = %q", gotQuery)
	}
	if gotFormat != "json" {
		t.Errorf("format = %q", gotFormat)
	}
	if !strings.Contains(gotUA, "iabuilder") {
		t.Errorf("user agent = %q", gotUA)
	}
}

func TestSearchTruncatesLongTopicTitle(t *testing.T) {
	long := strings.Repeat("x", 150)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"RelatedTopics": [{"FirstURL": "https://a", "Text": "` + long + `"}]}`))
	})

	results, err := c.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	if len(results[0].Title) != 100 {
		t.Errorf("title length = %d, want 100", len(results[0].Title))
	}
	if len(results[0].Snippet) != 150 {
		t.Errorf("snippet should stay untruncated, length = %d", len(results[0].Snippet))
	}
}

func TestSearchServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	if _, err := c.Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected an error on HTTP 500")
	}
}

func TestWebSearchTool(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(instantAnswerPayload))
	})
	tool := NewWebSearchTool(c)
	if tool.Name != "web_search" {
		t.Fatalf("name = %q", tool.Name)
	}

	res := tool.Fn(context.Background(), map[string]any{"query": "golang", "max_results": float64(2)})
	if !res.Success {
		t.Fatalf("tool failed: %s", res.Error)
	}
	results := res.Result.([]Result)
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
	if !strings.Contains(res.Summary, "2 results") {
		t.Errorf("summary = %q", res.Summary)
	}

	if res := tool.Fn(context.Background(), map[string]any{"query": "  "}); res.Success {
		t.Error("blank query should fail")
	}
}
