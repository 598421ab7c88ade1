// Package websearch implements the web_search tool over the DuckDuckGo
// instant answer API, which needs no API key.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iabuilder/iabuilder/internal/engine"
)

const (
	defaultBaseURL    = "https://api.duckduckgo.com"
	defaultMaxResults = 5
	maxResultsCap     = 20
	userAgent         = "Mozilla/5.0 (compatible; iabuilder/1.0)"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client queries the DuckDuckGo instant answer API. The zero value is not
// usable; call NewClient or set both fields.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client with production defaults.
func NewClient() *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// instantAnswer is the subset of the instant answer payload we read. Topic
// groups decode with empty FirstURL and are skipped.
type instantAnswer struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		FirstURL string `json:"FirstURL"`
		Text     string `json:"Text"`
	} `json:"RelatedTopics"`
}

// Search returns up to maxResults hits for query, the abstract first and
// related topics after it.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxResultsCap {
		maxResults = maxResultsCap
	}

	reqURL := fmt.Sprintf("%s/?q=%s&format=json&no_html=1", c.BaseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var ia instantAnswer
	if err := json.Unmarshal(body, &ia); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, maxResults)
	if ia.AbstractText != "" && ia.AbstractURL != "" {
		results = append(results, Result{
			Title:   ia.Heading,
			URL:     ia.AbstractURL,
			Snippet: ia.AbstractText,
		})
	}
	for _, topic := range ia.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return results, nil
}

// NewWebSearchTool builds the web_search tool around c.
func NewWebSearchTool(c *Client) engine.Tool {
	return engine.Tool{
		Name:        "web_search",
		Description: "Searches the web and returns an ordered list of {title, url, snippet} results.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"max_results": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Maximum number of results (default 5)"}
			},
			"required": ["query"]
		}`,
		Fn: func(ctx context.Context, args map[string]any) engine.ToolResult {
			query, ok := args["query"].(string)
			if !ok || strings.TrimSpace(query) == "" {
				return engine.Failure("query must be a non-empty string")
			}
			maxResults := defaultMaxResults
			if v, ok := args["max_results"].(float64); ok {
				maxResults = int(v)
			}
			results, err := c.Search(ctx, query, maxResults)
			if err != nil {
				return engine.Failuref("search failed: %v", err)
			}
			noun := "results"
			if len(results) == 1 {
				noun = "result"
			}
			return engine.Success(results, fmt.Sprintf("Found %d %s for %q", len(results), noun, query))
		},
	}
}
