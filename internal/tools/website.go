// internal/tools/website.go
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/sachiniyer/meal-finder/internal/state"
	"github.com/sachiniyer/meal-finder/internal/tool"
	"github.com/sachiniyer/meal-finder/internal/types"
)

// ExaClient talks to the Exa search API.
type ExaClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      *RetryPolicy
}

// NewExaClient creates an Exa client.
func NewExaClient(apiKey, baseURL string, retry *RetryPolicy) *ExaClient {
	return &ExaClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      retry,
	}
}

type exaSearchRequest struct {
	Query          string      `json:"query"`
	Type           string      `json:"type"`
	IncludeDomains []string    `json:"includeDomains"`
	Contents       exaContents `json:"contents"`
}

type exaContents struct {
	Text exaTextOptions `json:"text"`
}

type exaTextOptions struct {
	IncludeHTMLTags bool `json:"includeHtmlTags"`
}

type exaSearchResponse struct {
	Results []exaResult `json:"results"`
}

type exaResult struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// SearchDomain searches for content within a single domain. HTML tags
// are kept in the returned text so the caller can convert to markdown.
func (c *ExaClient) SearchDomain(ctx context.Context, domain, query string) ([]exaResult, error) {
	body := exaSearchRequest{
		Query:          query,
		Type:           "auto",
		IncludeDomains: []string{domain},
		Contents:       exaContents{Text: exaTextOptions{IncludeHTMLTags: true}},
	}

	var resp exaSearchResponse
	err := c.retry.Do(ctx, "exa", func() error {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return &UpstreamError{Service: "exa", Msg: err.Error()}
		}
		defer httpResp.Body.Close()

		respData, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return &UpstreamError{Service: "exa", Msg: err.Error()}
		}
		if httpResp.StatusCode != http.StatusOK {
			return &UpstreamError{Service: "exa", Status: httpResp.StatusCode, Msg: string(respData)}
		}
		if err := json.Unmarshal(respData, &resp); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// websiteResult is the payload returned to the engine.
type websiteResult struct {
	Results []string `json:"results"`
	Count   int      `json:"count"`
}

// SearchWebsiteTool is the search_website tool: searches a business's
// website content through Exa and returns the matching pages as
// markdown, cached per (domain, query).
type SearchWebsiteTool struct {
	client *ExaClient
	cache  types.CacheStore
	logger *slog.Logger
}

// NewSearchWebsiteTool wires the website search tool.
func NewSearchWebsiteTool(client *ExaClient, cache types.CacheStore, logger *slog.Logger) *SearchWebsiteTool {
	return &SearchWebsiteTool{
		client: client,
		cache:  cache,
		logger: logger.With("tool", "search_website"),
	}
}

func (t *SearchWebsiteTool) Name() string { return "search_website" }

func (t *SearchWebsiteTool) Description() string {
	return "Search a specific website's content for information using Exa. Use this to find menu items, business hours, or other details from a business's website."
}

func (t *SearchWebsiteTool) Notice() string { return "Searching website content" }

func (t *SearchWebsiteTool) Parameters() *tool.Schema {
	return &tool.Schema{
		Properties: map[string]tool.Property{
			"domain": {
				Type:        "string",
				Description: "The website domain to search (e.g., 'restaurant.com')",
			},
			"query": {
				Type:        "string",
				Description: "What to search for on the website (e.g., 'lunch menu', 'business hours')",
			},
		},
		Required: []string{"domain", "query"},
	}
}

type websiteArgs struct {
	Domain string `json:"domain"`
	Query  string `json:"query"`
}

func (t *SearchWebsiteTool) Execute(ctx context.Context, conversationID types.ConversationID, raw json.RawMessage) (string, error) {
	var args websiteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if args.Domain == "" || args.Query == "" {
		return "", fmt.Errorf("both domain and query are required")
	}

	key := state.KeyHash(args.Domain, args.Query)
	entry, hit, err := t.cache.Get(ctx, types.KindWebExcerpt, key)
	if err != nil {
		return "", err
	}
	if hit {
		return string(entry.Value), nil
	}

	results, err := t.client.SearchDomain(ctx, args.Domain, args.Query)
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Text == "" {
			continue
		}
		md, err := htmltomarkdown.ConvertString(r.Text)
		if err != nil {
			t.logger.Debug("markdown conversion failed, keeping raw text", "url", r.URL, "error", err)
			md = r.Text
		}
		texts = append(texts, md)
	}

	out, err := json.Marshal(websiteResult{Results: texts, Count: len(texts)})
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	if err := t.cache.Put(ctx, types.KindWebExcerpt, key, out); err != nil {
		t.logger.Warn("failed to cache website result", "domain", args.Domain, "error", err)
	}
	return string(out), nil
}
