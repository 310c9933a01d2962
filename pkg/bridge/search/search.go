// Package search queries the pharmacy knowledge index and formats results
// for the conversational model.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const searchAPIVersion = "2023-11-01"

// Result is one scored document from the knowledge index.
type Result struct {
	Title   string
	Content string
	Score   float64
}

// Client talks to an Azure AI Search index over its REST API.
type Client struct {
	endpoint string
	index    string
	apiKey   string
	topN     int
	http     *http.Client
}

// NewClient builds a search client. httpClient may be nil, in which case
// http.DefaultClient is used.
func NewClient(endpoint, index, apiKey string, topN int, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if topN <= 0 {
		topN = 3
	}
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		index:    strings.TrimSpace(index),
		apiKey:   apiKey,
		topN:     topN,
		http:     httpClient,
	}
}

// Configured reports whether the client has enough configuration to serve
// queries. An unconfigured client disables the search tool entirely.
func (c *Client) Configured() bool {
	return c != nil && c.endpoint != "" && c.index != "" && c.apiKey != ""
}

type searchRequest struct {
	Search string `json:"search"`
	Top    int    `json:"top"`
}

type searchDocument struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"@search.score"`
}

type searchResponse struct {
	Value []searchDocument `json:"value"`
}

// Search runs one query against the index.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("search client not configured")
	}

	endpoint := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		c.endpoint, url.PathEscape(c.index), searchAPIVersion)

	body, err := json.Marshal(searchRequest{Search: query, Top: c.topN})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Value))
	for _, doc := range parsed.Value {
		results = append(results, Result{
			Title:   doc.Title,
			Content: doc.Content,
			Score:   doc.Score,
		})
	}
	return results, nil
}

// Lookup runs one query and renders the outcome as model-facing text.
func (c *Client) Lookup(ctx context.Context, query string) (string, error) {
	results, err := c.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatResults(results), nil
}

// FormatResults renders scored documents the way the model expects to read
// them.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "Non ho trovato informazioni specifiche su questo argomento nel database della farmacia."
	}

	var b strings.Builder
	b.WriteString("Informazioni trovate nel database della farmacia:\n\n")
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n(Rilevanza: %.2f)", i+1, r.Title, r.Content, r.Score)
	}
	return b.String()
}
