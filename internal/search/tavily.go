package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// TavilyClient implements Searcher against the Tavily search API.
type TavilyClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewTavilyClient creates a client. An empty endpoint selects DefaultTavilyURL.
func NewTavilyClient(apiKey, endpoint string, client *http.Client) *TavilyClient {
	if endpoint == "" {
		endpoint = DefaultTavilyURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TavilyClient{apiKey: apiKey, endpoint: endpoint, client: client}
}

type tavilyRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	MaxResults     int      `json:"max_results,omitempty"`
	Days           int      `json:"days,omitempty"`
}

type tavilyResponse struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Search runs one advanced-depth query.
func (c *TavilyClient) Search(ctx context.Context, q Query) ([]Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("tavily api key not configured")
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:         c.apiKey,
		Query:          q.Text,
		SearchDepth:    "advanced",
		IncludeDomains: q.IncludeDomains,
		MaxResults:     q.MaxResults,
		Days:           q.Days,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return out.Results, nil
}
