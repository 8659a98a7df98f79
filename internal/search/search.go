// Package search queries a web-search backend restricted to trusted domains.
package search

import (
	"context"
	"time"
)

// Query is one search request.
type Query struct {
	Text           string
	IncludeDomains []string
	MaxResults     int
	Days           int // Recency window
}

// Result is one search hit.
type Result struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// Record is one entry of the debug log.
type Record struct {
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
	Results   []Result  `json:"results"`
	Error     string    `json:"error,omitempty"`
}
