package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/nesen/eventagg/internal/ingestion"
)

const maxPageBytes = 10 << 20

// FetchRequest describes one page load. The render fields only apply to a
// browser fetcher; a plain HTTP fetcher ignores them.
type FetchRequest struct {
	URL          string
	WaitSelector string        // Wait until this CSS selector is present
	Scrolls      int           // Scroll to the bottom this many times
	ScrollPause  time.Duration // Pause after each scroll
	Settle       time.Duration // Extra wait before capturing the page
}

// Fetcher returns the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (string, error)
}

// HTTPFetcher loads pages with a plain GET.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher over client.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: client}
}

// Fetch returns the response body of req.URL.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", ingestion.NewUnitError(ingestion.ErrFetchFailure, req.URL, err)
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", ingestion.NewUnitError(ingestion.ErrFetchFailure, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", ingestion.NewUnitError(ingestion.ErrFetchFailure, req.URL,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", ingestion.NewUnitError(ingestion.ErrFetchFailure, req.URL, err)
	}
	return string(body), nil
}

// FetchText returns the visible text of a page.
func (f *HTTPFetcher) FetchText(ctx context.Context, url string) (string, error) {
	html, err := f.Fetch(ctx, FetchRequest{URL: url})
	if err != nil {
		return "", err
	}
	return PageText(html)
}

// PageText extracts the readable text of an HTML document, without scripts
// or styles, whitespace collapsed.
func PageText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ingestion.ErrParseFailure, err)
	}
	doc.Find("script, style, noscript, template").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	return strings.Join(strings.Fields(body.Text()), " "), nil
}
