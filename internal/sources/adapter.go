// Package sources holds the event source adapters. Each adapter composes a
// fetch strategy (plain HTTP or headless browser) with an extract strategy
// (structural CSS selectors or embedded ld+json) and never writes to the store.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/models"
	"github.com/nesen/eventagg/internal/normalize"
)

// PageAdapter fetches a fixed list of pages and extracts drafts from each.
type PageAdapter struct {
	name      string
	tags      []string
	location  string
	requests  []FetchRequest
	fetcher   Fetcher
	extractor Extractor
	dates     *normalize.DateParser
	logger    *slog.Logger
}

// NewPageAdapter creates an adapter for name over requests.
func NewPageAdapter(
	name string,
	tags []string,
	defaultLocation string,
	requests []FetchRequest,
	fetcher Fetcher,
	extractor Extractor,
	dates *normalize.DateParser,
	logger *slog.Logger,
) *PageAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageAdapter{
		name:      name,
		tags:      tags,
		location:  defaultLocation,
		requests:  requests,
		fetcher:   fetcher,
		extractor: extractor,
		dates:     dates,
		logger:    logger.With("source", name),
	}
}

// Name returns the source name.
func (a *PageAdapter) Name() string {
	return a.name
}

// Run fetches every page. A page that fails to load is skipped; an error is
// returned only when no page could be loaded.
func (a *PageAdapter) Run(ctx context.Context) ([]models.Draft, error) {
	var drafts []models.Draft
	var errs []error

	for _, req := range a.requests {
		if err := ctx.Err(); err != nil {
			return drafts, err
		}

		page, err := a.load(ctx, req)
		if err != nil {
			a.logger.Warn("failed to load page", "url", req.URL, "error", err)
			errs = append(errs, err)
			continue
		}
		drafts = append(drafts, a.extract(page)...)
	}

	if len(errs) > 0 && len(errs) == len(a.requests) {
		return drafts, errors.Join(errs...)
	}
	return drafts, nil
}

func (a *PageAdapter) load(ctx context.Context, req FetchRequest) (Page, error) {
	base, err := url.Parse(req.URL)
	if err != nil {
		return Page{}, ingestion.NewUnitError(ingestion.ErrFetchFailure, req.URL, err)
	}

	html, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		return Page{}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Page{}, ingestion.NewUnitError(ingestion.ErrParseFailure, req.URL, err)
	}
	return Page{URL: base, Doc: doc, Source: a.name, Dates: a.dates, Logger: a.logger}, nil
}

// extract runs the extractor and finishes each draft: absolute URL, source
// name, default location and tags. Drafts that cannot be finished are skipped.
func (a *PageAdapter) extract(page Page) []models.Draft {
	raw, skipped := a.extractor.Extract(page)
	for _, err := range skipped {
		a.logger.Debug("skipped item", "url", page.URL.String(), "error", err)
	}

	out := make([]models.Draft, 0, len(raw))
	for _, d := range raw {
		finished, err := a.finish(page.URL, d)
		if err != nil {
			a.logger.Debug("skipped item", "title", d.Title, "error", err)
			skipped = append(skipped, err)
			continue
		}
		out = append(out, finished)
	}

	a.logger.Info("extracted page", "url", page.URL.String(), "drafts", len(out), "skipped", len(skipped))
	return out
}

func (a *PageAdapter) finish(base *url.URL, d models.Draft) (models.Draft, error) {
	link, err := normalize.ResolveURL(base, d.URL)
	if err != nil {
		return d, fmt.Errorf("%w: %w", ingestion.ErrParseFailure, err)
	}
	d.URL = link
	if d.ImageURL != "" {
		if img, err := normalize.ResolveURL(base, d.ImageURL); err == nil {
			d.ImageURL = img
		} else {
			d.ImageURL = ""
		}
	}

	d.Source = a.name
	d.Title = normalize.CleanText(d.Title)
	if d.Location == "" {
		d.Location = a.location
	}
	if d.Date.IsZero() {
		d.Date = a.dates.ParseOr("", a.name)
	}
	d.Date = normalize.ToUTC(d.Date)

	d.AddTags(a.tags...)
	d.AddTags(normalize.Tags(d.Title, d.Description)...)

	if err := d.Validate(); err != nil {
		return d, fmt.Errorf("%w: %w", ingestion.ErrParseFailure, err)
	}
	return d, nil
}

// LinkFollower discovers event links on an index page and extracts each
// linked page, for aggregators that only link out to ticketing platforms.
type LinkFollower struct {
	*PageAdapter
	index    FetchRequest
	detail   FetchRequest // URL is replaced per link
	match    func(link string) bool
	maxLinks int
}

// NewLinkFollower creates an adapter that follows matching links from index.
func NewLinkFollower(page *PageAdapter, index, detail FetchRequest, match func(string) bool, maxLinks int) *LinkFollower {
	if maxLinks <= 0 {
		maxLinks = 50
	}
	return &LinkFollower{PageAdapter: page, index: index, detail: detail, match: match, maxLinks: maxLinks}
}

// Run loads the index, then each discovered link in order.
func (l *LinkFollower) Run(ctx context.Context) ([]models.Draft, error) {
	indexPage, err := l.load(ctx, l.index)
	if err != nil {
		return nil, err
	}

	links := l.links(indexPage)
	l.logger.Info("discovered event links", "count", len(links))

	var drafts []models.Draft
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return drafts, err
		}

		req := l.detail
		req.URL = link
		page, err := l.load(ctx, req)
		if err != nil {
			l.logger.Warn("failed to load linked page", "url", link, "error", err)
			continue
		}

		// A linked page lists one event; later objects are related listings.
		found := l.extract(page)
		if len(found) == 0 {
			continue
		}
		d := found[0]
		d.URL = link
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func (l *LinkFollower) links(page Page) []string {
	seen := make(map[string]bool)
	var out []string
	page.Doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		link, err := normalize.ResolveURL(page.URL, href)
		if err != nil || seen[link] || !l.match(link) {
			return true
		}
		seen[link] = true
		out = append(out, link)
		return len(out) < l.maxLinks
	})
	return out
}

// HostMatcher matches links whose host is one of hosts or a subdomain of one.
func HostMatcher(hosts ...string) func(string) bool {
	return func(link string) bool {
		u, err := url.Parse(link)
		if err != nil {
			return false
		}
		host := strings.ToLower(u.Hostname())
		for _, h := range hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return true
			}
		}
		return false
	}
}
