package sources

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/models"
	"github.com/nesen/eventagg/internal/normalize"
)

// Page is one fetched document handed to an extractor.
type Page struct {
	URL    *url.URL
	Doc    *goquery.Document
	Source string
	Dates  *normalize.DateParser
	Logger *slog.Logger
}

// Extractor turns a page into drafts. Items that cannot be read are reported
// in skipped and never fail the page.
type Extractor interface {
	Extract(page Page) (drafts []models.Draft, skipped []error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(page Page) ([]models.Draft, []error)

// Extract calls f.
func (f ExtractorFunc) Extract(page Page) ([]models.Draft, []error) {
	return f(page)
}

// Fallback tries extractors in order and keeps the first result with drafts.
type Fallback []Extractor

// Extract runs each extractor until one yields drafts.
func (f Fallback) Extract(page Page) ([]models.Draft, []error) {
	var skipped []error
	for _, ex := range f {
		drafts, s := ex.Extract(page)
		skipped = append(skipped, s...)
		if len(drafts) > 0 {
			return drafts, skipped
		}
	}
	return nil, skipped
}

// skip records a per-item parse failure.
func skip(unit string, format string, args ...any) error {
	return ingestion.NewUnitError(ingestion.ErrParseFailure, unit, fmt.Errorf(format, args...))
}

// text returns the cleaned text of the first match of selector within s.
func text(s *goquery.Selection, selector string) string {
	return normalize.CleanText(s.Find(selector).First().Text())
}

// attr returns an attribute of the first match of selector within s.
func attr(s *goquery.Selection, selector, name string) string {
	v, _ := s.Find(selector).First().Attr(name)
	return strings.TrimSpace(v)
}

// JSONLD reads schema.org Event objects from ld+json script blocks. It
// accepts a single object, a list, an @graph and ItemList wrappers.
type JSONLD struct {
	DefaultLocation string
}

// Extract implements Extractor.
func (j JSONLD) Extract(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	page.Doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			skipped = append(skipped, skip(page.URL.String(), "ld+json block %d: %v", i, err))
			return
		}
		for _, obj := range collectEvents(data) {
			d, err := j.draft(page, obj)
			if err != nil {
				skipped = append(skipped, err)
				continue
			}
			drafts = append(drafts, d)
		}
	})
	return drafts, skipped
}

func (j JSONLD) draft(page Page, obj map[string]any) (models.Draft, error) {
	title := normalize.CleanText(str(obj["name"]))
	if title == "" {
		return models.Draft{}, skip(page.URL.String(), "ld+json event without name")
	}

	link := normalize.FirstNonEmpty(str(obj["url"]), page.URL.String())
	resolved, err := normalize.ResolveURL(page.URL, link)
	if err != nil {
		return models.Draft{}, skip(title, "%v", err)
	}

	d := models.Draft{
		Title:       title,
		Description: normalize.CleanText(str(obj["description"])),
		URL:         resolved,
		Source:      page.Source,
		ImageURL:    imageURL(obj["image"]),
		Location:    normalize.FirstNonEmpty(locationName(obj["location"]), j.DefaultLocation),
		Date:        page.Dates.ParseOr(str(obj["startDate"]), page.Source),
	}
	if end := str(obj["endDate"]); end != "" {
		if t, err := page.Dates.Parse(end); err == nil {
			d.EndDate = &t
		}
	}
	return d, nil
}

// collectEvents walks decoded ld+json and returns every Event-typed object.
func collectEvents(data any) []map[string]any {
	var out []map[string]any
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			if isEventType(t["@type"]) {
				out = append(out, t)
				return
			}
			if g, ok := t["@graph"]; ok {
				walk(g)
			}
			if items, ok := t["itemListElement"]; ok {
				walk(items)
			}
			if item, ok := t["item"]; ok {
				walk(item)
			}
		}
	}
	walk(data)
	return out
}

// isEventType matches "Event" and its subtypes such as "BusinessEvent".
func isEventType(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.HasSuffix(t, "Event")
	case []any:
		for _, item := range t {
			if isEventType(item) {
				return true
			}
		}
	}
	return false
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprint(t)
	}
	return ""
}

func locationName(v any) string {
	switch t := v.(type) {
	case string:
		return normalize.CleanText(t)
	case []any:
		if len(t) > 0 {
			return locationName(t[0])
		}
	case map[string]any:
		if name := normalize.CleanText(str(t["name"])); name != "" {
			return name
		}
		switch addr := t["address"].(type) {
		case string:
			return normalize.CleanText(addr)
		case map[string]any:
			return normalize.FirstNonEmpty(str(addr["addressLocality"]), str(addr["streetAddress"]))
		}
	}
	return ""
}

func imageURL(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		if len(t) > 0 {
			return imageURL(t[0])
		}
	case map[string]any:
		return str(t["url"])
	}
	return ""
}

// combineOr puts the time of day in timeText onto date, keeping date when
// timeText has no readable time.
func combineOr(date time.Time, timeText string) time.Time {
	if t, err := normalize.CombineTime(date, timeText); err == nil {
		return t
	}
	return date
}
