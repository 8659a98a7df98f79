package api

import (
	"encoding/xml"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/models"
)

const (
	defaultFeedDays = 30
	maxFeedDays     = 365
)

type rssHandler struct {
	store   EventStore
	clock   clock.Clock
	logger  *slog.Logger
	title   string
	siteURL string
}

// RSS 2.0 feed structures
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel *Channel `xml:"channel"`
}

type Channel struct {
	Title         string  `xml:"title"`
	Link          string  `xml:"link"`
	Description   string  `xml:"description"`
	Language      string  `xml:"language,omitempty"`
	LastBuildDate string  `xml:"lastBuildDate,omitempty"`
	Items         []*Item `xml:"item"`
}

type Item struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	PubDate     string   `xml:"pubDate"`
	GUID        GUID     `xml:"guid"`
	Categories  []string `xml:"category,omitempty"`
}

// GUID marks item ids as opaque rather than permalinks.
type GUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// serve handles GET /rss.xml?source=&days=: upcoming active events from
// today's midnight through the next days days, date ascending.
func (h *rssHandler) serve(w http.ResponseWriter, r *http.Request) {
	days := defaultFeedDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxFeedDays {
			http.Error(w, fmt.Sprintf("days must be between 1 and %d", maxFeedDays), http.StatusBadRequest)
			return
		}
		days = n
	}

	now := h.clock.Now()
	since := clock.Midnight(now)
	until := since.AddDate(0, 0, days)
	query := models.EventQuery{
		Since:  &since,
		Until:  &until,
		Source: strings.TrimSpace(r.URL.Query().Get("source")),
		Limit:  models.MaxQueryLimit,
	}

	events, err := h.store.Query(r.Context(), query)
	if err != nil {
		h.logger.Error("failed to get events for RSS feed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	link := h.siteURL
	if link == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		link = scheme + "://" + r.Host
	}

	description := "Upcoming tech and startup events"
	if query.Source != "" {
		description += " from " + query.Source
	}

	feed := &RSS{
		Version: "2.0",
		Channel: &Channel{
			Title:         h.title,
			Link:          link,
			Description:   description,
			Language:      "en-us",
			LastBuildDate: now.Format(time.RFC1123Z),
			Items:         make([]*Item, 0, len(events)),
		},
	}

	for _, event := range events {
		feed.Channel.Items = append(feed.Channel.Items, &Item{
			Title:       event.Title,
			Link:        event.URL,
			Description: html.EscapeString(itemDescription(event)),
			PubDate:     event.Date.Format(time.RFC1123Z),
			GUID:        GUID{Value: event.ID},
			Categories:  event.Tags,
		})
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	w.Write([]byte(xml.Header))
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(feed); err != nil {
		h.logger.Error("failed to encode RSS feed", "error", err)
	}
}

func itemDescription(e models.Event) string {
	parts := []string{e.Date.Format("Mon, Jan 2 2006 3:04 PM MST")}
	if e.Location != "" {
		parts = append(parts, e.Location)
	}
	parts = append(parts, e.Source)
	line := strings.Join(parts, " | ")
	if e.Description == "" {
		return line
	}
	return line + "\n\n" + e.Description
}
