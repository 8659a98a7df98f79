// Package notify formats digests and run reports and delivers them to a chat.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/models"
	"github.com/nesen/eventagg/internal/normalize"
)

const (
	// NoEventsMessage is sent when the window holds no events at all.
	NoEventsMessage = "No upcoming events found."
	// NoMatchesMessage is sent when events exist but none survived curation.
	NoMatchesMessage = "No matching events found today."

	digestDateLayout = "Mon, Jan 2 @ 3PM"
	maxErrorSnippet  = 200
)

var intros = []string{
	"Here is your daily dose of innovation for the community!",
	"Fresh off the press: top picks for Boston's science entrepreneurs.",
	"Ready to connect? Check out these high-signal events.",
	"Your curated brief of what's happening in Boston bio and deep tech this week.",
}

// Digest is the input of FormatDigest.
type Digest struct {
	Title      string
	Intro      string
	Events     []models.Event
	Considered int // Events in the window before curation
	TotalNew   int // New events ingested by the latest run, if known
	SiteURL    string
	Location   *time.Location // Display zone for dates, UTC when nil
}

// PickIntro rotates the intro line by day of year.
func PickIntro(t time.Time) string {
	return intros[t.YearDay()%len(intros)]
}

// FormatDigest renders a Telegram Markdown digest. It never fails: an empty
// selection yields a short notice instead.
func FormatDigest(d Digest) string {
	if len(d.Events) == 0 {
		if d.Considered > 0 {
			return NoMatchesMessage
		}
		return NoEventsMessage
	}

	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	title := d.Title
	if title == "" {
		title = "Community Event Digest"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🧬 *%s*\n", escapeMarkdown(title))
	if d.Intro != "" {
		fmt.Fprintf(&b, "_%s_\n", escapeMarkdown(d.Intro))
	}
	b.WriteString("\n")

	for i, ev := range d.Events {
		fmt.Fprintf(&b, "%d. *%s*\n", i+1, escapeMarkdown(ev.Title))
		fmt.Fprintf(&b, "   📅 %s | %s\n", ev.Date.In(loc).Format(digestDateLayout), escapeMarkdown(ev.Source))
		fmt.Fprintf(&b, "   🔗 [Link](%s)\n\n", ev.URL)
	}

	if d.TotalNew > 0 {
		fmt.Fprintf(&b, "📊 Total Items Scraped: %d\n", d.TotalNew)
	}
	if d.SiteURL != "" {
		fmt.Fprintf(&b, "👇 *See all events:* %s", d.SiteURL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatRunReport renders the coordinator's buckets: sources that produced
// events, sources that came back empty and sources that failed.
func FormatRunReport(r ingestion.Report) string {
	var b strings.Builder
	b.WriteString("📊 *Daily Scrape Report*\n")
	fmt.Fprintf(&b, "Total Items Scraped: %d\n\n", r.TotalNew)

	if len(r.Success) > 0 {
		b.WriteString("✅ *Active Sources:*\n")
		for _, res := range r.Success {
			fmt.Fprintf(&b, "• %s: %d found, %d new, %d updated\n",
				escapeMarkdown(res.Source), res.Found, res.New, res.Updated)
		}
		b.WriteString("\n")
	}

	if len(r.Empty) > 0 {
		b.WriteString("⚠️ *No Events Found (Check if Site Changed):*\n")
		for _, res := range r.Empty {
			fmt.Fprintf(&b, "• %s\n", escapeMarkdown(res.Source))
		}
		b.WriteString("\n")
	}

	if len(r.Failed) > 0 {
		b.WriteString("❌ *Failures:*\n")
		for _, res := range r.Failed {
			msg := "unknown error"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			fmt.Fprintf(&b, "• %s (%s): `%s`\n", escapeMarkdown(res.Source), ingestion.Classify(res.Err), errorSnippet(msg))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown escapes the characters legacy Telegram Markdown treats as
// entity delimiters.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// errorSnippet strips formatting characters, which cannot be escaped inside
// a code span, and shortens the message.
func errorSnippet(msg string) string {
	msg = strings.NewReplacer("*", "", "_", "", "`", "").Replace(msg)
	msg = strings.Join(strings.Fields(msg), " ")
	if len([]rune(msg)) > maxErrorSnippet {
		msg = normalize.Truncate(msg, maxErrorSnippet) + "..."
	}
	return msg
}
