package discovery

import (
	"encoding/json"
	"fmt"
	"time"
)

const promptDateLayout = "Monday, January 2, 2006"

// extractItem is the compact view of a search result sent for extraction.
type extractItem struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	DateHint string `json:"date_hint,omitempty"`
	URL      string `json:"url"`
}

func buildExtractSystemPrompt(now time.Time, organization string) string {
	return fmt.Sprintf(`You are an event scout for %s.
Today is %s.

CRITICAL RULES:
1. DISCARD any event from a year before %d. Old listings are not useful.
2. A bare month and day such as "Dec 10" means the NEXT upcoming occurrence of that date.
3. IGNORE events that have already passed.
4. Return ONLY a JSON array. No prose, no markdown.

Each element must have exactly this shape:
{"title": "Event name", "description": "One or two sentences", "date": "YYYY-MM-DD", "location": "Venue or city", "url": "https://...", "relevance_score": 8}

relevance_score is 1-10 for startup, technology, science and entrepreneurship audiences.
If nothing qualifies, return [].`,
		organization, now.Format(promptDateLayout), now.Year())
}

func buildExtractUserPrompt(items []extractItem) (string, error) {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode extraction input: %w", err)
	}
	return "Input Data:\n" + string(data), nil
}

func buildVerifySystemPrompt(now time.Time) string {
	return fmt.Sprintf(`You are a strict Fact-Checker. Today is %s.

You receive a claimed event and the text of its web page. Decide whether the page
describes a real, upcoming, public event that matches the claim.

Rules:
- is_valid is false if the event already happened, was cancelled, or the page is not an event.
- is_valid is false if the page only shows a year before %d.
- confirmed_date is the event date found on the page, formatted YYYY-MM-DD.
- updated_title is the event title as written on the page.

Return ONLY this JSON object:
{"is_valid": true, "confirmed_date": "YYYY-MM-DD", "reason": "short explanation", "updated_title": "Exact title"}`,
		now.Format(promptDateLayout), now.Year())
}

func buildVerifyUserPrompt(c candidateClaim, pageText string) string {
	return fmt.Sprintf("Claimed title: %s\nClaimed date: %s\nURL: %s\n\nPage text:\n%s",
		c.Title, c.Date, c.URL, pageText)
}

// candidateClaim is the part of a candidate shown to the verifier.
type candidateClaim struct {
	Title string
	Date  string
	URL   string
}
