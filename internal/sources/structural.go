package sources

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nesen/eventagg/internal/models"
	"github.com/nesen/eventagg/internal/normalize"
)

// LumaTimeline reads a Luma city calendar: date-titled timeline sections
// holding event cards with a time of day.
func LumaTimeline(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	page.Doc.Find(".timeline-section").Each(func(_ int, section *goquery.Selection) {
		header := text(section, ".date-title .date")
		if header == "" {
			return
		}
		day, err := page.Dates.SectionDate(header)
		if err != nil {
			skipped = append(skipped, skip(header, "section date: %v", err))
			return
		}

		section.Find(".content-card").Each(func(_ int, card *goquery.Selection) {
			title := text(card, "h3")
			href := attr(card, "a.event-link", "href")
			if title == "" || href == "" {
				skipped = append(skipped, skip(header, "card without title or link"))
				return
			}

			d := models.Draft{
				Title:    title,
				URL:      href,
				Date:     combineOr(day, text(card, ".event-time span")),
				ImageURL: attr(card, "img", "src"),
			}

			// Hosts are listed as "By ..."; the first other attribute is the venue.
			card.Find(".attribute").EachWithBreak(func(_ int, a *goquery.Selection) bool {
				t := normalize.CleanText(a.Text())
				if len(t) > 2 && !strings.HasPrefix(t, "By ") {
					d.Location = t
					return false
				}
				return true
			})

			drafts = append(drafts, d)
		})
	})
	return drafts, skipped
}

var atTimePattern = regexp.MustCompile(`(?i)@\s*(\d{1,2}(?::\d{2})?\s*[ap]\.?m\.?)`)

// TribeEventsList reads The Events Calendar list view: a datetime attribute
// for the day and "December 11 @ 6:00 pm" text for the time.
func TribeEventsList(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	page.Doc.Find("article.tribe-events-calendar-list__event").Each(func(_ int, card *goquery.Selection) {
		link := card.Find(".tribe-events-calendar-list__event-title-link, .tribe-events-list-event-title a").First()
		title := normalize.CleanText(link.Text())
		href, _ := link.Attr("href")
		if title == "" || strings.TrimSpace(href) == "" {
			skipped = append(skipped, skip(page.URL.String(), "event without title or link"))
			return
		}

		timeEl := card.Find("time.tribe-events-calendar-list__event-datetime").First()
		datetime, _ := timeEl.Attr("datetime")
		day, err := page.Dates.Parse(datetime)
		if err != nil {
			skipped = append(skipped, skip(title, "datetime attribute %q: %v", datetime, err))
			return
		}
		date := day
		if m := atTimePattern.FindStringSubmatch(timeEl.Text()); m != nil {
			date = combineOr(day, m[1])
		}

		var venue []string
		card.Find("address.tribe-events-calendar-list__event-venue-address span").Each(func(_ int, s *goquery.Selection) {
			if t := normalize.CleanText(s.Text()); t != "" {
				venue = append(venue, t)
			}
		})

		drafts = append(drafts, models.Draft{
			Title:       title,
			URL:         href,
			Date:        date,
			Description: text(card, ".tribe-events-calendar-list__event-description p"),
			Location:    strings.Join(venue, ", "),
			ImageURL:    attr(card, "img", "src"),
		})
	})
	return drafts, skipped
}

// OrbitCards reads the MIT Entrepreneurship calendar cards: h2 title inside
// the event link, h3 with "December 5, 2025 at 4:00 PM EST".
func OrbitCards(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	cards := page.Doc.Find("#orbit-events .card")
	if cards.Length() == 0 {
		cards = page.Doc.Find("article, .event-card")
	}

	cards.Each(func(_ int, card *goquery.Selection) {
		title := text(card, "h2")
		if title == "" {
			title = text(card, "h3, .title")
		}
		href, _ := card.Find("h2").First().Closest("a").Attr("href")
		if href == "" {
			href = attr(card, "a", "href")
		}
		if title == "" || href == "" {
			skipped = append(skipped, skip(page.URL.String(), "card without title or link"))
			return
		}

		location := ""
		card.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
			t := normalize.CleanText(p.Text())
			if strings.Contains(t, "Building") || strings.Contains(t, "Room") {
				location = t
				return false
			}
			return true
		})

		drafts = append(drafts, models.Draft{
			Title:       title,
			URL:         href,
			Date:        page.Dates.ParseOr(text(card, "h3"), page.Source),
			Description: text(card, `p[id^="event-description"], .description`),
			Location:    location,
		})
	})
	return drafts, skipped
}

// MeetupSearch reads Meetup search result cards with "Fri, Dec 19 · 6:00 PM EST"
// times. Search cards carry no description, so the title stands in.
func MeetupSearch(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	cards := page.Doc.Find(`div[data-testid="category-search-results"] > div`)
	if cards.Length() == 0 {
		cards = page.Doc.Find(`ul li div[data-testid="event-card-in-search"]`)
	}

	cards.Each(func(_ int, card *goquery.Selection) {
		title := text(card, "h3, h2")
		href := attr(card, "a", "href")
		if title == "" || href == "" {
			skipped = append(skipped, skip(page.URL.String(), "card without title or link"))
			return
		}

		when := text(card, "time")
		if when == "" {
			skipped = append(skipped, skip(title, "card without time"))
			return
		}

		drafts = append(drafts, models.Draft{
			Title:       title,
			URL:         href,
			Date:        page.Dates.ParseOr(when, page.Source),
			Description: title,
		})
	})
	return drafts, skipped
}
