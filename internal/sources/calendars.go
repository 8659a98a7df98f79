package sources

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/nesen/eventagg/internal/models"
	"github.com/nesen/eventagg/internal/normalize"
)

// Extractors for university, alumni and community calendars around Boston.
// Each reads one site's listing markup; undated items follow the same rules
// as the other structural extractors.

var styleURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// styleURL returns the first url(...) in an inline style attribute.
func styleURL(s *goquery.Selection, selector string) string {
	if m := styleURLPattern.FindStringSubmatch(attr(s, selector, "style")); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// EncompassEvents reads an iModules/Encompass alumni calendar. The event date
// is a screen-reader prefix of the title link: "December 9, 2025: ".
func EncompassEvents(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	page.Doc.Find("article.eventItem").Each(func(_ int, item *goquery.Selection) {
		link := item.Find("h3.title a").First()
		title := normalize.CleanText(link.Contents().Not(".sr-only").Text())
		href, _ := link.Attr("href")
		if title == "" || strings.TrimSpace(href) == "" {
			skipped = append(skipped, skip(page.URL.String(), "event without title or link"))
			return
		}

		when := strings.TrimSuffix(text(link, "span.sr-only"), ":")
		drafts = append(drafts, models.Draft{
			Title: title,
			URL:   href,
			Date:  page.Dates.ParseOr(when, page.Source),
		})
	})
	return drafts, skipped
}

// CampusGroupsList reads a CampusGroups listing where h2 day headers precede
// the h3 event links of that day.
func CampusGroupsList(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	var day time.Time
	page.Doc.Find("h2, h3").Each(func(_ int, h *goquery.Selection) {
		if goquery.NodeName(h) == "h2" {
			header := normalize.CleanText(h.Text())
			d, err := page.Dates.SectionDate(header)
			if err != nil {
				day = time.Time{}
				skipped = append(skipped, skip(header, "day header: %v", err))
				return
			}
			day = d
			return
		}

		title := text(h, "a")
		href := attr(h, "a", "href")
		if title == "" || href == "" {
			return
		}
		if day.IsZero() {
			skipped = append(skipped, skip(title, "event outside a day section"))
			return
		}
		drafts = append(drafts, models.Draft{Title: title, URL: href, Date: day})
	})
	return drafts, skipped
}

// EventTeaseList reads the Harvard Innovation Labs list: "Mon, Dec 08" dates
// without a year, placed by the parser's rollover rule.
func EventTeaseList(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	page.Doc.Find("li.event-tease").Each(func(_ int, item *goquery.Selection) {
		title := text(item, ".event-tease__title")
		href := attr(item, "a.event-tease__link", "href")
		if title == "" || href == "" {
			skipped = append(skipped, skip(page.URL.String(), "event without title or link"))
			return
		}

		drafts = append(drafts, models.Draft{
			Title:    title,
			URL:      href,
			Date:     page.Dates.ParseOr(text(item, ".event-tease__date"), page.Source),
			Location: text(item, ".event-tease__info-location"),
		})
	})
	return drafts, skipped
}

// DrupalEventTeasers reads Drupal event teasers with a machine-readable
// time[datetime]. Teasers without a link point at the listing itself.
func DrupalEventTeasers(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	page.Doc.Find("article.node--event").Each(func(_ int, item *goquery.Selection) {
		heading := item.Find("h2.node__title--event-teaser").First()
		title := text(heading, "span")
		if title == "" {
			title = normalize.CleanText(heading.Text())
		}
		if title == "" {
			skipped = append(skipped, skip(page.URL.String(), "teaser without title"))
			return
		}

		drafts = append(drafts, models.Draft{
			Title:       title,
			URL:         normalize.FirstNonEmpty(attr(heading, "a", "href"), page.URL.String()),
			Date:        page.Dates.ParseOr(attr(item, "time", "datetime"), page.Source),
			Description: text(item, ".field--node--field-short-teaser p"),
		})
	})
	return drafts, skipped
}

const googleCalendarLayout = "20060102T150405Z"

// CalendarLinkEvent reads a single event page through its "add to calendar"
// links, which carry exact start, end and venue. Outlook links use
// startdt/enddt; Google links use dates=start/end in UTC.
func CalendarLinkEvent(page Page) ([]models.Draft, []error) {
	title := text(page.Doc.Selection, "h1")
	if title == "" {
		return nil, []error{skip(page.URL.String(), "event page without heading")}
	}

	d := models.Draft{
		Title:       title,
		URL:         page.URL.String(),
		Description: text(page.Doc.Selection, ".tribe-events-single-event-description, .event-description, .entry-content"),
	}

	link := attr(page.Doc.Selection, `a[href*="outlook.office.com"]`, "href")
	if link == "" {
		link = attr(page.Doc.Selection, `a[href*="google.com/calendar"]`, "href")
	}
	if u, err := url.Parse(link); link != "" && err == nil {
		q := u.Query()
		start, end := q.Get("startdt"), q.Get("enddt")
		if start != "" {
			if t, err := page.Dates.Parse(start); err == nil {
				d.Date = t
			}
			if t, err := page.Dates.Parse(end); end != "" && err == nil {
				d.EndDate = &t
			}
		} else if dates := strings.Split(q.Get("dates"), "/"); dates[0] != "" {
			if t, err := time.Parse(googleCalendarLayout, dates[0]); err == nil {
				d.Date = t
			}
			if len(dates) > 1 {
				if t, err := time.Parse(googleCalendarLayout, dates[1]); err == nil {
					d.EndDate = &t
				}
			}
		}
		d.Location = normalize.CleanText(q.Get("location"))
	}

	if d.Date.IsZero() {
		when := normalize.FirstNonEmpty(attr(page.Doc.Selection, "time", "datetime"), text(page.Doc.Selection, ".tribe-event-date-start"))
		d.Date = page.Dates.ParseOr(when, page.Source)
	}
	return []models.Draft{d}, nil
}

// TimestampedEvents reads the Northeastern alumni calendar: a Unix timestamp
// on .event-date, or its month, day and time parts when the attribute is absent.
func TimestampedEvents(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	page.Doc.Find(".event-item").Each(func(_ int, item *goquery.Selection) {
		title := text(item, "h3.event-title")
		href := attr(item, "a", "href")
		if title == "" || href == "" {
			skipped = append(skipped, skip(page.URL.String(), "event without title or link"))
			return
		}

		var date time.Time
		if ts, err := strconv.ParseInt(attr(item, ".event-date", "data-timestamp"), 10, 64); err == nil && ts > 0 {
			date = time.Unix(ts, 0).UTC()
		} else {
			parts := strings.Join([]string{
				text(item, ".event-date__month"),
				text(item, ".event-date__day"),
				text(item, ".event-date__time"),
			}, " ")
			t, err := page.Dates.Parse(parts)
			if err != nil {
				skipped = append(skipped, skip(title, "event date: %v", err))
				return
			}
			date = t
		}

		drafts = append(drafts, models.Draft{
			Title:    title,
			URL:      href,
			Date:     date,
			Location: text(item, ".event-location"),
			ImageURL: styleURL(item, ".event-image"),
		})
	})
	return drafts, skipped
}

// FacetWPEvents reads the Boston Chamber calendar. Dates read "Thursday
// 1/22/26"; the .event_data lines hold the time range and venue, and taxonomy
// terms become tags. Events without a readable date are skipped.
func FacetWPEvents(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	page.Doc.Find(".fwpl-result").Each(func(_ int, item *goquery.Selection) {
		title := text(item, ".event_title h6")
		href := attr(item, "a.stretched-link", "href")
		if title == "" || href == "" {
			skipped = append(skipped, skip(page.URL.String(), "event without title or link"))
			return
		}

		fields := strings.Fields(text(item, ".event-date"))
		if len(fields) == 0 {
			skipped = append(skipped, skip(title, "missing date"))
			return
		}
		date, err := time.Parse("1/2/06", fields[len(fields)-1])
		if err != nil {
			skipped = append(skipped, skip(title, "date %q: %v", fields[len(fields)-1], err))
			return
		}

		var lines []string
		item.Find(".event_data").Each(func(_ int, s *goquery.Selection) {
			if t := normalize.CleanText(s.Text()); t != "" {
				lines = append(lines, t)
			}
		})
		var location string
		if len(lines) >= 2 {
			start, _, _ := strings.Cut(lines[1], "-")
			if t, err := normalize.CombineTime(date, start); err == nil {
				date = t
				if len(lines) >= 3 {
					location = lines[2]
				}
			} else {
				location = lines[1]
			}
		}

		d := models.Draft{
			Title:       title,
			URL:         href,
			Date:        date,
			Location:    location,
			Description: normalize.FirstNonEmpty(text(item, ".card-text"), strings.Join(lines, " ")),
			ImageURL:    styleURL(item, ".image-div-events-calendar"),
		}
		item.Find(".taxonomy-term-list span").Each(func(_ int, s *goquery.Selection) {
			if term := strings.ToLower(normalize.CleanText(s.Text())); term != "" {
				d.AddTags(term)
			}
		})
		drafts = append(drafts, d)
	})
	return drafts, skipped
}

// GridCards reads the LabCentral events grid: each card is a link holding a
// "12.11.25" date, the title and a venue line.
func GridCards(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	page.Doc.Find(`div.grid a[href*="/events/"]`).Each(func(_ int, card *goquery.Selection) {
		title := text(card, "p, h3")
		href, _ := card.Attr("href")
		if title == "" || strings.TrimSpace(href) == "" {
			skipped = append(skipped, skip(page.URL.String(), "card without title or link"))
			return
		}

		when := text(card, "h5")
		date, err := time.Parse("01.02.06", when)
		if err != nil {
			date = page.Dates.ParseOr(when, page.Source)
		}

		drafts = append(drafts, models.Draft{
			Title:    title,
			URL:      href,
			Date:     date,
			Location: text(card, "h4 span"),
		})
	})
	return drafts, skipped
}

// TribeEventsMonth reads The Events Calendar month view, where each event's
// date and summary live in its hover tooltip.
func TribeEventsMonth(page Page) ([]models.Draft, []error) {
	var drafts []models.Draft
	var skipped []error

	page.Doc.Find("article.tribe-events-calendar-month__calendar-event").Each(func(_ int, item *goquery.Selection) {
		link := item.Find(".tribe-events-calendar-month__calendar-event-title-link").First()
		title := normalize.CleanText(link.Text())
		href, _ := link.Attr("href")
		if title == "" || strings.TrimSpace(href) == "" {
			skipped = append(skipped, skip(page.URL.String(), "event without title or link"))
			return
		}

		when := attr(item, ".tribe-events-calendar-month__calendar-event-tooltip-datetime time", "datetime")
		drafts = append(drafts, models.Draft{
			Title:       title,
			URL:         href,
			Date:        page.Dates.ParseOr(when, page.Source),
			Description: text(item, ".tribe-events-calendar-month__calendar-event-tooltip-description p"),
		})
	})
	return drafts, skipped
}
