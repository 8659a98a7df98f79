// Package normalize holds the pure helpers every source adapter uses to turn
// raw listing text into canonical values: dates, text, URLs and tags.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nesen/eventagg/internal/clock"
)

// DefaultRolloverGrace is how far in the past a bare month/day may fall before
// it is assumed to belong to the following year.
const DefaultRolloverGrace = 90 * 24 * time.Hour

// ErrUnparseable is returned when no strategy recognizes a date fragment.
var ErrUnparseable = errors.New("unparseable date")

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	meridiemPattern   = regexp.MustCompile(`(?i)(\d)\s*([ap])m\b`)
	tzSuffixPattern   = regexp.MustCompile(`(?i)\s+\(?(EST|EDT|ET|CST|CDT|CT|MST|MDT|MT|PST|PDT|PT|GMT)\)?$`)
	ordinalPattern    = regexp.MustCompile(`(?i)(\d{1,2})(st|nd|rd|th)\b`)
	weekdayPrefix     = regexp.MustCompile(`(?i)^(mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)[a-z]*\.?,?\s+`)
	monthDayPattern   = regexp.MustCompile(`(?i)^([a-z]{3,9})\.?\s+(\d{1,2})(?:,?\s+(.+))?$`)
	numericMDPattern  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})(?:\s+(.+))?$`)
)

var dottedMeridiem = strings.NewReplacer("a.m.", "am", "p.m.", "pm", "A.M.", "AM", "P.M.", "PM")

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
}

var clockLayouts = []string{
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
	"15:04",
}

// DateParser resolves raw date/time fragments against a reference clock.
type DateParser struct {
	clock  clock.Clock
	grace  time.Duration
	logger *slog.Logger
}

// NewDateParser creates a parser. A non-positive grace selects DefaultRolloverGrace.
func NewDateParser(c clock.Clock, grace time.Duration, logger *slog.Logger) *DateParser {
	if c == nil {
		c = clock.System{}
	}
	if grace <= 0 {
		grace = DefaultRolloverGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DateParser{clock: c, grace: grace, logger: logger}
}

// Now returns the parser's reference time.
func (p *DateParser) Now() time.Time {
	return p.clock.Now().UTC()
}

// Parse tries, in order: explicit full dates, relative day words, and month/day
// without a year. Times attached to the fragment are combined onto the date.
func (p *DateParser) Parse(raw string) (time.Time, error) {
	s := cleanFragment(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty fragment", ErrUnparseable)
	}

	if t, ok := parseAbsolute(s); ok {
		return t, nil
	}

	if t, ok := p.parseRelative(s); ok {
		return t, nil
	}

	if t, ok := p.parseMonthDay(s); ok {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
}

// ParseOr parses raw and falls back to the reference now when nothing matches.
// The fallback is logged so ambiguous sources can be spotted.
func (p *DateParser) ParseOr(raw, source string) time.Time {
	t, err := p.Parse(raw)
	if err == nil {
		return t
	}
	now := p.Now()
	p.logger.Warn("date ambiguous, falling back to now",
		"source", source,
		"raw", raw,
		"fallback", now,
	)
	return now
}

// SectionDate resolves a date header such as "Today", "Tomorrow" or "Dec 10"
// to midnight of that day.
func (p *DateParser) SectionDate(raw string) (time.Time, error) {
	s := strings.ToLower(cleanFragment(raw))
	today := clock.Midnight(p.Now())

	switch {
	case strings.Contains(s, "today"):
		return today, nil
	case strings.Contains(s, "tomorrow"):
		return today.AddDate(0, 0, 1), nil
	}

	t, err := p.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return clock.Midnight(t), nil
}

// InferYear places a bare month/day in the reference year, rolling forward a
// year when the result would be older than the grace window.
func (p *DateParser) InferYear(month time.Month, day int) (time.Time, error) {
	now := p.Now()
	t := time.Date(now.Year(), month, day, 0, 0, 0, 0, time.UTC)
	if t.Month() != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: day %d out of range for %s", ErrUnparseable, day, month)
	}
	if t.Before(clock.Midnight(now).Add(-p.grace)) {
		t = t.AddDate(1, 0, 0)
	}
	return t, nil
}

// CombineTime replaces the hour and minute of date with the time of day parsed
// from timeText. The calendar date always comes from date.
func CombineTime(date time.Time, timeText string) (time.Time, error) {
	hour, minute, err := ParseClock(timeText)
	if err != nil {
		return date, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, time.UTC), nil
}

// ParseClock parses a time of day such as "6:00 PM", "6:00pm" or "18:00".
func ParseClock(raw string) (hour, minute int, err error) {
	s := tzSuffixPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	for _, variant := range MeridiemVariants(s) {
		for _, layout := range clockLayouts {
			if t, perr := time.Parse(layout, variant); perr == nil {
				return t.Hour(), t.Minute(), nil
			}
		}
	}
	return 0, 0, fmt.Errorf("%w: time %q", ErrUnparseable, raw)
}

// MeridiemVariants returns spacing variants of s with AM/PM markers
// normalized: "6:00pm" yields "6:00 PM" and "6:00PM".
func MeridiemVariants(s string) []string {
	s = dottedMeridiem.Replace(s)
	spaced := meridiemPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := meridiemPattern.FindStringSubmatch(m)
		return sub[1] + " " + strings.ToUpper(sub[2]) + "M"
	})
	compact := meridiemPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := meridiemPattern.FindStringSubmatch(m)
		return sub[1] + strings.ToUpper(sub[2]) + "M"
	})
	if spaced == compact {
		return []string{spaced}
	}
	return []string{spaced, compact}
}

// ToUTC converts t to UTC, the single reference convention for stored dates.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

func parseAbsolute(s string) (time.Time, bool) {
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	stripped := weekdayPrefix.ReplaceAllString(s, "")
	for _, variant := range MeridiemVariants(stripped) {
		for _, dl := range dateLayouts {
			if t, err := time.Parse(dl, variant); err == nil {
				return t.UTC(), true
			}
			for _, cl := range clockLayouts {
				if t, err := time.Parse(dl+" "+cl, variant); err == nil {
					return t.UTC(), true
				}
			}
		}
	}
	return time.Time{}, false
}

func (p *DateParser) parseRelative(s string) (time.Time, bool) {
	lower := strings.ToLower(s)
	today := clock.Midnight(p.Now())

	var base time.Time
	var rest string
	switch {
	case strings.HasPrefix(lower, "today"):
		base, rest = today, s[len("today"):]
	case strings.HasPrefix(lower, "tomorrow"):
		base, rest = today.AddDate(0, 0, 1), s[len("tomorrow"):]
	default:
		return time.Time{}, false
	}

	rest = strings.Trim(rest, " ,")
	if rest == "" {
		return base, true
	}
	if t, err := CombineTime(base, rest); err == nil {
		return t, true
	}
	return base, true
}

func (p *DateParser) parseMonthDay(s string) (time.Time, bool) {
	stripped := weekdayPrefix.ReplaceAllString(s, "")

	var month time.Month
	var day int
	var rest string

	if m := monthDayPattern.FindStringSubmatch(stripped); m != nil {
		mon, ok := lookupMonth(m[1])
		if !ok {
			return time.Time{}, false
		}
		d, err := strconv.Atoi(m[2])
		if err != nil {
			return time.Time{}, false
		}
		month, day, rest = mon, d, m[3]
	} else if m := numericMDPattern.FindStringSubmatch(stripped); m != nil {
		mon, err1 := strconv.Atoi(m[1])
		d, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || mon < 1 || mon > 12 {
			return time.Time{}, false
		}
		month, day, rest = time.Month(mon), d, m[3]
	} else {
		return time.Time{}, false
	}

	t, err := p.InferYear(month, day)
	if err != nil {
		return time.Time{}, false
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return t, true
	}
	if combined, err := CombineTime(t, rest); err == nil {
		return combined, true
	}
	// A trailing fragment that is not a time of day does not invalidate the date.
	return t, true
}

func lookupMonth(name string) (time.Month, bool) {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	if len(name) < 3 {
		return 0, false
	}
	for m := time.January; m <= time.December; m++ {
		full := strings.ToLower(m.String())
		if full == name || full[:3] == name || (name == "sept" && m == time.September) {
			return m, true
		}
	}
	return 0, false
}

// cleanFragment collapses whitespace, drops trailing US timezone abbreviations
// and replaces listing separators ("·", "@", " at ") with plain spaces.
func cleanFragment(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "·", " ")
	s = strings.ReplaceAll(s, "@", " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.Replace(s, " at ", " ", 1)
	s = tzSuffixPattern.ReplaceAllString(s, "")
	s = ordinalPattern.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
