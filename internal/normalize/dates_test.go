package normalize

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nesen/eventagg/internal/clock"
)

func newTestParser(ref time.Time, grace time.Duration) *DateParser {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDateParser(clock.Fixed(ref), grace, logger)
}

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestDateParser_YearRollover(t *testing.T) {
	p := newTestParser(date(2025, 12, 20, 9, 0), DefaultRolloverGrace)

	tests := []struct {
		raw  string
		want time.Time
	}{
		{"Jan 5", date(2026, 1, 5, 0, 0)},
		{"Dec 10", date(2025, 12, 10, 0, 0)},
		{"September 1", date(2026, 9, 1, 0, 0)},
		{"Sep 25", date(2025, 9, 25, 0, 0)},
		{"Thursday 1/22", date(2026, 1, 22, 0, 0)},
		{"Fri, Dec 19 · 6:00 PM EST", date(2025, 12, 19, 18, 0)},
		{"Dec 10th", date(2025, 12, 10, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := p.Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDateParser_GraceWindowConfigurable(t *testing.T) {
	ref := date(2025, 12, 20, 0, 0)

	// With a 7 day window, Dec 10 is stale enough to roll into next year.
	p := newTestParser(ref, 7*24*time.Hour)
	got, err := p.Parse("Dec 10")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if want := date(2026, 12, 10, 0, 0); !got.Equal(want) {
		t.Errorf("Parse(Dec 10) = %v, want %v", got, want)
	}
}

func TestDateParser_ExplicitDates(t *testing.T) {
	p := newTestParser(date(2025, 12, 20, 9, 0), 0)

	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2026-01-10", date(2026, 1, 10, 0, 0)},
		{"2026-01-10T18:00:00", date(2026, 1, 10, 18, 0)},
		{"2026-01-10T18:00:00-05:00", date(2026, 1, 10, 23, 0)},
		{"2026-01-10T18:00:00.000Z", date(2026, 1, 10, 18, 0)},
		{"1/10/2026", date(2026, 1, 10, 0, 0)},
		{"December 5, 2025 at 4:00 PM EST", date(2025, 12, 5, 16, 0)},
		{"January 10, 2026 6:30pm", date(2026, 1, 10, 18, 30)},
		{"2023-06-01", date(2023, 6, 1, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := p.Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDateParser_RelativeWords(t *testing.T) {
	p := newTestParser(date(2025, 12, 20, 15, 45), 0)

	tests := []struct {
		raw  string
		want time.Time
	}{
		{"Today", date(2025, 12, 20, 0, 0)},
		{"tomorrow", date(2025, 12, 21, 0, 0)},
		{"Tomorrow 6:00pm", date(2025, 12, 21, 18, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := p.Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDateParser_Failure(t *testing.T) {
	ref := date(2025, 12, 20, 15, 45)
	p := newTestParser(ref, 0)

	for _, raw := range []string{"", "sometime soon", "Feb 30", "13/45"} {
		t.Run(raw, func(t *testing.T) {
			if _, err := p.Parse(raw); !errors.Is(err, ErrUnparseable) {
				t.Errorf("Parse(%q) error = %v, want ErrUnparseable", raw, err)
			}
		})
	}

	if got := p.ParseOr("sometime soon", "test"); !got.Equal(ref) {
		t.Errorf("ParseOr fallback = %v, want reference now %v", got, ref)
	}
}

func TestDateParser_SectionDate(t *testing.T) {
	p := newTestParser(date(2025, 12, 20, 15, 45), 0)

	got, err := p.SectionDate("Tomorrow")
	if err != nil {
		t.Fatalf("SectionDate error: %v", err)
	}
	if want := date(2025, 12, 21, 0, 0); !got.Equal(want) {
		t.Errorf("SectionDate(Tomorrow) = %v, want %v", got, want)
	}

	got, err = p.SectionDate("Jan 3")
	if err != nil {
		t.Fatalf("SectionDate error: %v", err)
	}
	if want := date(2026, 1, 3, 0, 0); !got.Equal(want) {
		t.Errorf("SectionDate(Jan 3) = %v, want %v", got, want)
	}
}

func TestCombineTime(t *testing.T) {
	base := date(2025, 12, 10, 0, 0)

	tests := []struct {
		timeText string
		want     time.Time
		wantErr  bool
	}{
		{"6:00 PM", date(2025, 12, 10, 18, 0), false},
		{"6:00pm", date(2025, 12, 10, 18, 0), false},
		{"6:00 p.m.", date(2025, 12, 10, 18, 0), false},
		{"9 AM", date(2025, 12, 10, 9, 0), false},
		{"18:30", date(2025, 12, 10, 18, 30), false},
		{"11:59 PM EST", date(2025, 12, 10, 23, 59), false},
		{"doors open", base, true},
	}

	for _, tt := range tests {
		t.Run(tt.timeText, func(t *testing.T) {
			got, err := CombineTime(base, tt.timeText)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CombineTime(%q) error = %v, wantErr %v", tt.timeText, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("CombineTime(%q) = %v, want %v", tt.timeText, got, tt.want)
			}
		})
	}
}

func TestMeridiemVariants(t *testing.T) {
	got := MeridiemVariants("6:00pm")
	if len(got) != 2 {
		t.Fatalf("expected two variants, got %v", got)
	}
	if got[0] != "6:00 PM" || got[1] != "6:00PM" {
		t.Errorf("MeridiemVariants = %v", got)
	}
}
