package models

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestDraft_Validate(t *testing.T) {
	base := Draft{
		Title:  "AI Founders Meetup",
		URL:    "https://lu.ma/ai-founders",
		Source: "Luma",
		Date:   time.Date(2025, 12, 12, 23, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name    string
		mutate  func(d *Draft)
		wantErr error
	}{
		{"valid", func(d *Draft) {}, nil},
		{"blank title", func(d *Draft) { d.Title = "  " }, ErrMissingTitle},
		{"no url", func(d *Draft) { d.URL = "" }, ErrMissingURL},
		{"no source", func(d *Draft) { d.Source = "" }, ErrMissingSource},
		{"no date", func(d *Draft) { d.Date = time.Time{} }, ErrMissingDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			if err := d.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDraft_AddTags(t *testing.T) {
	d := Draft{Tags: []string{"Boston"}}
	d.AddTags("AI", "boston", " ", "Startup", "ai")

	want := []string{"Boston", "AI", "Startup"}
	if !reflect.DeepEqual(d.Tags, want) {
		t.Errorf("Tags = %v, want %v", d.Tags, want)
	}
}

func TestIngestionRun_Finalized(t *testing.T) {
	run := IngestionRun{ID: "run-1", Status: RunStatusRunning}
	if run.Finalized() {
		t.Error("new run should not be finalized")
	}

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = RunStatusSuccess
	if !run.Finalized() {
		t.Error("run with a finish time should be finalized")
	}
}
