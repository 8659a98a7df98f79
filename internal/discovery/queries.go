package discovery

import (
	"strconv"
	"strings"
	"time"
)

// Topic is one search query template. Placeholders {location}, {month} and
// {year} are filled from the current month, or the following month when
// NextMonth is set.
type Topic struct {
	Template  string `yaml:"template"`
	NextMonth bool   `yaml:"next_month"`
}

// DefaultTopics covers startups, conferences, hackathons, networking,
// academic innovation, biotech, science, TEDx, climate and AI.
func DefaultTopics() []Topic {
	return []Topic{
		{Template: "upcoming startup events in {location} {month} {year}"},
		{Template: "upcoming startup events in {location} {month} {year}", NextMonth: true},
		{Template: "tech conferences {location} {month} {year}"},
		{Template: "{location} hackathons {month} {year}"},
		{Template: "entrepreneur networking events {location} {month} {year}"},
		{Template: "MIT innovation events {month} {year} open to public"},
		{Template: "Harvard biotech startup events {month} {year}", NextMonth: true},
		{Template: "{location} science entrepreneurship events {month} {year}"},
		{Template: "upcoming TEDx events {location} {month} {year}"},
		{Template: "Climate tech startup events {location} {month} {year}", NextMonth: true},
		{Template: "AI startup events {location} {month} {year}"},
	}
}

// GenerateQueries expands topics against now. December rolls the following
// month into January of the next year.
func GenerateQueries(now time.Time, location string, topics []Topic) []string {
	cur := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := cur.AddDate(0, 1, 0)

	queries := make([]string, 0, len(topics))
	for _, topic := range topics {
		month := cur
		if topic.NextMonth {
			month = next
		}
		r := strings.NewReplacer(
			"{location}", location,
			"{month}", month.Month().String(),
			"{year}", strconv.Itoa(month.Year()),
		)
		q := strings.Join(strings.Fields(r.Replace(topic.Template)), " ")
		if q != "" {
			queries = append(queries, q)
		}
	}
	return queries
}
