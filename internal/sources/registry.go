package sources

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/normalize"
)

// Definition declares one source: where to fetch, how to render and how to
// extract. Follow turns it into a link-following adapter.
type Definition struct {
	Name            string
	Tags            []string
	DefaultLocation string
	Requests        []FetchRequest
	Render          bool // Needs a headless browser when one is available
	Extractor       Extractor
	Follow          *FollowRule
}

// FollowRule configures link discovery for aggregator pages.
type FollowRule struct {
	Hosts        []string
	PathContains string // Optional; links must also contain it
	Detail       FetchRequest
	MaxLinks     int
}

func (f FollowRule) matcher() func(string) bool {
	host := HostMatcher(f.Hosts...)
	if f.PathContains == "" {
		return host
	}
	return func(link string) bool {
		return host(link) && strings.Contains(link, f.PathContains)
	}
}

// Deps are the shared collaborators adapters are built from.
type Deps struct {
	HTTP    Fetcher
	Browser Fetcher // Nil disables rendering; render sources fall back to HTTP
	Dates   *normalize.DateParser
	Logger  *slog.Logger
}

// Registry holds source definitions by lowercase name.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry creates a registry over defs. Later definitions replace earlier
// ones with the same name.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a definition.
func (r *Registry) Register(d Definition) {
	r.defs[key(d.Name)] = d
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Build creates adapters for names, in the given order. An empty list builds
// every registered source.
func (r *Registry) Build(names []string, deps Deps) ([]ingestion.Adapter, error) {
	if len(names) == 0 {
		names = r.Names()
	}

	adapters := make([]ingestion.Adapter, 0, len(names))
	for _, name := range names {
		def, ok := r.defs[key(name)]
		if !ok {
			return nil, fmt.Errorf("unknown source %q (known: %s)", name, strings.Join(r.Names(), ", "))
		}
		adapters = append(adapters, def.build(deps))
	}
	return adapters, nil
}

func (d Definition) build(deps Deps) ingestion.Adapter {
	fetcher := deps.HTTP
	if d.Render && deps.Browser != nil {
		fetcher = deps.Browser
	}

	page := NewPageAdapter(d.Name, d.Tags, d.DefaultLocation, d.Requests, fetcher, d.Extractor, deps.Dates, deps.Logger)
	if d.Follow == nil || len(d.Requests) == 0 {
		return page
	}
	return NewLinkFollower(page, d.Requests[0], d.Follow.Detail, d.Follow.matcher(), d.Follow.MaxLinks)
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GenericJSONLD defines a source for any calendar page that embeds
// schema.org events.
func GenericJSONLD(name, pageURL string, render bool, tags []string) Definition {
	return Definition{
		Name:      name,
		Tags:      tags,
		Requests:  []FetchRequest{{URL: pageURL, Settle: settleIf(render, 2*time.Second)}},
		Render:    render,
		Extractor: JSONLD{},
	}
}

func settleIf(render bool, d time.Duration) time.Duration {
	if render {
		return d
	}
	return 0
}

// Builtin returns the reference Boston sources.
func Builtin() []Definition {
	return []Definition{
		{
			Name:            "Luma",
			Tags:            []string{"luma", "tech"},
			DefaultLocation: "Boston, MA",
			Requests: []FetchRequest{{
				URL:          "https://lu.ma/boston",
				WaitSelector: ".timeline-section",
				Scrolls:      1,
				Settle:       2 * time.Second,
			}},
			Render:    true,
			Extractor: Fallback{ExtractorFunc(LumaTimeline), JSONLD{DefaultLocation: "Boston, MA"}},
		},
		{
			Name:            "VentureFizz",
			Tags:            []string{"tech", "boston"},
			DefaultLocation: "Boston, MA",
			Requests: []FetchRequest{{
				URL:          "https://venturefizz.com/events/",
				WaitSelector: "article.tribe-events-calendar-list__event",
			}},
			Render:    true,
			Extractor: Fallback{ExtractorFunc(TribeEventsList), JSONLD{}},
		},
		{
			Name:            "MIT Entrepreneurship",
			Tags:            []string{"mit", "entrepreneurship"},
			DefaultLocation: "MIT, Cambridge, MA",
			Requests: []FetchRequest{{
				URL:          "https://entrepreneurship.mit.edu/events-calendar/",
				WaitSelector: "#orbit-events .card",
			}},
			Render:    true,
			Extractor: ExtractorFunc(OrbitCards),
		},
		{
			Name:            "Eventbrite",
			Tags:            []string{"eventbrite"},
			DefaultLocation: "Boston, MA",
			Requests:        []FetchRequest{{URL: "https://www.eventbrite.com/d/ma--boston/all-events/"}},
			Render:          true,
			Extractor:       JSONLD{DefaultLocation: "Boston, MA"},
		},
		{
			Name:            "Meetup",
			Tags:            []string{"meetup", "tech"},
			DefaultLocation: "Boston, MA",
			Requests: []FetchRequest{{
				URL:          "https://www.meetup.com/find/?location=us--ma--boston&source=EVENTS&categoryId=546",
				WaitSelector: "#__NEXT_DATA__",
				Scrolls:      5,
				ScrollPause:  time.Second,
			}},
			Render:    true,
			Extractor: ExtractorFunc(MeetupSearch),
		},
		{
			Name:            "Startup Boston",
			Tags:            []string{"startup", "boston"},
			DefaultLocation: "Boston",
			Requests: []FetchRequest{{
				URL:     "https://www.startupbos.org/directory/events",
				Scrolls: 1,
				Settle:  3 * time.Second,
			}},
			Render:    true,
			Extractor: JSONLD{DefaultLocation: "Boston"},
			Follow: &FollowRule{
				Hosts:    []string{"luma.com", "lu.ma", "eventbrite.com"},
				Detail:   FetchRequest{WaitSelector: `script[type="application/ld+json"]`},
				MaxLinks: 40,
			},
		},
		{
			Name:      "HBS Alumni Boston",
			Tags:      []string{"hbs", "business"},
			Requests:  []FetchRequest{{URL: "https://www.hbsab.org/s/1738/cc/21/page.aspx?sid=1738&gid=8&pgid=13&cid=664", WaitSelector: "article.eventItem"}},
			Render:    true,
			Extractor: ExtractorFunc(EncompassEvents),
		},
		{
			Name:            "MIT Sloan",
			Tags:            []string{"mit", "sloan", "business"},
			DefaultLocation: "MIT Sloan, Cambridge, MA",
			Requests:        []FetchRequest{{URL: "https://sloangroups.mit.edu/events", Settle: 2 * time.Second}},
			Render:          true,
			Extractor:       ExtractorFunc(CampusGroupsList),
		},
		{
			Name:      "Harvard i-lab",
			Tags:      []string{"harvard", "innovation"},
			Requests:  []FetchRequest{{URL: "https://innovationlabs.harvard.edu/events/upcoming", WaitSelector: "li.event-tease"}},
			Render:    true,
			Extractor: ExtractorFunc(EventTeaseList),
		},
		{
			Name:            "MIT HST",
			Tags:            []string{"mit", "hst", "science"},
			DefaultLocation: "MIT, Cambridge, MA",
			Requests:        []FetchRequest{{URL: "https://hst.mit.edu/news-events/events-academic-calendar"}},
			Extractor:       ExtractorFunc(DrupalEventTeasers),
		},
		{
			Name:            "Mass Founders Network",
			Tags:            []string{"founders", "massachusetts"},
			DefaultLocation: "Massachusetts",
			Requests:        []FetchRequest{{URL: "https://massfoundersnetwork.org/calendar-embed/v3gJc1MPW7e/embed/", Settle: 2 * time.Second}},
			Render:          true,
			Extractor:       ExtractorFunc(CalendarLinkEvent),
			Follow: &FollowRule{
				Hosts:        []string{"massfoundersnetwork.org"},
				PathContains: "/event/",
				Detail:       FetchRequest{WaitSelector: "h1"},
				MaxLinks:     40,
			},
		},
		{
			Name:      "Northeastern Alumni",
			Tags:      []string{"northeastern", "alumni"},
			Requests:  []FetchRequest{{URL: "https://alumni.northeastern.edu/events/", WaitSelector: ".event-item"}},
			Render:    true,
			Extractor: ExtractorFunc(TimestampedEvents),
		},
		{
			Name:            "Boston Chamber",
			Tags:            []string{"business", "chamber"},
			DefaultLocation: "Boston, MA",
			Requests:        []FetchRequest{{URL: "https://bostonchamber.com/event/calendar/", WaitSelector: ".fwpl-result"}},
			Render:          true,
			Extractor:       ExtractorFunc(FacetWPEvents),
		},
		{
			Name:            "LabCentral",
			Tags:            []string{"biotech", "labcentral"},
			DefaultLocation: "LabCentral, Cambridge, MA",
			Requests:        []FetchRequest{{URL: "https://www.labcentral.org/events-and-media/events"}},
			Render:          true,
			Extractor:       ExtractorFunc(GridCards),
		},
		{
			Name:            "Venture Lane",
			Tags:            []string{"startup", "venturelane"},
			DefaultLocation: "Boston, MA",
			Requests:        []FetchRequest{{URL: "https://theventurelane.com/programs-events/", WaitSelector: "article.tribe-events-calendar-month__calendar-event"}},
			Render:          true,
			Extractor:       Fallback{ExtractorFunc(TribeEventsMonth), ExtractorFunc(TribeEventsList)},
		},
	}
}
