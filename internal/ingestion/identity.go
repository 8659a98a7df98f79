package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nesen/eventagg/internal/models"
)

// IDLength is the number of hex characters kept from the identity hash.
const IDLength = 16

// ComputeID derives the stable identity of an event from its title, start
// date and source. Two adapters scraping the same calendar produce the same id.
func ComputeID(title string, date time.Time, source string) string {
	data := fmt.Sprintf("%s|%s|%s", title, ISOFormat(date), source)
	return shortHash(data)
}

// ComputeURLID derives identity from the URL alone, for drafts whose title and
// date are model-derived.
func ComputeURLID(rawURL string) string {
	return shortHash("url|" + NormalizeURL(rawURL))
}

// DraftID returns the identity the merge engine uses for d.
func DraftID(d models.Draft) string {
	if d.IdentityByURL {
		return ComputeURLID(d.URL)
	}
	return ComputeID(d.Title, d.Date, d.Source)
}

// ISOFormat renders t the way identity hashing expects: a zone-less
// "2006-01-02T15:04:05" timestamp in UTC, with microseconds only when non-zero.
func ISOFormat(t time.Time) string {
	t = t.UTC()
	if us := t.Nanosecond() / 1000; us != 0 {
		return t.Format("2006-01-02T15:04:05") + fmt.Sprintf(".%06d", us)
	}
	return t.Format("2006-01-02T15:04:05")
}

// NormalizeURL trims whitespace and fragments so trivially different links to
// the same page compare equal. Unparseable input is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

func shortHash(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])[:IDLength]
}

// URLDeduplicator drops drafts whose URL was already seen in the current batch.
type URLDeduplicator struct {
	seen map[string]struct{}
}

// NewURLDeduplicator creates an empty deduplicator.
func NewURLDeduplicator() *URLDeduplicator {
	return &URLDeduplicator{seen: make(map[string]struct{})}
}

// IsNew reports whether rawURL has not been marked yet.
func (d *URLDeduplicator) IsNew(rawURL string) bool {
	_, exists := d.seen[NormalizeURL(rawURL)]
	return !exists
}

// Mark records rawURL as seen.
func (d *URLDeduplicator) Mark(rawURL string) {
	d.seen[NormalizeURL(rawURL)] = struct{}{}
}

