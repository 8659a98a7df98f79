package models

// Verification is the state of a discovery candidate within one cycle.
type Verification string

const (
	VerificationUnverified Verification = "unverified"
	VerificationVerified   Verification = "verified"
	VerificationRejected   Verification = "rejected"
)

// Candidate is an AI-extracted event lead from web search results. It lives
// only within a single discovery cycle.
type Candidate struct {
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Date           string       `json:"date"` // Unverified, YYYY-MM-DD when well-formed
	Location       string       `json:"location"`
	URL            string       `json:"url"`
	RelevanceScore float64      `json:"relevance_score"`
	State          Verification `json:"-"`
}
