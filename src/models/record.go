package models

import "time"

// MRawRecord is one tick as returned by an exchange page.
type MRawRecord struct {
	ID        string            `json:"id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Price     float64           `json:"price"`
	Weight    float64           `json:"weight"`
	Labels    map[string]string `json:"labels"`
}

// -----------------------------------------------------------------------------

// MPage is the result of a single paginated request. Next is the cursor the
// upstream reported for the following request and may be zero.
type MPage struct {
	Records []MRawRecord `json:"records"`
	Next    time.Time    `json:"next"`
}

// -----------------------------------------------------------------------------

// Last returns the latest record timestamp of the page.
func (p MPage) Last() time.Time {
	var last time.Time
	for _, r := range p.Records {
		if r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}
	return last
}
