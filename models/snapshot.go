package models

import (
	"time"
)

// SourceSnapshot is one source's full listing set as observed on one UTC
// calendar day. It is created on the first successful scrape of the day and
// mutated only by append; once the day rolls over the listing sequence is
// frozen (status tagging rewrites fields in place, never removes or reorders).
type SourceSnapshot struct {
	Source    string    `json:"source"`
	ScrapedAt time.Time `json:"scraped_at"`
	Listings  []Listing `json:"listings"`
	// ModelsExceededMaxVehicles records {make, model} pairs whose true
	// inventory exceeded the pagination cap that day, marking the stored
	// count as a lower bound. Absent in older files; readers treat nil as
	// empty.
	ModelsExceededMaxVehicles []MakeModel `json:"models_exceeded_max_vehicles,omitempty"`
}

// HasExceededMax reports whether the given model hit the pagination cap.
func (s *SourceSnapshot) HasExceededMax(mm MakeModel) bool {
	for _, m := range s.ModelsExceededMaxVehicles {
		if m.Make == mm.Make && m.Model == mm.Model {
			return true
		}
	}
	return false
}

// AddExceededMax unions the pair into the exceeded set. Idempotent.
func (s *SourceSnapshot) AddExceededMax(mm MakeModel) {
	if s.HasExceededMax(mm) {
		return
	}
	s.ModelsExceededMaxVehicles = append(s.ModelsExceededMaxVehicles, mm)
}

// ListingIndex returns the listings keyed by id. Duplicate ids within a day
// are never expected but tolerated; the first occurrence wins.
func (s *SourceSnapshot) ListingIndex() map[string]*Listing {
	idx := make(map[string]*Listing, len(s.Listings))
	for i := range s.Listings {
		l := &s.Listings[i]
		if _, ok := idx[l.ID]; !ok {
			idx[l.ID] = l
		}
	}
	return idx
}
