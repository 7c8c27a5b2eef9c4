package services

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/quicklywilliam/usedevpricetracker-sub000/models"
)

const (
	minListingYear = 1990

	// Fail-source policy thresholds: a batch is suspect when at least
	// failSourceMinInvalid listings are invalid AND the success rate is
	// strictly below failSourceMinRate.
	failSourceMinInvalid = 3
	failSourceMinRate    = 80.0
)

// Validator applies field-level acceptance checks to scraped listings and
// scores source health for the calling orchestration.
type Validator struct {
	now func() time.Time
}

func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// SetClock overrides the validator's clock. Test hook.
func (v *Validator) SetClock(now func() time.Time) {
	v.now = now
}

// InvalidListing pairs a rejected listing with its failure reasons.
type InvalidListing struct {
	Listing models.Listing `json:"listing"`
	Reasons []string       `json:"reasons"`
}

// ValidationStats summarizes one batch. Ephemeral; never persisted.
type ValidationStats struct {
	Total       int      `json:"total"`
	Valid       int      `json:"valid"`
	Invalid     int      `json:"invalid"`
	SuccessRate float64  `json:"successRate"` // percent, 1 decimal
	Errors      []string `json:"validationErrors"`
}

// ValidationResult partitions a batch into accepted and rejected listings.
type ValidationResult struct {
	Valid   []models.Listing
	Invalid []InvalidListing
	Stats   ValidationStats
}

// ValidateListing runs every check independently and returns one distinct
// reason per failing check. A listing is valid iff the result is empty.
func (v *Validator) ValidateListing(l models.Listing, q models.Query) []string {
	var reasons []string

	if l.ID == "" {
		reasons = append(reasons, "missing listing id")
	}
	if l.Make == "" {
		reasons = append(reasons, "missing make")
	} else if !strings.EqualFold(l.Make, q.Make) {
		reasons = append(reasons, fmt.Sprintf("make %q does not match query %q", l.Make, q.Make))
	}
	if l.Model == "" {
		reasons = append(reasons, "missing model")
	} else if !strings.EqualFold(l.Model, q.Model) {
		reasons = append(reasons, fmt.Sprintf("model %q does not match query %q", l.Model, q.Model))
	}

	maxYear := v.now().UTC().Year() + 1
	if l.Year < minListingYear || l.Year > maxYear {
		reasons = append(reasons, fmt.Sprintf("year %d outside [%d, %d]", l.Year, minListingYear, maxYear))
	}
	if l.Trim == "" {
		reasons = append(reasons, "missing trim")
	}
	if l.Price <= 0 {
		reasons = append(reasons, fmt.Sprintf("price %d is not positive", l.Price))
	}
	if l.Mileage < 0 {
		reasons = append(reasons, fmt.Sprintf("mileage %d is negative", l.Mileage))
	}
	if l.URL == "" {
		reasons = append(reasons, "missing url")
	}
	if l.ListingDate == "" {
		reasons = append(reasons, "missing listing date")
	}

	return reasons
}

// ValidateListings partitions the batch and computes its stats.
func (v *Validator) ValidateListings(listings []models.Listing, q models.Query) *ValidationResult {
	result := &ValidationResult{}

	for _, l := range listings {
		reasons := v.ValidateListing(l, q)
		if len(reasons) == 0 {
			result.Valid = append(result.Valid, l)
			continue
		}
		result.Invalid = append(result.Invalid, InvalidListing{Listing: l, Reasons: reasons})
		result.Stats.Errors = append(result.Stats.Errors,
			fmt.Sprintf("%s: %s", l.ID, strings.Join(reasons, "; ")))
	}

	result.Stats.Total = len(listings)
	result.Stats.Valid = len(result.Valid)
	result.Stats.Invalid = len(result.Invalid)
	if result.Stats.Total > 0 {
		rate := float64(result.Stats.Valid) / float64(result.Stats.Total) * 100
		result.Stats.SuccessRate = math.Round(rate*10) / 10
	} else {
		result.Stats.SuccessRate = 100
	}

	return result
}

// ShouldFailSource is a policy signal, not an enforced gate: the caller
// decides whether to discard, flag, or still persist a low-quality batch.
// The success-rate boundary is exclusive: exactly 80.0 does not fail.
func ShouldFailSource(stats ValidationStats) bool {
	return stats.Invalid >= failSourceMinInvalid && stats.SuccessRate < failSourceMinRate
}
