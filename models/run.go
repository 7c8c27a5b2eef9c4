package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ScrapeRun is the operational record of one source's portion of a run.
type ScrapeRun struct {
	ID            int64      `json:"id" db:"id"`
	RunID         uuid.UUID  `json:"run_id" db:"run_id"`
	Source        string     `json:"source" db:"source"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	ListingsFound int        `json:"listings_found" db:"listings_found"`
	ListingsValid int        `json:"listings_valid" db:"listings_valid"`
	ErrorsCount   int        `json:"errors_count" db:"errors_count"`
}

// PairResult identifies one (source, query) unit of work in a run summary.
type PairResult struct {
	Source   string `json:"source"`
	Query    string `json:"query"` // "Make Model"
	Listings int    `json:"listings,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RunSummary is the user-visible outcome of a full run. A failed pair never
// aborts the run; it is recorded here instead.
type RunSummary struct {
	RunID     uuid.UUID    `json:"run_id"`
	StartedAt time.Time    `json:"started_at"`
	Succeeded []PairResult `json:"succeeded"`
	Failed    []PairResult `json:"failed"`
}

func (s *RunSummary) Key(source, queryLabel string) string {
	return source + ":" + queryLabel
}
