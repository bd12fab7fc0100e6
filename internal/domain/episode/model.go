// Package episode tracks guideline bundle episodes: one per (patient,
// encounter, bundle) trigger, with an element check result row per bundle
// element. The evaluation engine is the only writer of element results
// after creation.
package episode

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an episode.
type Status string

const (
	// StatusActive means at least one element result is still PENDING.
	StatusActive Status = "ACTIVE"
	// StatusComplete means every element result reached a terminal state.
	StatusComplete Status = "COMPLETE"
	// StatusClosed is set by an external signal (discharge, transfer) and
	// stops further evaluation regardless of pending elements.
	StatusClosed Status = "CLOSED"
)

// ResultStatus is the adjudication state of one element within an episode.
type ResultStatus string

const (
	ResultPending       ResultStatus = "PENDING"
	ResultMet           ResultStatus = "MET"
	ResultNotMet        ResultStatus = "NOT_MET"
	ResultNotApplicable ResultStatus = "NOT_APPLICABLE"
)

// Terminal reports whether the status is final. Terminal results are never
// re-evaluated.
func (s ResultStatus) Terminal() bool {
	return s == ResultMet || s == ResultNotMet || s == ResultNotApplicable
}

// Episode maps to the episodes table.
type Episode struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   string    `db:"patient_id" json:"patient_id"`
	EncounterID string    `db:"encounter_id" json:"encounter_id"`
	BundleID    string    `db:"bundle_id" json:"bundle_id"`
	TriggerTime time.Time `db:"trigger_time" json:"trigger_time"`
	Status      Status    `db:"status" json:"status"`
	AgeDays     *int      `db:"age_days" json:"age_days,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	// Results is populated by fetches that join element results. Not a column.
	Results []*ElementCheckResult `db:"-" json:"results,omitempty"`
}

// ElementCheckResult maps to the element_check_results table. Deadline is
// fixed at creation from the trigger time and the element's window; a nil
// deadline means the element is unbounded.
type ElementCheckResult struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	EpisodeID   uuid.UUID    `db:"episode_id" json:"episode_id"`
	ElementID   string       `db:"element_id" json:"element_id"`
	Status      ResultStatus `db:"status" json:"status"`
	Deadline    *time.Time   `db:"deadline" json:"deadline,omitempty"`
	CompletedAt *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	Value       *float64     `db:"value" json:"value,omitempty"`
	ValueText   *string      `db:"value_text" json:"value_text,omitempty"`
	Notes       *string      `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// Result returns the check result for elementID, or nil.
func (e *Episode) Result(elementID string) *ElementCheckResult {
	for _, r := range e.Results {
		if r.ElementID == elementID {
			return r
		}
	}
	return nil
}

// PendingCount returns how many element results are still PENDING.
func (e *Episode) PendingCount() int {
	n := 0
	for _, r := range e.Results {
		if r.Status == ResultPending {
			n++
		}
	}
	return n
}
