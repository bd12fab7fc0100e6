package episode

import (
	"context"
	"time"
)

// Trigger describes a patient newly matching a bundle's entry criteria.
type Trigger struct {
	PatientID   string    `json:"patient_id"`
	EncounterID string    `json:"encounter_id"`
	OnsetTime   time.Time `json:"onset_time"`
	AgeDays     *int      `json:"age_days,omitempty"`
}

// TriggerFinder locates patients who should open an episode for a bundle.
// Externally pushed triggers arrive through the episode intake endpoint;
// this interface is for in-process finders polling an upstream system.
type TriggerFinder interface {
	FindTriggers(ctx context.Context, bundleID string) ([]Trigger, error)
}
