// Package compliance rolls historical element check results into
// adherence rates for quality reporting.
package compliance

import (
	"time"

	"github.com/google/uuid"

	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
)

// ElementStat aggregates one bundle element across every episode in the
// reporting window. ComplianceRate scores decided results only and is
// nil until at least one result is MET or NOT_MET.
type ElementStat struct {
	ElementID      string   `json:"element_id"`
	Name           string   `json:"name"`
	Met            int      `json:"met"`
	NotMet         int      `json:"not_met"`
	Pending        int      `json:"pending"`
	NotApplicable  int      `json:"not_applicable"`
	ComplianceRate *float64 `json:"compliance_rate"`
}

// EpisodeAdherence carries both adherence figures for one episode. The
// two are distinct and must not be conflated: AdherencePct scores only
// elements already decided, while OverallAdherencePct counts pending
// elements as not yet achieved, so it can only trail AdherencePct while
// anything is still pending.
type EpisodeAdherence struct {
	EpisodeID           uuid.UUID      `json:"episode_id"`
	PatientID           string         `json:"patient_id"`
	TriggerTime         time.Time      `json:"trigger_time"`
	Status              episode.Status `json:"status"`
	Met                 int            `json:"met"`
	NotMet              int            `json:"not_met"`
	Pending             int            `json:"pending"`
	NotApplicable       int            `json:"not_applicable"`
	AdherencePct        *float64       `json:"adherence_percentage"`
	OverallAdherencePct *float64       `json:"overall_adherence_percentage"`
}

// Report is the adherence report for one bundle over a trailing window.
type Report struct {
	BundleID     string              `json:"bundle_id"`
	BundleName   string              `json:"bundle_name"`
	WindowStart  time.Time           `json:"window_start"`
	GeneratedAt  time.Time           `json:"generated_at"`
	EpisodeCount int                 `json:"episode_count"`
	Elements     []*ElementStat      `json:"elements"`
	Episodes     []*EpisodeAdherence `json:"episodes"`
}
