// Package deviation records guideline deviations and pushes them to an
// alerting service, with three dedup tiers guaranteeing at most one alert
// per (episode, element) across restarts: an in-process set, a durable
// marker row, and the alert sink's own history including resolved alerts.
package deviation

import (
	"time"

	"github.com/google/uuid"
)

// Deviation maps to the deviation_markers table. A row is both the durable
// dedup marker for its (episode_id, element_id) key and the emitted
// deviation record served by the API.
type Deviation struct {
	EpisodeID      uuid.UUID `db:"episode_id" json:"episode_id"`
	ElementID      string    `db:"element_id" json:"element_id"`
	BundleID       string    `db:"bundle_id" json:"bundle_id"`
	PatientID      string    `db:"patient_id" json:"patient_id"`
	Severity       string    `db:"severity" json:"severity"`
	Title          string    `db:"title" json:"title"`
	Description    string    `db:"description" json:"description"`
	Recommendation string    `db:"recommendation" json:"recommendation,omitempty"`
	EmittedAt      time.Time `db:"emitted_at" json:"emitted_at"`
}

// Key returns the deviation's dedup key.
func (d *Deviation) Key() string {
	return DedupKey(d.EpisodeID, d.ElementID)
}

// DedupKey builds the alert-sink source id for an (episode, element) pair.
func DedupKey(episodeID uuid.UUID, elementID string) string {
	return episodeID.String() + "_" + elementID
}

// AlertKindDeviation is the alert kind under which bundle deviations are
// filed with the alert sink.
const AlertKindDeviation = "bundle_deviation"

// Alert is the payload handed to the alerting service.
type Alert struct {
	Kind       string `json:"kind"`
	SourceID   string `json:"source_id"`
	Severity   string `json:"severity"`
	PatientRef string `json:"patient_ref"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Content    string `json:"content"`
}

func (d *Deviation) toAlert() Alert {
	return Alert{
		Kind:       AlertKindDeviation,
		SourceID:   d.Key(),
		Severity:   d.Severity,
		PatientRef: d.PatientID,
		Title:      d.Title,
		Summary:    d.Description,
		Content:    d.Recommendation,
	}
}
