// Package evidence answers time-scoped clinical evidence queries for a
// patient: lab results, medication administrations, vital signs, and
// clinical notes. The engine treats every query as a read-only snapshot;
// nothing in this package mutates clinical data.
package evidence

import "time"

// LabResult is a single resulted laboratory observation. Quantitative
// results carry Value/Unit; qualitative results (culture growth, dipstick
// leukocyte esterase) carry ValueText.
type LabResult struct {
	Code          string    `json:"code"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit,omitempty"`
	ValueText     string    `json:"value_text,omitempty"`
	EffectiveTime time.Time `json:"effective_time"`
}

// MedicationAdministration records a medication actually given, not ordered.
type MedicationAdministration struct {
	Name      string    `json:"name"`
	Dose      string    `json:"dose,omitempty"`
	Route     string    `json:"route,omitempty"`
	AdminTime time.Time `json:"admin_time"`
}

// VitalSign is a single vital sign measurement.
type VitalSign struct {
	Code          string    `json:"code"`
	Value         float64   `json:"value"`
	EffectiveTime time.Time `json:"effective_time"`
}

// Note is a clinical document or note entry.
type Note struct {
	Type string    `json:"type"`
	Date time.Time `json:"date"`
	Text string    `json:"text"`
}

// Patient carries the demographics the engine needs. BirthDate is nil when
// the source does not know it; age-dependent logic must tolerate that.
type Patient struct {
	ID        string     `json:"id"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Gender    string     `json:"gender,omitempty"`
	Name      string     `json:"name,omitempty"`
}

// Canonical vital sign codes produced by the FHIR adapter.
const (
	VitalSystolicBP  = "systolic_bp"
	VitalMeanArtPres = "mean_arterial_pressure"
	VitalHeartRate   = "heart_rate"
	VitalTemperature = "temperature"
)
