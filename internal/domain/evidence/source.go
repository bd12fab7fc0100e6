package evidence

import (
	"context"
	"time"
)

// Source is the evidence query interface consumed by the evaluation engine.
// Implementations must scope every query to events at or after since; the
// caller applies its own upper bound (element deadlines) on the results.
//
// A failed query is never fatal to an evaluation cycle: callers treat an
// error the same as "no qualifying evidence yet" and retry next cycle.
type Source interface {
	// LabResults returns resulted labs for the patient whose canonical code
	// is in codes, in effective-time order.
	LabResults(ctx context.Context, patientID string, codes []string, since time.Time) ([]LabResult, error)

	// MedicationAdministrations returns medications administered at or
	// after since, in administration-time order.
	MedicationAdministrations(ctx context.Context, patientID string, since time.Time) ([]MedicationAdministration, error)

	// VitalSigns returns vital sign measurements at or after since.
	VitalSigns(ctx context.Context, patientID string, since time.Time) ([]VitalSign, error)

	// RecentNotes returns notes dated at or after since. An empty types
	// slice means all note types.
	RecentNotes(ctx context.Context, patientID string, since time.Time, types []string) ([]Note, error)

	// Patient fetches demographics for the patient.
	Patient(ctx context.Context, patientID string) (*Patient, error)
}
