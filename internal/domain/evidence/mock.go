package evidence

import (
	"context"
	"sync"
	"time"
)

// MockSource is an in-memory Source for tests and local development. It
// applies the same code and since filtering a real source would, so engine
// behavior against it matches production behavior.
type MockSource struct {
	mu       sync.Mutex
	labs     []LabResult
	meds     []MedicationAdministration
	vitals   []VitalSign
	notes    []Note
	patients map[string]*Patient
	calls    []string

	// Err, when set, is returned by every query method.
	Err error
}

// NewMockSource creates an empty mock source.
func NewMockSource() *MockSource {
	return &MockSource{patients: make(map[string]*Patient)}
}

// AddLab appends a lab result to the mock's dataset.
func (m *MockSource) AddLab(r LabResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labs = append(m.labs, r)
}

// AddMedication appends a medication administration.
func (m *MockSource) AddMedication(a MedicationAdministration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meds = append(m.meds, a)
}

// AddVital appends a vital sign measurement.
func (m *MockSource) AddVital(v VitalSign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vitals = append(m.vitals, v)
}

// AddNote appends a clinical note.
func (m *MockSource) AddNote(n Note) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, n)
}

// SetPatient registers patient demographics.
func (m *MockSource) SetPatient(p *Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

// Calls returns the query methods invoked so far, as "Method:patientID".
func (m *MockSource) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockSource) LabResults(_ context.Context, patientID string, codes []string, since time.Time) ([]LabResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "LabResults:"+patientID)
	if m.Err != nil {
		return nil, m.Err
	}
	wanted := make(map[string]bool, len(codes))
	for _, c := range codes {
		wanted[c] = true
	}
	var out []LabResult
	for _, r := range m.labs {
		if wanted[r.Code] && !r.EffectiveTime.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockSource) MedicationAdministrations(_ context.Context, patientID string, since time.Time) ([]MedicationAdministration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "MedicationAdministrations:"+patientID)
	if m.Err != nil {
		return nil, m.Err
	}
	var out []MedicationAdministration
	for _, a := range m.meds {
		if !a.AdminTime.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MockSource) VitalSigns(_ context.Context, patientID string, since time.Time) ([]VitalSign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "VitalSigns:"+patientID)
	if m.Err != nil {
		return nil, m.Err
	}
	var out []VitalSign
	for _, v := range m.vitals {
		if !v.EffectiveTime.Before(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MockSource) RecentNotes(_ context.Context, patientID string, since time.Time, types []string) ([]Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "RecentNotes:"+patientID)
	if m.Err != nil {
		return nil, m.Err
	}
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	var out []Note
	for _, n := range m.notes {
		if n.Date.Before(since) {
			continue
		}
		if len(wanted) > 0 && !wanted[n.Type] {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *MockSource) Patient(_ context.Context, patientID string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "Patient:"+patientID)
	if m.Err != nil {
		return nil, m.Err
	}
	if p, ok := m.patients[patientID]; ok {
		return p, nil
	}
	return &Patient{ID: patientID}, nil
}
