package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
	"github.com/bundlewatch/bundlewatch/internal/domain/evidence"
)

var testTrigger = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// at returns the instant h hours after the trigger.
func at(h float64) time.Time {
	return testTrigger.Add(time.Duration(h * float64(time.Hour)))
}

func wh(h float64) *float64 { return &h }

func intPtr(d int) *int { return &d }

func contextEpisode(ageDays *int) *episode.Episode {
	return &episode.Episode{
		ID:          uuid.New(),
		PatientID:   "pat-1",
		EncounterID: "enc-1",
		BundleID:    "febrile_infant",
		TriggerTime: testTrigger,
		Status:      episode.StatusActive,
		AgeDays:     ageDays,
	}
}

func TestContextBuilder_AgeFromEpisode(t *testing.T) {
	src := evidence.NewMockSource()
	b := NewContextBuilder(src, zerolog.Nop())

	pc := b.Build(context.Background(), contextEpisode(intPtr(15)))
	if pc.AgeDays == nil || *pc.AgeDays != 15 {
		t.Fatalf("expected age 15, got %v", pc.AgeDays)
	}
	if pc.AgeGroup != bundle.AgeGroup8To21 {
		t.Errorf("expected group 8-21, got %s", pc.AgeGroup)
	}
	// The recorded age short-circuits the demographics lookup.
	for _, call := range src.Calls() {
		if strings.HasPrefix(call, "Patient:") {
			t.Errorf("unexpected demographics call: %s", call)
		}
	}
}

func TestContextBuilder_AgeFromBirthDate(t *testing.T) {
	src := evidence.NewMockSource()
	birth := testTrigger.AddDate(0, 0, -25)
	src.SetPatient(&evidence.Patient{ID: "pat-1", BirthDate: &birth})
	b := NewContextBuilder(src, zerolog.Nop())

	pc := b.Build(context.Background(), contextEpisode(nil))
	if pc.AgeDays == nil || *pc.AgeDays != 25 {
		t.Fatalf("expected age 25, got %v", pc.AgeDays)
	}
	if pc.AgeGroup != bundle.AgeGroup22To28 {
		t.Errorf("expected group 22-28, got %s", pc.AgeGroup)
	}
}

func TestContextBuilder_AgeUnknown(t *testing.T) {
	src := evidence.NewMockSource()
	b := NewContextBuilder(src, zerolog.Nop())

	pc := b.Build(context.Background(), contextEpisode(nil))
	if pc.AgeDays != nil {
		t.Errorf("expected unknown age, got %v", *pc.AgeDays)
	}
	if pc.AgeGroup != bundle.AgeGroupUnknown {
		t.Errorf("expected unknown group, got %s", pc.AgeGroup)
	}
}

func TestContextBuilder_BirthAfterTriggerIsUnknown(t *testing.T) {
	src := evidence.NewMockSource()
	birth := testTrigger.AddDate(0, 0, 3)
	src.SetPatient(&evidence.Patient{ID: "pat-1", BirthDate: &birth})
	b := NewContextBuilder(src, zerolog.Nop())

	pc := b.Build(context.Background(), contextEpisode(nil))
	if pc.AgeDays != nil {
		t.Errorf("expected unknown age for future birth date, got %v", *pc.AgeDays)
	}
}

func TestContextBuilder_SourceErrorYieldsZeroFlags(t *testing.T) {
	src := evidence.NewMockSource()
	src.Err = errors.New("connection refused")
	b := NewContextBuilder(src, zerolog.Nop())

	pc := b.Build(context.Background(), contextEpisode(nil))
	if pc.AgeDays != nil || pc.InflammatoryMarkersAbnormal || pc.UAAbnormal || pc.LPPerformed || pc.DispositionKnown {
		t.Errorf("expected zero-value context, got %+v", pc)
	}
}

func TestContextBuilder_InflammatoryMarkers(t *testing.T) {
	cases := []struct {
		name     string
		code     string
		value    float64
		abnormal bool
	}{
		{"pct above threshold", "procalcitonin", 0.6, true},
		{"pct at threshold", "procalcitonin", 0.5, false},
		{"anc above threshold", "anc", 4500, true},
		{"anc at threshold", "anc", 4000, false},
		{"crp above threshold", "crp", 2.5, true},
		{"crp normal", "crp", 0.5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := evidence.NewMockSource()
			src.AddLab(evidence.LabResult{Code: tc.code, Value: tc.value, EffectiveTime: at(1)})
			b := NewContextBuilder(src, zerolog.Nop())

			pc := b.Build(context.Background(), contextEpisode(intPtr(20)))
			if pc.InflammatoryMarkersAbnormal != tc.abnormal {
				t.Errorf("expected abnormal=%v for %s=%v", tc.abnormal, tc.code, tc.value)
			}
		})
	}
}

func TestContextBuilder_UAAbnormal(t *testing.T) {
	cases := []struct {
		name     string
		lab      evidence.LabResult
		abnormal bool
	}{
		{"wbc at threshold", evidence.LabResult{Code: "urine_wbc", Value: 5, EffectiveTime: at(1)}, true},
		{"wbc below threshold", evidence.LabResult{Code: "urine_wbc", Value: 4, EffectiveTime: at(1)}, false},
		{"esterase positive", evidence.LabResult{Code: "leukocyte_esterase", ValueText: "Positive", EffectiveTime: at(1)}, true},
		{"esterase graded", evidence.LabResult{Code: "leukocyte_esterase", ValueText: "2+", EffectiveTime: at(1)}, true},
		{"esterase negative", evidence.LabResult{Code: "leukocyte_esterase", ValueText: "negative", EffectiveTime: at(1)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := evidence.NewMockSource()
			src.AddLab(tc.lab)
			b := NewContextBuilder(src, zerolog.Nop())

			pc := b.Build(context.Background(), contextEpisode(intPtr(20)))
			if pc.UAAbnormal != tc.abnormal {
				t.Errorf("expected abnormal=%v, got %v", tc.abnormal, pc.UAAbnormal)
			}
		})
	}
}

func TestContextBuilder_LPPerformed(t *testing.T) {
	src := evidence.NewMockSource()
	src.AddLab(evidence.LabResult{Code: "csf_protein", Value: 45, EffectiveTime: at(4)})
	b := NewContextBuilder(src, zerolog.Nop())

	pc := b.Build(context.Background(), contextEpisode(intPtr(20)))
	if !pc.LPPerformed {
		t.Error("expected LP performed")
	}
}

func TestContextBuilder_Disposition(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		known bool
		home  bool
	}{
		{"discharged home", "Stable overnight, discharged home with parents.", true, true},
		{"admitted", "Admitted to inpatient unit for monitoring.", true, false},
		{"no disposition", "Tolerating feeds, afebrile this morning.", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := evidence.NewMockSource()
			src.AddNote(evidence.Note{Type: "progress", Date: at(20), Text: tc.text})
			b := NewContextBuilder(src, zerolog.Nop())

			pc := b.Build(context.Background(), contextEpisode(intPtr(20)))
			if pc.DispositionKnown != tc.known || pc.DispositionHome != tc.home {
				t.Errorf("expected known=%v home=%v, got known=%v home=%v",
					tc.known, tc.home, pc.DispositionKnown, pc.DispositionHome)
			}
		})
	}
}

func TestPositiveQualitative(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"positive", true},
		{"POSITIVE", true},
		{"1+", true},
		{"trace positive", true},
		{"negative", false},
		{"", false},
		{"not detected", false},
	}
	for _, tc := range cases {
		if got := positiveQualitative(tc.text); got != tc.want {
			t.Errorf("positiveQualitative(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
