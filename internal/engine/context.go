// Package engine evaluates active episodes against their bundle
// definitions: it rebuilds patient context, runs the element checkers,
// persists state transitions, and emits deduplicated deviations.
package engine

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
	"github.com/bundlewatch/bundlewatch/internal/domain/evidence"
)

// Inflammatory marker thresholds: any single value beyond its threshold
// marks the panel abnormal.
const (
	pctAbnormalAbove = 0.5  // ng/mL
	ancAbnormalAbove = 4000 // cells/uL
	crpAbnormalAbove = 2.0  // mg/dL

	urineWBCAbnormalAt = 5 // per HPF
)

// Lab codes consulted while deriving context flags.
var contextLabCodes = []string{
	"procalcitonin", "anc", "crp",
	"urine_wbc", "leukocyte_esterase",
	"csf_culture", "csf_cell_count", "csf_protein", "csf_glucose",
}

var csfCodes = map[string]bool{
	"csf_culture":    true,
	"csf_cell_count": true,
	"csf_protein":    true,
	"csf_glucose":    true,
}

var dispositionHomeKeywords = []string{
	"discharged home", "discharge home", "discharged to home", "going home",
}

var dispositionAdmitKeywords = []string{
	"admit", "admitted", "admission", "inpatient", "transfer",
}

// ContextBuilder derives the PatientContext conditional elements branch
// on. It is rebuilt for every episode on every cycle because the
// underlying evidence accrues over time; a query failure leaves the
// affected flags at their zero values and is retried next cycle.
type ContextBuilder struct {
	source evidence.Source
	logger zerolog.Logger
}

func NewContextBuilder(source evidence.Source, logger zerolog.Logger) *ContextBuilder {
	return &ContextBuilder{source: source, logger: logger}
}

// Build assembles the context for one episode.
func (b *ContextBuilder) Build(ctx context.Context, ep *episode.Episode) bundle.PatientContext {
	pc := bundle.PatientContext{AgeDays: b.ageDays(ctx, ep)}
	pc.AgeGroup = bundle.AgeGroupForDays(pc.AgeDays)

	labs, err := b.source.LabResults(ctx, ep.PatientID, contextLabCodes, ep.TriggerTime)
	if err != nil {
		b.logger.Warn().Err(err).
			Str("patient_id", ep.PatientID).
			Msg("context lab query failed")
	}
	for _, r := range labs {
		switch r.Code {
		case "procalcitonin":
			if r.Value > pctAbnormalAbove {
				pc.InflammatoryMarkersAbnormal = true
			}
		case "anc":
			if r.Value > ancAbnormalAbove {
				pc.InflammatoryMarkersAbnormal = true
			}
		case "crp":
			if r.Value > crpAbnormalAbove {
				pc.InflammatoryMarkersAbnormal = true
			}
		case "urine_wbc":
			if r.Value >= urineWBCAbnormalAt {
				pc.UAAbnormal = true
			}
		case "leukocyte_esterase":
			if positiveQualitative(r.ValueText) {
				pc.UAAbnormal = true
			}
		}
		if csfCodes[r.Code] {
			pc.LPPerformed = true
		}
	}

	notes, err := b.source.RecentNotes(ctx, ep.PatientID, ep.TriggerTime, nil)
	if err != nil {
		b.logger.Warn().Err(err).
			Str("patient_id", ep.PatientID).
			Msg("context note query failed")
	}
	for _, n := range notes {
		text := strings.ToLower(n.Text)
		if containsAny(text, dispositionHomeKeywords) {
			pc.DispositionKnown = true
			pc.DispositionHome = true
			break
		}
		if containsAny(text, dispositionAdmitKeywords) {
			pc.DispositionKnown = true
		}
	}
	return pc
}

// ageDays prefers the age recorded at trigger intake and falls back to
// demographics. Negative spans (birth date after trigger) read as unknown.
func (b *ContextBuilder) ageDays(ctx context.Context, ep *episode.Episode) *int {
	if ep.AgeDays != nil {
		return ep.AgeDays
	}
	p, err := b.source.Patient(ctx, ep.PatientID)
	if err != nil {
		b.logger.Warn().Err(err).
			Str("patient_id", ep.PatientID).
			Msg("patient demographics query failed")
		return nil
	}
	if p == nil || p.BirthDate == nil {
		return nil
	}
	days := int(ep.TriggerTime.Sub(*p.BirthDate).Hours() / 24)
	if days < 0 {
		return nil
	}
	return &days
}

// positiveQualitative reports whether a qualitative result text reads as
// positive ("positive", "1+", "2+", ...).
func positiveQualitative(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	if strings.Contains(t, "positive") {
		return true
	}
	return strings.HasSuffix(t, "+")
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// ageYears converts an age in days for threshold formulas.
func ageYears(ageDays *int) float64 {
	if ageDays == nil {
		return 0
	}
	return float64(*ageDays) / 365.25
}
