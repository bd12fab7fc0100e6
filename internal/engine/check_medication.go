package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
	"github.com/bundlewatch/bundlewatch/internal/domain/evidence"
)

// Medication classification lists. Matching is a lowercase substring
// check against the administered drug name.
var broadSpectrumAntibiotics = []string{
	"ceftriaxone", "cefepime", "vancomycin", "ampicillin", "gentamicin",
	"cefotaxime", "piperacillin-tazobactam", "meropenem", "ceftazidime",
}

var crystalloidFluids = []string{
	"normal saline", "0.9% sodium chloride", "lactated ringer",
}

var hsvAntivirals = []string{"acyclovir"}

// Shock criteria thresholds. Lactate above the limit, or a systolic or
// mean arterial pressure under the age-adjusted floor, qualifies.
const (
	shockLactateAbove = 4.0
	minBolusVolumeML  = 100
)

// medicationChecker resolves medication-backed elements: broad-spectrum
// antibiotics, crystalloid boluses, and empiric antivirals.
type medicationChecker struct {
	source evidence.Source
	logger zerolog.Logger
}

func (c *medicationChecker) Check(ctx context.Context, in CheckInput) CheckOutcome {
	meds := c.query(ctx, in)
	switch in.Element.MedicationCategory {
	case bundle.MedCategoryBroadSpectrumAntibiotic:
		return c.classified(in, meds, broadSpectrumAntibiotics)
	case bundle.MedCategoryFluidBolus:
		return c.checkFluidBolus(ctx, in, meds)
	case bundle.MedCategoryAntiviralHSV:
		return c.classified(in, meds, hsvAntivirals)
	default:
		c.logger.Warn().
			Str("element_id", in.Element.ElementID).
			Str("category", in.Element.MedicationCategory).
			Msg("unknown medication category")
		return CheckOutcome{
			Status: episode.ResultPending,
			Note:   fmt.Sprintf("no classifier for medication category %q", in.Element.MedicationCategory),
		}
	}
}

// classified completes on the earliest administration whose name matches
// the category list.
func (c *medicationChecker) classified(in CheckInput, meds []evidence.MedicationAdministration, names []string) CheckOutcome {
	if m, ok := earliestMedication(meds, in.Deadline, func(m evidence.MedicationAdministration) bool {
		return matchesMedication(m.Name, names)
	}); ok {
		return medicationMet(m)
	}
	if deadlinePassed(in) {
		return notMetOutcome("no qualifying administration before the deadline")
	}
	return pendingOutcome()
}

// checkFluidBolus is conditionally required: within the window a given
// bolus completes the element outright, but absence only matters for
// patients meeting shock criteria, so the shock assessment is deferred
// to window expiry.
func (c *medicationChecker) checkFluidBolus(ctx context.Context, in CheckInput, meds []evidence.MedicationAdministration) CheckOutcome {
	if m, ok := earliestMedication(meds, in.Deadline, func(m evidence.MedicationAdministration) bool {
		return matchesMedication(m.Name, crystalloidFluids) && isBolusDose(m.Dose)
	}); ok {
		return medicationMet(m)
	}
	if !deadlinePassed(in) {
		return pendingOutcome()
	}
	if c.shockCriteriaMet(ctx, in) {
		return notMetOutcome("shock criteria met and no crystalloid bolus given")
	}
	return notApplicableOutcome("shock criteria not met within the window")
}

// shockCriteriaMet scans window-scoped vitals and lactate values against
// age-adjusted thresholds.
func (c *medicationChecker) shockCriteriaMet(ctx context.Context, in CheckInput) bool {
	years := ageYears(in.Context.AgeDays)
	sbpFloor := 70.0
	if years >= 1 {
		sbpFloor = 70 + 2*years
	}
	mapFloor := 1.5*years + 40

	vitals, err := c.source.VitalSigns(ctx, in.Episode.PatientID, in.Episode.TriggerTime)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("patient_id", in.Episode.PatientID).
			Msg("vital sign query failed")
	}
	for _, v := range vitals {
		if !onTime(v.EffectiveTime, in.Deadline) {
			continue
		}
		switch v.Code {
		case evidence.VitalSystolicBP:
			if v.Value < sbpFloor {
				return true
			}
		case evidence.VitalMeanArtPres:
			if v.Value < mapFloor {
				return true
			}
		}
	}

	labs, err := c.source.LabResults(ctx, in.Episode.PatientID, []string{"lactate"}, in.Episode.TriggerTime)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("patient_id", in.Episode.PatientID).
			Msg("lactate query failed")
	}
	for _, r := range labs {
		if onTime(r.EffectiveTime, in.Deadline) && r.Value > shockLactateAbove {
			return true
		}
	}
	return false
}

func (c *medicationChecker) query(ctx context.Context, in CheckInput) []evidence.MedicationAdministration {
	meds, err := c.source.MedicationAdministrations(ctx, in.Episode.PatientID, in.Episode.TriggerTime)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("patient_id", in.Episode.PatientID).
			Str("element_id", in.Element.ElementID).
			Msg("medication query failed")
		return nil
	}
	return meds
}

func earliestMedication(meds []evidence.MedicationAdministration, deadline *time.Time, match func(evidence.MedicationAdministration) bool) (evidence.MedicationAdministration, bool) {
	var best evidence.MedicationAdministration
	found := false
	for _, m := range meds {
		if !match(m) || !onTime(m.AdminTime, deadline) {
			continue
		}
		if !found || m.AdminTime.Before(best.AdminTime) {
			best = m
			found = true
		}
	}
	return best, found
}

func medicationMet(m evidence.MedicationAdministration) CheckOutcome {
	ts := m.AdminTime
	name := m.Name
	return CheckOutcome{
		Status:      episode.ResultMet,
		CompletedAt: &ts,
		ValueText:   &name,
		Note:        strings.TrimSpace(m.Name + " " + m.Dose),
	}
}

func matchesMedication(name string, candidates []string) bool {
	n := strings.ToLower(name)
	for _, c := range candidates {
		if strings.Contains(n, c) {
			return true
		}
	}
	return false
}

// isBolusDose distinguishes a rapid bolus from maintenance fluids:
// weight-based dosing or an absolute volume of at least 100 mL counts,
// rate-based orders do not.
func isBolusDose(dose string) bool {
	d := strings.ToLower(strings.TrimSpace(dose))
	if d == "" {
		return false
	}
	if strings.Contains(d, "/hr") || strings.Contains(d, "/hour") {
		return false
	}
	if strings.Contains(d, "/kg") {
		return true
	}
	num := leadingNumber(d)
	return num >= minBolusVolumeML
}

// leadingNumber parses the numeric prefix of a dose string, 0 if none.
func leadingNumber(s string) float64 {
	end := 0
	for end < len(s) {
		ch := s[end]
		if (ch >= '0' && ch <= '9') || ch == '.' {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}
