package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/domain/evidence"
)

// ageStratifiedChecker resolves composite assessment elements that accept
// either an empiric medication start or documented reasoning, whichever
// comes first. At window expiry the verdict depends on whether a lumbar
// puncture happened: without CSF studies the assessment was never
// expected, so the element resolves NOT_APPLICABLE rather than NOT_MET.
type ageStratifiedChecker struct {
	source evidence.Source
	logger zerolog.Logger
}

func (c *ageStratifiedChecker) Check(ctx context.Context, in CheckInput) CheckOutcome {
	meds, err := c.source.MedicationAdministrations(ctx, in.Episode.PatientID, in.Episode.TriggerTime)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("patient_id", in.Episode.PatientID).
			Str("element_id", in.Element.ElementID).
			Msg("medication query failed")
		meds = nil
	}
	medOutcome, medFound := earliestMedication(meds, in.Deadline, func(m evidence.MedicationAdministration) bool {
		return matchesMedication(m.Name, categoryNames(in.Element.MedicationCategory))
	})

	notes, err := c.source.RecentNotes(ctx, in.Episode.PatientID, in.Episode.TriggerTime, in.Element.NoteTypes)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("patient_id", in.Episode.PatientID).
			Str("element_id", in.Element.ElementID).
			Msg("note query failed")
		notes = nil
	}
	note, keyword, noteFound := firstMatchingNote(notes, in.Element.Keywords, in.Episode.TriggerTime, in.Deadline)

	switch {
	case medFound && noteFound:
		if medOutcome.AdminTime.After(note.Date) {
			return noteMet(note, keyword)
		}
		return medicationMet(medOutcome)
	case medFound:
		return medicationMet(medOutcome)
	case noteFound:
		return noteMet(note, keyword)
	}

	if !deadlinePassed(in) {
		return pendingOutcome()
	}
	if !in.Context.LPPerformed {
		return notApplicableOutcome("lumbar puncture not performed; assessment not expected")
	}
	return notMetOutcome("no risk documentation or empiric therapy before the deadline")
}

// categoryNames maps a medication category to its classification list.
func categoryNames(category string) []string {
	switch category {
	case bundle.MedCategoryBroadSpectrumAntibiotic:
		return broadSpectrumAntibiotics
	case bundle.MedCategoryFluidBolus:
		return crystalloidFluids
	case bundle.MedCategoryAntiviralHSV:
		return hsvAntivirals
	default:
		return nil
	}
}
