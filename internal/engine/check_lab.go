package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
	"github.com/bundlewatch/bundlewatch/internal/domain/evidence"
)

// labChecker resolves lab-backed elements. The earliest qualifying result
// at or after the trigger and at or before the deadline completes the
// element; with the window expired and no qualifying result the element
// is NOT_MET.
type labChecker struct {
	source evidence.Source
	logger zerolog.Logger
}

func (c *labChecker) Check(ctx context.Context, in CheckInput) CheckOutcome {
	if in.Element.DependsOn != nil {
		return c.checkRepeat(ctx, in)
	}

	results := c.query(ctx, in)
	if r, ok := earliestLab(results, in.Deadline); ok {
		return labMet(r)
	}
	if deadlinePassed(in) {
		return notMetOutcome("no qualifying result before the deadline")
	}
	return pendingOutcome()
}

// checkRepeat handles elements required only when a prerequisite element
// resolved MET with a value above the dependency threshold. Completion
// needs a second result strictly after the prerequisite's completion.
func (c *labChecker) checkRepeat(ctx context.Context, in CheckInput) CheckOutcome {
	dep := in.Element.DependsOn
	prereq := in.Episode.Result(dep.ElementID)
	if prereq == nil {
		return notApplicableOutcome(fmt.Sprintf("prerequisite %s is not tracked in this episode", dep.ElementID))
	}
	switch prereq.Status {
	case episode.ResultPending:
		return pendingOutcome()
	case episode.ResultNotMet, episode.ResultNotApplicable:
		return notApplicableOutcome(fmt.Sprintf("prerequisite %s was not met", dep.ElementID))
	}
	if prereq.Value == nil {
		return notApplicableOutcome(fmt.Sprintf("prerequisite %s carried no value", dep.ElementID))
	}
	if *prereq.Value <= dep.Threshold {
		return notApplicableOutcome(fmt.Sprintf("prerequisite value %.1f did not exceed %.1f", *prereq.Value, dep.Threshold))
	}
	if prereq.CompletedAt == nil {
		return pendingOutcome()
	}

	for _, r := range c.query(ctx, in) {
		if !r.EffectiveTime.After(*prereq.CompletedAt) {
			continue
		}
		if !onTime(r.EffectiveTime, in.Deadline) {
			continue
		}
		return labMet(r)
	}
	if deadlinePassed(in) {
		return notMetOutcome("no repeat result before the deadline")
	}
	return pendingOutcome()
}

func (c *labChecker) query(ctx context.Context, in CheckInput) []evidence.LabResult {
	results, err := c.source.LabResults(ctx, in.Episode.PatientID, in.Element.ResultCodes, in.Episode.TriggerTime)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("patient_id", in.Episode.PatientID).
			Str("element_id", in.Element.ElementID).
			Msg("lab query failed")
		return nil
	}
	return results
}

// earliestLab picks the earliest result dated at or before the deadline.
func earliestLab(results []evidence.LabResult, deadline *time.Time) (evidence.LabResult, bool) {
	var best evidence.LabResult
	found := false
	for _, r := range results {
		if !onTime(r.EffectiveTime, deadline) {
			continue
		}
		if !found || r.EffectiveTime.Before(best.EffectiveTime) {
			best = r
			found = true
		}
	}
	return best, found
}

func labMet(r evidence.LabResult) CheckOutcome {
	ts := r.EffectiveTime
	out := CheckOutcome{
		Status:      episode.ResultMet,
		CompletedAt: &ts,
		Note:        fmt.Sprintf("%s resulted", r.Code),
	}
	v := r.Value
	out.Value = &v
	if r.ValueText != "" {
		t := r.ValueText
		out.ValueText = &t
	}
	return out
}
