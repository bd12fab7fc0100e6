package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/domain/deviation"
	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
	"github.com/bundlewatch/bundlewatch/internal/domain/evidence"
)

// EpisodeStore is the slice of episode storage the evaluator uses.
type EpisodeStore interface {
	ListActive(ctx context.Context) ([]*episode.Episode, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status episode.Status) error
}

// ResultStore persists element result transitions.
type ResultStore interface {
	Update(ctx context.Context, r *episode.ElementCheckResult) error
}

// Catalog resolves bundle definitions.
type Catalog interface {
	Get(bundleID string) (*bundle.GuidelineBundle, error)
}

// DeviationLedger deduplicates and emits deviations. EmitOnce reports
// whether this call actually emitted.
type DeviationLedger interface {
	EmitOnce(ctx context.Context, d *deviation.Deviation) bool
}

// Telemetry receives evaluation metrics. A nil Telemetry disables them.
type Telemetry interface {
	EvalCycleCounter()
	EpisodeEvaluatedCounter()
	EvalErrorCounter()
	DeviationCounter(bundleID, elementID string)
	ObserveEvalDuration(d time.Duration)
}

// CycleStats summarizes one evaluation cycle.
type CycleStats struct {
	Episodes    int `json:"episodes"`
	Completed   int `json:"completed"`
	StillActive int `json:"still_active"`
	Deviations  int `json:"deviations"`
	Errors      int `json:"errors"`
}

// Evaluator runs the per-cycle adherence evaluation across all active
// episodes. It is the single writer of element results after creation.
type Evaluator struct {
	episodes  EpisodeStore
	results   ResultStore
	catalog   Catalog
	contexts  *ContextBuilder
	checkers  *checkerSet
	ledger    DeviationLedger
	telemetry Telemetry
	logger    zerolog.Logger

	// Clock returns the evaluation instant. Swapped in tests.
	Clock func() time.Time
}

func NewEvaluator(
	episodes EpisodeStore,
	results ResultStore,
	catalog Catalog,
	source evidence.Source,
	ledger DeviationLedger,
	telemetry Telemetry,
	logger zerolog.Logger,
) *Evaluator {
	return &Evaluator{
		episodes:  episodes,
		results:   results,
		catalog:   catalog,
		contexts:  NewContextBuilder(source, logger),
		checkers:  newCheckerSet(source, logger),
		ledger:    ledger,
		telemetry: telemetry,
		logger:    logger,
		Clock:     time.Now,
	}
}

// RunCycle evaluates every active episode once. A failure inside one
// episode is contained and counted; only failing to list the active set
// aborts the cycle.
func (ev *Evaluator) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	var stats CycleStats
	if ev.telemetry != nil {
		ev.telemetry.EvalCycleCounter()
	}

	active, err := ev.episodes.ListActive(ctx)
	if err != nil {
		if ev.telemetry != nil {
			ev.telemetry.EvalErrorCounter()
		}
		return stats, fmt.Errorf("list active episodes: %w", err)
	}

	now := ev.Clock()
	for _, ep := range active {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		stats.Episodes++
		if ev.telemetry != nil {
			ev.telemetry.EpisodeEvaluatedCounter()
		}
		out := ev.evaluateEpisode(ctx, ep, now)
		stats.Deviations += out.deviations
		if out.completed {
			stats.Completed++
		}
		if out.err != nil {
			stats.Errors++
			if ev.telemetry != nil {
				ev.telemetry.EvalErrorCounter()
			}
			ev.logger.Error().Err(out.err).
				Str("episode_id", ep.ID.String()).
				Str("bundle_id", ep.BundleID).
				Msg("episode evaluation failed")
		}
	}
	stats.StillActive = stats.Episodes - stats.Completed

	if ev.telemetry != nil {
		ev.telemetry.ObserveEvalDuration(time.Since(start))
	}
	ev.logger.Info().
		Int("episodes", stats.Episodes).
		Int("completed", stats.Completed).
		Int("deviations", stats.Deviations).
		Int("errors", stats.Errors).
		Msg("evaluation cycle finished")
	return stats, nil
}

type episodeOutcome struct {
	deviations int
	completed  bool
	err        error
}

// evaluateEpisode runs one episode through the checkers. Panics are
// recovered here so a malformed bundle or unexpected nil cannot take the
// rest of the batch down.
func (ev *Evaluator) evaluateEpisode(ctx context.Context, ep *episode.Episode, now time.Time) (out episodeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("panic: %v", r)
		}
	}()

	if ep.Status != episode.StatusActive {
		return out
	}
	b, err := ev.catalog.Get(ep.BundleID)
	if err != nil {
		out.err = fmt.Errorf("bundle %s: %w", ep.BundleID, err)
		return out
	}

	pc := ev.contexts.Build(ctx, ep)

	for i := range b.Elements {
		el := &b.Elements[i]
		r := ep.Result(el.ElementID)
		if r == nil || r.Status.Terminal() {
			continue
		}

		outcome := ev.decide(ctx, ep, el, r, pc, now)
		if applyOutcome(r, outcome, now) {
			if err := ev.results.Update(ctx, r); err != nil {
				ev.logger.Error().Err(err).
					Str("episode_id", ep.ID.String()).
					Str("element_id", r.ElementID).
					Msg("element result update failed")
			}
		}

		// Terminal results are skipped above, so a NOT_MET outcome is
		// always a fresh transition.
		if outcome.Status == episode.ResultNotMet {
			d := deviationFor(ep, el, now)
			if ev.ledger.EmitOnce(ctx, d) {
				out.deviations++
				if ev.telemetry != nil {
					ev.telemetry.DeviationCounter(ep.BundleID, el.ElementID)
				}
			}
		}
	}

	if ep.PendingCount() == 0 {
		if err := ev.episodes.UpdateStatus(ctx, ep.ID, episode.StatusComplete); err != nil {
			ev.logger.Error().Err(err).
				Str("episode_id", ep.ID.String()).
				Msg("episode status update failed")
		} else {
			ep.Status = episode.StatusComplete
			out.completed = true
			ev.logger.Info().
				Str("episode_id", ep.ID.String()).
				Str("bundle_id", ep.BundleID).
				Msg("episode complete")
		}
	}
	return out
}

// decide resolves applicability gates, then dispatches to the element's
// checker. Gates resolve in order: age group, then condition.
func (ev *Evaluator) decide(ctx context.Context, ep *episode.Episode, el *bundle.BundleElement, r *episode.ElementCheckResult, pc bundle.PatientContext, now time.Time) CheckOutcome {
	if len(el.AgeGroups) > 0 {
		if pc.AgeDays == nil {
			// Age may resolve on a later cycle once demographics load.
			return pendingOutcome()
		}
		if !ageGroupApplies(el.AgeGroups, pc.AgeGroup) {
			return notApplicableOutcome(fmt.Sprintf("age group %s outside element scope", pc.AgeGroup))
		}
	}
	if el.Condition != nil {
		if el.Condition.RequiresElement != "" {
			prereq := ep.Result(el.Condition.RequiresElement)
			if prereq == nil || prereq.Status == episode.ResultPending {
				return pendingOutcome()
			}
		}
		if el.Condition.Undecided != nil && el.Condition.Undecided(pc) {
			return pendingOutcome()
		}
		if !el.Condition.Test(pc) {
			return notApplicableOutcome(fmt.Sprintf("conditional requirement not met (%s)", el.Condition.Name))
		}
	}
	return ev.checkers.check(ctx, CheckInput{
		Episode:  ep,
		Element:  el,
		Result:   r,
		Context:  pc,
		Now:      now,
		Deadline: r.Deadline,
	})
}

func ageGroupApplies(groups []bundle.AgeGroup, g bundle.AgeGroup) bool {
	for _, candidate := range groups {
		if candidate == g {
			return true
		}
	}
	return false
}

// applyOutcome folds a checker verdict into the stored result, reporting
// whether anything changed. Unchanged results are not rewritten, so
// re-running at the same instant with the same evidence is a no-op.
func applyOutcome(r *episode.ElementCheckResult, o CheckOutcome, now time.Time) bool {
	changed := false
	if r.Status != o.Status {
		r.Status = o.Status
		changed = true
	}
	if o.CompletedAt != nil && !timePtrEqual(r.CompletedAt, o.CompletedAt) {
		r.CompletedAt = o.CompletedAt
		changed = true
	}
	if o.Value != nil && !floatPtrEqual(r.Value, o.Value) {
		r.Value = o.Value
		changed = true
	}
	if o.ValueText != nil && !stringPtrEqual(r.ValueText, o.ValueText) {
		r.ValueText = o.ValueText
		changed = true
	}
	if o.Note != "" && (r.Notes == nil || *r.Notes != o.Note) {
		note := o.Note
		r.Notes = &note
		changed = true
	}
	if changed {
		r.UpdatedAt = now
	}
	return changed
}

func deviationFor(ep *episode.Episode, el *bundle.BundleElement, now time.Time) *deviation.Deviation {
	severity := el.Severity
	if severity == "" {
		severity = "moderate"
	}
	return &deviation.Deviation{
		EpisodeID:      ep.ID,
		ElementID:      el.ElementID,
		BundleID:       ep.BundleID,
		PatientID:      ep.PatientID,
		Severity:       severity,
		Title:          "Bundle deviation: " + el.Name,
		Description:    fmt.Sprintf("%s was not completed within its time window", el.Name),
		Recommendation: el.Recommendation,
		EmittedAt:      now,
	}
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
