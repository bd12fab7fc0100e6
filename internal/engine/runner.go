package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/platform/telemetry"
)

// Runner drives periodic evaluation cycles. Cycles never overlap: each
// tick runs to completion before the next is taken.
type Runner struct {
	evaluator *Evaluator
	health    *telemetry.HealthMetricsRecorder
	logger    zerolog.Logger

	// Interval between evaluation cycles. Tune before calling Start.
	Interval time.Duration
}

// NewRunner wires a runner around the evaluator. health may be nil.
func NewRunner(evaluator *Evaluator, health *telemetry.HealthMetricsRecorder, logger zerolog.Logger) *Runner {
	return &Runner{
		evaluator: evaluator,
		health:    health,
		logger:    logger,
		Interval:  5 * time.Minute,
	}
}

// Start runs a cycle immediately and then on every tick. It blocks until
// ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.run(ctx)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("evaluation runner stopped")
			return
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

// RunOnce triggers a single evaluation cycle outside the schedule, for
// the manual evaluation endpoint and the CLI.
func (r *Runner) RunOnce(ctx context.Context) (CycleStats, error) {
	stats, err := r.evaluator.RunCycle(ctx)
	if err != nil {
		return stats, err
	}
	if r.health != nil {
		r.health.SetOpenEpisodes(int64(stats.StillActive))
	}
	return stats, nil
}

func (r *Runner) run(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Msg("evaluation cycle failed")
	}
}
