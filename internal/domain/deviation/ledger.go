package deviation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Ledger emits deviations at most once per (episode, element). Checks run
// through three tiers in order: the in-process seen set, the durable
// marker row, and the alert sink's history with resolved alerts included.
// The marker row is written before the alert is pushed, so a failed push
// is never retried; the deviation record itself survives in the marker
// table either way.
type Ledger struct {
	markers MarkerRepository
	sink    AlertSink
	logger  zerolog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

func NewLedger(markers MarkerRepository, sink AlertSink, logger zerolog.Logger) *Ledger {
	return &Ledger{
		markers: markers,
		sink:    sink,
		logger:  logger,
		seen:    make(map[string]bool),
	}
}

// EmitOnce records and publishes the deviation unless any dedup tier has
// seen its key before. Returns true only when an alert was actually saved.
// Marker persistence failures degrade to in-process dedup for the life of
// the process; nothing here is fatal to an evaluation cycle.
func (l *Ledger) EmitOnce(ctx context.Context, d *Deviation) bool {
	key := d.Key()

	l.mu.Lock()
	if l.seen[key] {
		l.mu.Unlock()
		return false
	}
	l.mu.Unlock()

	inserted, err := l.markers.Insert(ctx, d)
	if err != nil {
		l.logger.Error().Err(err).
			Str("episode_id", d.EpisodeID.String()).
			Str("element_id", d.ElementID).
			Msg("deviation marker insert failed, falling back to in-process dedup")
	} else if !inserted {
		l.markSeen(key)
		return false
	}

	alerted, err := l.sink.AlreadyAlerted(ctx, AlertKindDeviation, key, true)
	if err != nil {
		l.logger.Warn().Err(err).
			Str("source_id", key).
			Msg("alert history check failed, emitting anyway")
	} else if alerted {
		l.markSeen(key)
		return false
	}

	alertID, err := l.sink.SaveAlert(ctx, d.toAlert())
	if err != nil {
		l.logger.Error().Err(err).
			Str("source_id", key).
			Msg("alert save failed, deviation recorded without notification")
		l.markSeen(key)
		return false
	}
	if err := l.sink.MarkSent(ctx, alertID); err != nil {
		l.logger.Warn().Err(err).
			Str("alert_id", alertID).
			Msg("failed to mark alert sent")
	}

	l.markSeen(key)
	l.logger.Info().
		Str("episode_id", d.EpisodeID.String()).
		Str("element_id", d.ElementID).
		Str("bundle_id", d.BundleID).
		Str("severity", d.Severity).
		Str("alert_id", alertID).
		Msg("deviation emitted")
	return true
}

func (l *Ledger) markSeen(key string) {
	l.mu.Lock()
	l.seen[key] = true
	l.mu.Unlock()
}
