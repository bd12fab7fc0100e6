package deviation

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AlertSink is the alerting service the ledger publishes to. Its history
// is the authoritative dedup tier: an alert that exists there, resolved or
// not, is never re-emitted.
type AlertSink interface {
	AlreadyAlerted(ctx context.Context, kind, sourceID string, includeResolved bool) (bool, error)
	SaveAlert(ctx context.Context, a Alert) (string, error)
	MarkSent(ctx context.Context, alertID string) error
}

// LogSink is an AlertSink for development: alerts are logged, never
// delivered, and never deduplicated on the sink side.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) AlreadyAlerted(_ context.Context, _, _ string, _ bool) (bool, error) {
	return false, nil
}

func (s *LogSink) SaveAlert(_ context.Context, a Alert) (string, error) {
	id := uuid.New().String()
	s.logger.Warn().
		Str("alert_id", id).
		Str("kind", a.Kind).
		Str("source_id", a.SourceID).
		Str("severity", a.Severity).
		Str("patient_ref", a.PatientRef).
		Str("title", a.Title).
		Msg(a.Summary)
	return id, nil
}

func (s *LogSink) MarkSent(_ context.Context, _ string) error {
	return nil
}
