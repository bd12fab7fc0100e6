package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
	"github.com/bundlewatch/bundlewatch/internal/domain/evidence"
)

// CheckInput carries everything a checker may consult for one element.
// Deadline is the absolute deadline fixed at episode creation; nil means
// the element is unbounded.
type CheckInput struct {
	Episode  *episode.Episode
	Element  *bundle.BundleElement
	Result   *episode.ElementCheckResult
	Context  bundle.PatientContext
	Now      time.Time
	Deadline *time.Time
}

// CheckOutcome is a checker's verdict for one element in one cycle.
// Pointer fields left nil keep the stored result's current value.
type CheckOutcome struct {
	Status      episode.ResultStatus
	CompletedAt *time.Time
	Value       *float64
	ValueText   *string
	Note        string
}

// Checker evaluates one element variant. Implementations never return an
// error: evidence failures read as "no qualifying evidence yet" and the
// element stays pending inside its window.
type Checker interface {
	Check(ctx context.Context, in CheckInput) CheckOutcome
}

// checkerSet dispatches on the element's data source, with an explicit
// fallback for sources no checker handles.
type checkerSet struct {
	bySource map[bundle.DataSource]Checker
	logger   zerolog.Logger
}

func newCheckerSet(source evidence.Source, logger zerolog.Logger) *checkerSet {
	return &checkerSet{
		bySource: map[bundle.DataSource]Checker{
			bundle.DataSourceLab:           &labChecker{source: source, logger: logger},
			bundle.DataSourceMedication:    &medicationChecker{source: source, logger: logger},
			bundle.DataSourceNote:          &noteChecker{source: source, logger: logger},
			bundle.DataSourceAgeStratified: &ageStratifiedChecker{source: source, logger: logger},
		},
		logger: logger,
	}
}

func (s *checkerSet) check(ctx context.Context, in CheckInput) CheckOutcome {
	c, ok := s.bySource[in.Element.DataSource]
	if !ok {
		s.logger.Warn().
			Str("element_id", in.Element.ElementID).
			Str("data_source", string(in.Element.DataSource)).
			Msg("no checker for data source")
		return CheckOutcome{
			Status: episode.ResultPending,
			Note:   fmt.Sprintf("no checker registered for data source %q", in.Element.DataSource),
		}
	}
	return c.Check(ctx, in)
}

func pendingOutcome() CheckOutcome {
	return CheckOutcome{Status: episode.ResultPending}
}

func notMetOutcome(note string) CheckOutcome {
	return CheckOutcome{Status: episode.ResultNotMet, Note: note}
}

func notApplicableOutcome(note string) CheckOutcome {
	return CheckOutcome{Status: episode.ResultNotApplicable, Note: note}
}

// deadlinePassed reports whether the element's window has expired. The
// deadline instant itself is expired: evidence dated exactly at the
// deadline is accepted, but an evaluation at that instant closes the
// window.
func deadlinePassed(in CheckInput) bool {
	return in.Deadline != nil && !in.Now.Before(*in.Deadline)
}

// onTime reports whether an evidence timestamp beats the deadline.
// Acceptance is inclusive of the deadline instant.
func onTime(ts time.Time, deadline *time.Time) bool {
	return deadline == nil || !ts.After(*deadline)
}
