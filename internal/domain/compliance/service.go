package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
)

// DefaultWindow is the trailing reporting window applied when the caller
// does not name one.
const DefaultWindow = 30 * 24 * time.Hour

// EpisodeSource is the slice of episode storage the aggregator reads.
type EpisodeSource interface {
	ListByBundleSince(ctx context.Context, bundleID string, since time.Time) ([]*episode.Episode, error)
}

// Catalog resolves bundle definitions.
type Catalog interface {
	Get(bundleID string) (*bundle.GuidelineBundle, error)
}

type Service struct {
	episodes EpisodeSource
	catalog  Catalog
	logger   zerolog.Logger

	// Now returns the current time. Swapped in tests.
	Now func() time.Time
}

func NewService(episodes EpisodeSource, catalog Catalog, logger zerolog.Logger) *Service {
	return &Service{
		episodes: episodes,
		catalog:  catalog,
		logger:   logger,
		Now:      time.Now,
	}
}

// BuildReport aggregates every episode of the bundle triggered within the
// trailing window. A non-positive window falls back to DefaultWindow.
func (s *Service) BuildReport(ctx context.Context, bundleID string, window time.Duration) (*Report, error) {
	b, err := s.catalog.Get(bundleID)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		window = DefaultWindow
	}
	now := s.Now()
	since := now.Add(-window)

	episodes, err := s.episodes.ListByBundleSince(ctx, bundleID, since)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}

	stats := make(map[string]*ElementStat, len(b.Elements))
	order := make([]string, 0, len(b.Elements))
	for _, el := range b.Elements {
		stats[el.ElementID] = &ElementStat{ElementID: el.ElementID, Name: el.Name}
		order = append(order, el.ElementID)
	}

	report := &Report{
		BundleID:    b.BundleID,
		BundleName:  b.Name,
		WindowStart: since,
		GeneratedAt: now,
	}
	for _, ep := range episodes {
		ea := &EpisodeAdherence{
			EpisodeID:   ep.ID,
			PatientID:   ep.PatientID,
			TriggerTime: ep.TriggerTime,
			Status:      ep.Status,
		}
		for _, r := range ep.Results {
			st, ok := stats[r.ElementID]
			if !ok {
				// Results recorded under an element since removed from the
				// catalog still count toward the episode figures.
				st = &ElementStat{ElementID: r.ElementID, Name: r.ElementID}
				stats[r.ElementID] = st
				order = append(order, r.ElementID)
			}
			switch r.Status {
			case episode.ResultMet:
				st.Met++
				ea.Met++
			case episode.ResultNotMet:
				st.NotMet++
				ea.NotMet++
			case episode.ResultPending:
				st.Pending++
				ea.Pending++
			case episode.ResultNotApplicable:
				st.NotApplicable++
				ea.NotApplicable++
			}
		}
		ea.AdherencePct = rate(ea.Met, ea.Met+ea.NotMet)
		ea.OverallAdherencePct = rate(ea.Met, ea.Met+ea.NotMet+ea.Pending)
		report.Episodes = append(report.Episodes, ea)
	}
	for _, id := range order {
		st := stats[id]
		st.ComplianceRate = rate(st.Met, st.Met+st.NotMet)
		report.Elements = append(report.Elements, st)
	}
	report.EpisodeCount = len(report.Episodes)

	s.logger.Debug().
		Str("bundle_id", bundleID).
		Int("episodes", report.EpisodeCount).
		Time("since", since).
		Msg("compliance report built")
	return report, nil
}

// rate returns num/den as a percentage, or nil when the denominator is
// zero and the figure is undefined.
func rate(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den) * 100
	return &v
}
