package episode

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/platform/db"
)

// Catalog is the subset of the bundle catalog the episode service needs.
type Catalog interface {
	Get(bundleID string) (*bundle.GuidelineBundle, error)
}

type Service struct {
	episodes EpisodeRepository
	results  ElementResultRepository
	catalog  Catalog
	pool     *pgxpool.Pool
	logger   zerolog.Logger
}

// NewService wires the episode service. Pool may be nil in tests; episode
// and result writes then run outside a transaction.
func NewService(episodes EpisodeRepository, results ElementResultRepository, catalog Catalog, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{episodes: episodes, results: results, catalog: catalog, pool: pool, logger: logger}
}

func (s *Service) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

// CreateEpisode opens an episode for a trigger, initializing one PENDING
// element result per bundle element with its deadline fixed from the
// trigger time. Re-submitting the same (patient, encounter, bundle)
// identity returns the existing episode with created=false; nothing is
// duplicated.
func (s *Service) CreateEpisode(ctx context.Context, e *Episode) (*Episode, bool, error) {
	if e.PatientID == "" {
		return nil, false, fmt.Errorf("patient_id is required")
	}
	if e.EncounterID == "" {
		return nil, false, fmt.Errorf("encounter_id is required")
	}
	if e.BundleID == "" {
		return nil, false, fmt.Errorf("bundle_id is required")
	}
	if e.TriggerTime.IsZero() {
		return nil, false, fmt.Errorf("trigger_time is required")
	}
	b, err := s.catalog.Get(e.BundleID)
	if err != nil {
		return nil, false, fmt.Errorf("unknown bundle: %s", e.BundleID)
	}
	e.Status = StatusActive

	txErr := s.withTx(ctx, func(ctx context.Context) error {
		if err := s.episodes.Create(ctx, e); err != nil {
			return err
		}
		results := make([]*ElementCheckResult, 0, len(b.Elements))
		for _, el := range b.Elements {
			results = append(results, &ElementCheckResult{
				EpisodeID: e.ID,
				ElementID: el.ElementID,
				Status:    ResultPending,
				Deadline:  bundle.Deadline(e.TriggerTime, el.TimeWindowHours),
			})
		}
		if err := s.results.CreateBatch(ctx, results); err != nil {
			return fmt.Errorf("create element results: %w", err)
		}
		e.Results = results
		return nil
	})
	if errors.Is(txErr, ErrDuplicate) {
		existing, err := s.episodes.GetByIdentity(ctx, e.PatientID, e.EncounterID, e.BundleID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if txErr != nil {
		return nil, false, txErr
	}

	s.logger.Info().
		Str("episode_id", e.ID.String()).
		Str("bundle_id", e.BundleID).
		Str("patient_id", e.PatientID).
		Time("trigger_time", e.TriggerTime).
		Msg("episode opened")
	return e, true, nil
}

func (s *Service) GetEpisode(ctx context.Context, id uuid.UUID) (*Episode, error) {
	return s.episodes.GetByID(ctx, id)
}

func (s *Service) SearchEpisodes(ctx context.Context, params map[string]string, limit, offset int) ([]*Episode, int, error) {
	return s.episodes.Search(ctx, params, limit, offset)
}

func (s *Service) ListActiveEpisodes(ctx context.Context) ([]*Episode, error) {
	return s.episodes.ListActive(ctx)
}

// CloseEpisode marks an episode CLOSED on an external signal such as
// discharge. Closing an already closed episode is a no-op.
func (s *Service) CloseEpisode(ctx context.Context, id uuid.UUID) (*Episode, error) {
	e, err := s.episodes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status == StatusClosed {
		return e, nil
	}
	if err := s.episodes.UpdateStatus(ctx, id, StatusClosed); err != nil {
		return nil, err
	}
	e.Status = StatusClosed
	s.logger.Info().
		Str("episode_id", id.String()).
		Str("bundle_id", e.BundleID).
		Int("pending", e.PendingCount()).
		Msg("episode closed")
	return e, nil
}

// IngestTriggers pulls triggers from a finder and opens episodes for them.
// Individual trigger failures are logged and skipped. Returns the number
// of episodes actually created.
func (s *Service) IngestTriggers(ctx context.Context, finder TriggerFinder, bundleID string) (int, error) {
	triggers, err := finder.FindTriggers(ctx, bundleID)
	if err != nil {
		return 0, fmt.Errorf("find triggers: %w", err)
	}
	created := 0
	for _, t := range triggers {
		e := &Episode{
			PatientID:   t.PatientID,
			EncounterID: t.EncounterID,
			BundleID:    bundleID,
			TriggerTime: t.OnsetTime,
			AgeDays:     t.AgeDays,
		}
		_, isNew, err := s.CreateEpisode(ctx, e)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("patient_id", t.PatientID).
				Str("bundle_id", bundleID).
				Msg("skipping trigger")
			continue
		}
		if isNew {
			created++
		}
	}
	return created, nil
}
