package episode

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no episode matches the lookup.
	ErrNotFound = errors.New("episode not found")
	// ErrDuplicate is returned by Create when an episode with the same
	// (patient_id, encounter_id, bundle_id) identity already exists.
	ErrDuplicate = errors.New("episode already exists")
)

// EpisodeRepository persists episodes. Fetches that return episodes attach
// their element check results.
type EpisodeRepository interface {
	Create(ctx context.Context, e *Episode) error
	GetByID(ctx context.Context, id uuid.UUID) (*Episode, error)
	GetByIdentity(ctx context.Context, patientID, encounterID, bundleID string) (*Episode, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Episode, int, error)
	ListActive(ctx context.Context) ([]*Episode, error)
	ListByBundleSince(ctx context.Context, bundleID string, since time.Time) ([]*Episode, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}

// ElementResultRepository persists element check results.
type ElementResultRepository interface {
	CreateBatch(ctx context.Context, results []*ElementCheckResult) error
	ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*ElementCheckResult, error)
	Update(ctx context.Context, r *ElementCheckResult) error
}
