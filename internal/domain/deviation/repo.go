package deviation

import (
	"context"
)

// MarkerRepository persists deviation marker rows.
type MarkerRepository interface {
	// Insert stores the deviation unless its (episode_id, element_id) key
	// already exists. Returns false without error when the key was taken.
	Insert(ctx context.Context, d *Deviation) (bool, error)

	// List returns deviations ordered by emission time, newest first.
	// Supported params: bundle_id, patient_id, severity.
	List(ctx context.Context, params map[string]string, limit, offset int) ([]*Deviation, int, error)
}
