package episode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bundlewatch/bundlewatch/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type episodeRepoPG struct{ pool *pgxpool.Pool }

func NewEpisodeRepoPG(pool *pgxpool.Pool) EpisodeRepository {
	return &episodeRepoPG{pool: pool}
}

func (r *episodeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const episodeCols = `id, patient_id, encounter_id, bundle_id, trigger_time,
	status, age_days, created_at, updated_at`

func (r *episodeRepoPG) scanRow(row pgx.Row) (*Episode, error) {
	var e Episode
	err := row.Scan(&e.ID, &e.PatientID, &e.EncounterID, &e.BundleID, &e.TriggerTime,
		&e.Status, &e.AgeDays, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *episodeRepoPG) Create(ctx context.Context, e *Episode) error {
	e.ID = uuid.New()
	if e.Status == "" {
		e.Status = StatusActive
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO episodes (id, patient_id, encounter_id, bundle_id, trigger_time, status, age_days)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (patient_id, encounter_id, bundle_id) DO NOTHING`,
		e.ID, e.PatientID, e.EncounterID, e.BundleID, e.TriggerTime, e.Status, e.AgeDays)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *episodeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Episode, error) {
	e, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+episodeCols+` FROM episodes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachResults(ctx, []*Episode{e}); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *episodeRepoPG) GetByIdentity(ctx context.Context, patientID, encounterID, bundleID string) (*Episode, error) {
	e, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `
		SELECT `+episodeCols+` FROM episodes
		WHERE patient_id = $1 AND encounter_id = $2 AND bundle_id = $3`,
		patientID, encounterID, bundleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachResults(ctx, []*Episode{e}); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *episodeRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Episode, int, error) {
	query := `SELECT ` + episodeCols + ` FROM episodes WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM episodes WHERE 1=1`
	var args []interface{}
	idx := 1

	if p, ok := params["status"]; ok {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["bundle_id"]; ok {
		query += fmt.Sprintf(` AND bundle_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND bundle_id = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["patient_id"]; ok {
		query += fmt.Sprintf(` AND patient_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, p)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Episode
	for rows.Next() {
		e, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *episodeRepoPG) ListActive(ctx context.Context) ([]*Episode, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+episodeCols+` FROM episodes WHERE status = $1 ORDER BY created_at`,
		StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Episode
	for rows.Next() {
		e, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachResults(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *episodeRepoPG) ListByBundleSince(ctx context.Context, bundleID string, since time.Time) ([]*Episode, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+episodeCols+` FROM episodes
		WHERE bundle_id = $1 AND trigger_time >= $2 ORDER BY trigger_time`,
		bundleID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Episode
	for rows.Next() {
		e, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachResults(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *episodeRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE episodes SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *episodeRepoPG) attachResults(ctx context.Context, episodes []*Episode) error {
	if len(episodes) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(episodes))
	byID := make(map[uuid.UUID]*Episode, len(episodes))
	for i, e := range episodes {
		ids[i] = e.ID
		byID[e.ID] = e
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+resultCols+` FROM element_check_results
		WHERE episode_id = ANY($1) ORDER BY created_at, element_id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		res, err := scanResultRow(rows)
		if err != nil {
			return err
		}
		if e := byID[res.EpisodeID]; e != nil {
			e.Results = append(e.Results, res)
		}
	}
	return rows.Err()
}

type elementResultRepoPG struct{ pool *pgxpool.Pool }

func NewElementResultRepoPG(pool *pgxpool.Pool) ElementResultRepository {
	return &elementResultRepoPG{pool: pool}
}

func (r *elementResultRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const resultCols = `id, episode_id, element_id, status, deadline,
	completed_at, value, value_text, notes, created_at, updated_at`

func scanResultRow(row pgx.Row) (*ElementCheckResult, error) {
	var res ElementCheckResult
	err := row.Scan(&res.ID, &res.EpisodeID, &res.ElementID, &res.Status, &res.Deadline,
		&res.CompletedAt, &res.Value, &res.ValueText, &res.Notes, &res.CreatedAt, &res.UpdatedAt)
	return &res, err
}

func (r *elementResultRepoPG) CreateBatch(ctx context.Context, results []*ElementCheckResult) error {
	for _, res := range results {
		res.ID = uuid.New()
		if res.Status == "" {
			res.Status = ResultPending
		}
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO element_check_results (id, episode_id, element_id, status, deadline)
			VALUES ($1,$2,$3,$4,$5)`,
			res.ID, res.EpisodeID, res.ElementID, res.Status, res.Deadline)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *elementResultRepoPG) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*ElementCheckResult, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+resultCols+` FROM element_check_results
		WHERE episode_id = $1 ORDER BY created_at, element_id`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ElementCheckResult
	for rows.Next() {
		res, err := scanResultRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, res)
	}
	return items, rows.Err()
}

func (r *elementResultRepoPG) Update(ctx context.Context, res *ElementCheckResult) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE element_check_results
		SET status=$2, completed_at=$3, value=$4, value_text=$5, notes=$6, updated_at=NOW()
		WHERE id = $1`,
		res.ID, res.Status, res.CompletedAt, res.Value, res.ValueText, res.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
