package deviation

import (
	"context"
	"fmt"

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

type markerRepoPG struct{ pool *pgxpool.Pool }

func NewMarkerRepoPG(pool *pgxpool.Pool) MarkerRepository {
	return &markerRepoPG{pool: pool}
}

func (r *markerRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const markerCols = `episode_id, element_id, bundle_id, patient_id, severity,
	title, description, recommendation, emitted_at`

func (r *markerRepoPG) Insert(ctx context.Context, d *Deviation) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO deviation_markers (episode_id, element_id, bundle_id, patient_id,
			severity, title, description, recommendation, emitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (episode_id, element_id) DO NOTHING`,
		d.EpisodeID, d.ElementID, d.BundleID, d.PatientID,
		d.Severity, d.Title, d.Description, d.Recommendation, d.EmittedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *markerRepoPG) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Deviation, int, error) {
	query := `SELECT ` + markerCols + ` FROM deviation_markers WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM deviation_markers WHERE 1=1`
	var args []interface{}
	idx := 1

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
	if p, ok := params["severity"]; ok {
		query += fmt.Sprintf(` AND severity = $%d`, idx)
		countQuery += fmt.Sprintf(` AND severity = $%d`, idx)
		args = append(args, p)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY emitted_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Deviation
	for rows.Next() {
		var d Deviation
		if err := rows.Scan(&d.EpisodeID, &d.ElementID, &d.BundleID, &d.PatientID,
			&d.Severity, &d.Title, &d.Description, &d.Recommendation, &d.EmittedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
