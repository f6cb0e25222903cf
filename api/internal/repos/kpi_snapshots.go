package repos

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"berthing-hub/api/internal/models"
	"berthing-hub/core/model"
)

type KPISnapshotRepo struct {
	pool *pgxpool.Pool
}

func NewKPISnapshotRepo(pool *pgxpool.Pool) *KPISnapshotRepo {
	return &KPISnapshotRepo{pool: pool}
}

func (r *KPISnapshotRepo) Insert(ctx context.Context, snap model.KPISnapshot, conflicts int) (models.KPISnapshotRecord, error) {
	doc, err := json.Marshal(snap)
	if err != nil {
		return models.KPISnapshotRecord{}, err
	}
	rec := models.KPISnapshotRecord{
		SnapshotID:    uuid.New(),
		ComputedAt:    snap.ComputedAt,
		WindowStart:   snap.WindowStart,
		WindowEnd:     snap.WindowEnd,
		Reference:     string(snap.Reference),
		SampleCount:   snap.SampleCount,
		ConflictCount: conflicts,
		Doc:           doc,
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO kpi_snapshots (snapshot_id, computed_at, window_start, window_end, reference, sample_count, conflict_count, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.SnapshotID, rec.ComputedAt, rec.WindowStart, rec.WindowEnd, rec.Reference, rec.SampleCount, rec.ConflictCount, rec.Doc)
	return rec, err
}

// Latest returns the most recent snapshot; false when none was stored yet.
func (r *KPISnapshotRepo) Latest(ctx context.Context) (model.KPISnapshot, bool, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `
		SELECT doc FROM kpi_snapshots ORDER BY computed_at DESC LIMIT 1
	`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.KPISnapshot{}, false, nil
	}
	if err != nil {
		return model.KPISnapshot{}, false, err
	}
	var snap model.KPISnapshot
	if err := json.Unmarshal(doc, &snap); err != nil {
		return model.KPISnapshot{}, false, err
	}
	return snap, true, nil
}

// Prune drops all but the newest keep snapshots.
func (r *KPISnapshotRepo) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = 1000
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM kpi_snapshots
		WHERE snapshot_id NOT IN (
			SELECT snapshot_id FROM kpi_snapshots ORDER BY computed_at DESC LIMIT $1
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
