package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"berthing-hub/api/internal/models"
	"berthing-hub/core/merge"
	"berthing-hub/core/model"
	"berthing-hub/shared/dbx"
	"berthing-hub/shared/events"
)

// PortCallRepo is the Postgres merge.Store. Each record is one JSONB
// document plus a few columns for listing; every change also writes a
// portcall.merged outbox event in the same transaction.
type PortCallRepo struct {
	pool   *pgxpool.Pool
	outbox *OutboxRepo
}

var _ merge.Store = (*PortCallRepo)(nil)

func NewPortCallRepo(pool *pgxpool.Pool, outbox *OutboxRepo) *PortCallRepo {
	return &PortCallRepo{pool: pool, outbox: outbox}
}

// Update locks the row for id, creating an empty placeholder first so that
// two writers racing on a new key serialize on the same row lock.
func (r *PortCallRepo) Update(ctx context.Context, id string, fn merge.UpdateFunc) (model.PortCall, error) {
	var out model.PortCall
	err := dbx.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO port_calls (port_call_id) VALUES ($1)
			ON CONFLICT (port_call_id) DO NOTHING
		`, id); err != nil {
			return err
		}

		var doc []byte
		if err := tx.QueryRow(ctx, `
			SELECT doc FROM port_calls WHERE port_call_id = $1 FOR UPDATE
		`, id).Scan(&doc); err != nil {
			return err
		}
		exists := doc != nil
		if exists {
			if err := json.Unmarshal(doc, &out); err != nil {
				return fmt.Errorf("decode port call %s: %w", id, err)
			}
		}
		current := out.Clone()

		changed, err := fn(&out, exists)
		if err != nil {
			out = current
			return err
		}
		if !changed {
			out = current
			if !exists {
				_, err := tx.Exec(ctx, `DELETE FROM port_calls WHERE port_call_id = $1 AND doc IS NULL`, id)
				return err
			}
			return nil
		}

		b, err := json.Marshal(out)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE port_calls
			SET vessel_name = $2, terminal = $3, berth_id = $4, status = $5, revision = $6, doc = $7, updated_at = now()
			WHERE port_call_id = $1
		`, id, out.VesselName, out.Terminal, out.BerthID, string(out.Status), out.Revision, b); err != nil {
			return err
		}
		return r.announce(ctx, tx, out, exists)
	})
	return out, err
}

func (r *PortCallRepo) announce(ctx context.Context, tx pgx.Tx, pc model.PortCall, existed bool) error {
	if r.outbox == nil {
		return nil
	}
	eventType := events.EventPortCallCreated
	if existed {
		eventType = events.EventPortCallUpdated
	}
	env, err := events.New(events.AggregatePortCall, pc.PortCallID, eventType, pc, pc.UpdatedAt)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = r.outbox.Insert(ctx, tx, models.OutboxEvent{
		EventID:       env.EventID,
		AggregateType: env.AggregateType,
		AggregateID:   pc.PortCallID,
		Topic:         events.TopicPortCallMerged,
		Payload:       payload,
	})
	return err
}

func (r *PortCallRepo) Get(ctx context.Context, id string) (model.PortCall, bool, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `
		SELECT doc FROM port_calls WHERE port_call_id = $1 AND doc IS NOT NULL
	`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PortCall{}, false, nil
	}
	if err != nil {
		return model.PortCall{}, false, err
	}
	var pc model.PortCall
	if err := json.Unmarshal(doc, &pc); err != nil {
		return model.PortCall{}, false, fmt.Errorf("decode port call %s: %w", id, err)
	}
	return pc, true, nil
}

// Snapshot reads every stored call in one statement, so the result is a
// consistent view.
func (r *PortCallRepo) Snapshot(ctx context.Context) ([]model.PortCall, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doc FROM port_calls WHERE doc IS NOT NULL ORDER BY port_call_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.PortCall, 0, 64)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var pc model.PortCall
		if err := json.Unmarshal(doc, &pc); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
