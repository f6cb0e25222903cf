//go:build integration

package repos

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"berthing-hub/core/model"
	"berthing-hub/shared/events"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connect failed: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return pool
}

func TestPortCallRepoRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)
	outbox := NewOutboxRepo(pool)
	repo := NewPortCallRepo(pool, outbox)
	id := "it-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM port_calls WHERE port_call_id = $1`, id)
		_, _ = pool.Exec(ctx, `DELETE FROM outbox_events WHERE aggregate_id = $1`, id)
	})

	// an unchanged update on a new key leaves nothing behind
	if _, err := repo.Update(ctx, id, func(*model.PortCall, bool) (bool, error) { return false, nil }); err != nil {
		t.Fatalf("noop update: %v", err)
	}
	if _, ok, err := repo.Get(ctx, id); err != nil || ok {
		t.Fatalf("expected no row, ok=%v err=%v", ok, err)
	}

	at := time.Date(2024, 1, 10, 13, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		_, err := repo.Update(ctx, id, func(pc *model.PortCall, exists bool) (bool, error) {
			if (i == 0) == exists {
				t.Fatalf("update %d: unexpected exists=%v", i, exists)
			}
			pc.PortCallID = id
			pc.VesselName = "ALPHA"
			pc.Terminal = "T1"
			pc.BerthID = "B1"
			pc.Revision++
			pc.ETB.Estimated = &model.Stamp{At: at.Add(time.Duration(i) * time.Hour), Source: model.SourceScheduled, ObservedAt: at}
			return true, nil
		})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	got, ok, err := repo.Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Revision != 2 || !got.ETB.Estimated.At.Equal(at.Add(time.Hour)) {
		t.Fatalf("unexpected stored call: %+v", got)
	}

	var types []string
	rows, err := pool.Query(ctx, `SELECT payload FROM outbox_events WHERE aggregate_id = $1 ORDER BY created_at`, id)
	if err != nil {
		t.Fatalf("outbox query: %v", err)
	}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			t.Fatalf("scan: %v", err)
		}
		env, err := events.Decode(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		types = append(types, env.EventType)
	}
	rows.Close()
	if len(types) != 2 || types[0] != events.EventPortCallCreated || types[1] != events.EventPortCallUpdated {
		t.Fatalf("unexpected outbox events: %v", types)
	}
}

func TestKPISnapshotRepo(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)
	repo := NewKPISnapshotRepo(pool)

	v := 91.5
	snap := model.KPISnapshot{RCJReliability: &v, RCJTarget: 85, Reference: model.RefFirstAvailable, SampleCount: 4, ComputedAt: time.Now().UTC()}
	rec, err := repo.Insert(ctx, snap, 3)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.ConflictCount != 3 || rec.SampleCount != 4 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	latest, ok, err := repo.Latest(ctx)
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if latest.RCJReliability == nil || *latest.RCJReliability != v {
		t.Fatalf("unexpected latest: %+v", latest)
	}
	if _, err := repo.Prune(ctx, 1000); err != nil {
		t.Fatalf("prune: %v", err)
	}
}
