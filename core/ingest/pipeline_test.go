package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"berthing-hub/core/merge"
	"berthing-hub/core/model"
	"berthing-hub/core/source"
	"berthing-hub/core/timenorm"
	"berthing-hub/shared/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	t0 = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func newPipeline(t *testing.T, workers int) (*Pipeline, *merge.MemoryStore, *bytes.Buffer) {
	t.Helper()
	n, err := timenorm.NewNormalizer(timenorm.DefaultOffset, nil)
	require.NoError(t, err)
	store := merge.NewMemoryStore()
	var buf bytes.Buffer
	log := logx.NewWithWriter(&buf, "test", "test", "", "debug")
	return New(merge.NewMerger(store, nil), n, log, workers), store, &buf
}

func sampleBatches() []source.Batch {
	return []source.Batch{
		{Source: "esperados", ObservedAt: t0, Records: []map[string]any{
			{"navio": "LOG IN DISCOVERY", "terminal": "T", "berco": "B", "eta": "2024-01-10T08:00:00Z", "etb": "2024-01-10T13:00:00Z", "agencia": "WS"},
			{"navio": "MSC ANNA", "terminal": "T", "berco": "C", "eta": "2024-01-10T09:00:00Z"},
		}},
		{Source: "programadas", ObservedAt: t1, Records: []map[string]any{
			{"navio": "Log In Discovery", "terminal": "t", "berco": "b", "etb": "2024-01-10T14:00:00Z", "etd": "2024-01-11T02:00:00Z"},
		}},
		{Source: "atracados", ObservedAt: t2, Records: []map[string]any{
			{"navio": "LOG IN DISCOVERY", "terminal": "T", "berco": "B", "ata": "2024-01-10T07:50:00Z", "atb": "2024-01-10T14:20:00Z"},
		}},
	}
}

func TestRunMergesAcrossSources(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newPipeline(t, 2)

	rep, err := p.Run(ctx, sampleBatches())
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Accepted)
	assert.Equal(t, 2, rep.Created)
	assert.Empty(t, rep.Rejected)

	calls, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, calls, 2)

	var logIn model.PortCall
	for _, pc := range calls {
		if pc.BerthID == "B" {
			logIn = pc
		}
	}
	etb, ok := logIn.ETB.EstimatedAt()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC), etb)
	atb, ok := logIn.ATB()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 10, 14, 20, 0, 0, time.UTC), atb)
	assert.Equal(t, model.StatusBerthed, logIn.Status)
	assert.Len(t, logIn.Sources, 3)
}

func TestRunIsRetryable(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newPipeline(t, 3)

	_, err := p.Run(ctx, sampleBatches())
	require.NoError(t, err)
	before, err := store.Snapshot(ctx)
	require.NoError(t, err)

	rep, err := p.Run(ctx, sampleBatches())
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Accepted)
	assert.Zero(t, rep.Changed)

	after, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunWithoutObservedAtIsRetryable(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newPipeline(t, 2)
	batches := sampleBatches()
	for i := range batches {
		batches[i].ObservedAt = time.Time{}
	}

	_, err := p.Run(ctx, batches)
	require.NoError(t, err)
	before, err := store.Snapshot(ctx)
	require.NoError(t, err)

	rep, err := p.Run(ctx, batches)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Accepted)
	assert.Zero(t, rep.Changed)

	after, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunConcurrencyMatchesSequential(t *testing.T) {
	ctx := context.Background()
	var batches []source.Batch
	for i := 0; i < 12; i++ {
		cat := model.AllCategories()[i%4]
		rec := map[string]any{"navio": fmt.Sprintf("VESSEL %d", i%3), "terminal": "T", "berco": "B"}
		switch cat {
		case model.SourceExpected:
			rec["eta"] = fmt.Sprintf("2024-01-10T0%d:00:00Z", i%3+1)
		case model.SourceScheduled:
			rec["etb"] = fmt.Sprintf("2024-01-10T0%d:30:00Z", i%3+1)
		case model.SourceAnchored:
			rec["ata"] = fmt.Sprintf("2024-01-10T0%d:10:00Z", i%3+1)
		case model.SourceBerthed:
			rec["atb"] = fmt.Sprintf("2024-01-10T0%d:40:00Z", i%3+1)
		}
		batches = append(batches, source.Batch{Source: string(cat), ObservedAt: t0.Add(time.Duration(i) * time.Minute), Records: []map[string]any{rec}})
	}

	seq, seqStore, _ := newPipeline(t, 1)
	_, err := seq.Run(ctx, batches)
	require.NoError(t, err)
	par, parStore, _ := newPipeline(t, 6)
	_, err = par.Run(ctx, batches)
	require.NoError(t, err)

	a, err := seqStore.Snapshot(ctx)
	require.NoError(t, err)
	b, err := parStore.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ETA, b[i].ETA)
		assert.Equal(t, a[i].ETB, b[i].ETB)
		assert.Equal(t, a[i].Status, b[i].Status)
	}
}

func TestRunIsolatesBadRecords(t *testing.T) {
	ctx := context.Background()
	p, store, buf := newPipeline(t, 2)

	rep, err := p.Run(ctx, []source.Batch{{Source: "atracados", ObservedAt: t0, Records: []map[string]any{
		{"navio": "A", "terminal": "T", "berco": "B", "atb": "not a date"},
		{"navio": "B", "terminal": "T", "atb": "2024-01-10T10:00:00Z"},
		{"navio": []any{"x"}, "terminal": "T", "berco": "B"},
		{"navio": "OK", "terminal": "T", "berco": "B", "atb": "2024-01-10T10:00:00Z"},
	}}})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Accepted)
	require.Len(t, rep.Rejected, 3)
	assert.Equal(t, KindInvalidTimestamp, rep.Rejected[0].Kind)
	assert.Equal(t, 0, rep.Rejected[0].Index)
	assert.Equal(t, KindAmbiguousIdentity, rep.Rejected[1].Kind)
	assert.Equal(t, KindInvalidRecord, rep.Rejected[2].Kind)
	assert.ErrorIs(t, rep.Rejected[0], timenorm.ErrInvalidTimestamp)
	assert.Equal(t, 1, store.Len())
	assert.Contains(t, buf.String(), `"event":"record_rejected"`)
}

func TestRunRejectsUnknownSource(t *testing.T) {
	p, store, _ := newPipeline(t, 1)
	_, err := p.Run(context.Background(), []source.Batch{
		{Source: "esperados", Records: []map[string]any{{"navio": "A", "terminal": "T", "berco": "B", "eta": "2024-01-10T08:00:00Z"}}},
		{Source: "gossip"},
	})
	assert.ErrorIs(t, err, source.ErrUnknownSource)
	assert.Zero(t, store.Len())
}

func TestRunLogsConflictingActual(t *testing.T) {
	ctx := context.Background()
	p, _, buf := newPipeline(t, 1)
	rep, err := p.Run(ctx, []source.Batch{
		{Source: "fundeados", ObservedAt: t0, Records: []map[string]any{{"navio": "A", "terminal": "T", "berco": "B", "ata": "2024-01-10T08:00:00Z"}}},
	})
	require.NoError(t, err)
	require.Empty(t, rep.Warnings)

	rep, err = p.Run(ctx, []source.Batch{
		{Source: "fundeados", ObservedAt: t1, Records: []map[string]any{{"navio": "A", "terminal": "T", "berco": "B", "ata": "2024-01-10T08:30:00Z"}}},
	})
	require.NoError(t, err)
	require.Len(t, rep.Warnings, 1)
	assert.Equal(t, merge.WarnConflictingActual, rep.Warnings[0].Kind)
	assert.Contains(t, buf.String(), `"event":"conflicting_actual"`)
}

type failingMerger struct{ fail string }

func (f failingMerger) Merge(_ context.Context, p merge.Partial) (model.PortCall, merge.Result, error) {
	if strings.Contains(p.VesselName, f.fail) {
		return model.PortCall{}, merge.Result{}, errors.New("connection reset")
	}
	return model.PortCall{PortCallID: p.PortCallID}, merge.Result{Changed: true}, nil
}

func TestRunIsolatesStoreErrors(t *testing.T) {
	n, err := timenorm.NewNormalizer(timenorm.DefaultOffset, nil)
	require.NoError(t, err)
	p := New(failingMerger{fail: "BAD"}, n, logx.Discard(), 2)

	rep, err := p.Run(context.Background(), []source.Batch{{Source: "esperados", ObservedAt: t0, Records: []map[string]any{
		{"navio": "BAD ONE", "terminal": "T", "berco": "B", "eta": "2024-01-10T08:00:00Z"},
		{"navio": "GOOD ONE", "terminal": "T", "berco": "B", "eta": "2024-01-10T08:00:00Z"},
	}}})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Accepted)
	require.Len(t, rep.Rejected, 1)
	assert.Equal(t, KindStoreError, rep.Rejected[0].Kind)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	p, _, _ := newPipeline(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, sampleBatches())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollector(t *testing.T) {
	var c Collector
	c.Add(Report{Accepted: 2, Changed: 1})
	c.Add(Report{Accepted: 1, Rejected: []RecordError{{Kind: KindInvalidRecord}}})
	got := c.Flush()
	assert.Equal(t, 3, got.Accepted)
	assert.Len(t, got.Rejected, 1)
	assert.Zero(t, c.Flush().Accepted)
}
