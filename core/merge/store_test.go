package merge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"berthing-hub/core/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryStoreUpdateError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	_, err := s.Update(ctx, "a", func(pc *model.PortCall, exists bool) (bool, error) {
		pc.VesselName = "X"
		return true, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreUnchangedDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Update(ctx, "a", func(*model.PortCall, bool) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestMemoryStoreSnapshotIsSortedCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []string{"c", "a", "b"} {
		id := id
		_, err := s.Update(ctx, id, func(pc *model.PortCall, _ bool) (bool, error) {
			pc.PortCallID = id
			pc.Sources = []model.Category{model.SourceExpected}
			return true, nil
		})
		require.NoError(t, err)
	}

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{snap[0].PortCallID, snap[1].PortCallID, snap[2].PortCallID})

	snap[0].Sources[0] = model.SourceBerthed
	got, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.SourceExpected, got.Sources[0])
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	_, err := s.Update(ctx, "a", func(*model.PortCall, bool) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMergerSetsUpdatedAtOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMerger(NewMemoryStore(), fixedClock(t1))
	p := Partial{PortCallID: "x", Source: model.SourceExpected, ObservedAt: observed(1), ETA: Times{Estimated: at(9, 0)}}

	pc, res, err := m.Merge(ctx, p)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, t1, pc.UpdatedAt)

	m.now = fixedClock(t1.Add(time.Hour))
	pc, res, err = m.Merge(ctx, p)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, t1, pc.UpdatedAt)
	assert.Equal(t, int64(1), pc.Revision)
}

func TestMergerUndatedPartialIsStable(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMerger(NewMemoryStore(), fixedClock(t1))
	p := Partial{PortCallID: "x", Source: model.SourceExpected, ETA: Times{Estimated: at(9, 0)}}

	pc, _, err := m.Merge(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, t1, pc.FirstSeenAt, "first sighting falls back to the clock")

	m.now = fixedClock(t1.Add(time.Minute))
	pc, res, err := m.Merge(ctx, p)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, int64(1), pc.Revision)
	assert.Equal(t, t1, pc.FirstSeenAt)

	dated := p
	dated.ObservedAt = observed(1)
	pc, res, err = m.Merge(ctx, dated)
	require.NoError(t, err)
	assert.True(t, res.Changed, "a dated observation outranks an undated one")
	assert.Equal(t, observed(1), pc.ETA.Estimated.ObservedAt)
}

func TestMergerRejectsMissingKey(t *testing.T) {
	m := NewMerger(NewMemoryStore(), nil)
	_, _, err := m.Merge(context.Background(), Partial{Source: model.SourceExpected})
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestMergerConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewMerger(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := m.Merge(ctx, Partial{
				PortCallID: "x",
				Source:     model.SourceScheduled,
				ObservedAt: observed(i),
				ETB:        Times{Estimated: at(10, i)},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	pc, ok, err := store.Get(ctx, "x")
	require.NoError(t, err)
	require.True(t, ok)
	etb, _ := pc.ETB.EstimatedAt()
	assert.Equal(t, at(10, 49), etb, "latest observation wins regardless of scheduling")
}

func TestMergerConcurrentDistinctKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewMerger(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := m.Merge(ctx, Partial{
				PortCallID: fmt.Sprintf("pc-%02d", i),
				Source:     model.SourceAnchored,
				ObservedAt: observed(1),
				ETA:        Times{Occurred: at(9, 0)},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 40)
	for _, pc := range snap {
		assert.Equal(t, model.StatusArrived, pc.Status)
	}
}
