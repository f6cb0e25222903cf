package merge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"berthing-hub/core/model"
)

func at(hour, min int) time.Time {
	return time.Date(2024, 1, 10, hour, min, 0, 0, time.UTC)
}

func observed(n int) time.Time {
	return time.Date(2024, 1, 9, 0, n, 0, 0, time.UTC)
}

func applyAll(parts ...Partial) (model.PortCall, []Result) {
	var pc model.PortCall
	results := make([]Result, 0, len(parts))
	for _, p := range parts {
		results = append(results, Apply(&pc, p))
	}
	return pc, results
}

func triples(pc model.PortCall) []any {
	return []any{pc.ETA, pc.ETB, pc.ETD, pc.CargoOpsEnd}
}

func TestApplyCreatesRecord(t *testing.T) {
	p := Partial{
		PortCallID: "pc-1",
		Source:     model.SourceExpected,
		ObservedAt: observed(1),
		VesselName: "LOG IN DISCOVERY",
		Terminal:   "tecon",
		BerthID:    "  b 1 ",
		ETA:        Times{Registered: at(8, 0), Estimated: at(9, 0)},
	}
	var pc model.PortCall
	res := Apply(&pc, p)

	assert.True(t, res.Created)
	assert.True(t, res.Changed)
	assert.Equal(t, "pc-1", pc.PortCallID)
	assert.Equal(t, model.StatusPlanned, pc.Status)
	assert.Equal(t, int64(1), pc.Revision)
	assert.Equal(t, "TECON", pc.Terminal)
	assert.Equal(t, "B 1", pc.BerthID)
	assert.Equal(t, []model.Category{model.SourceExpected}, pc.Sources)
	v, ok := pc.ETA.RegisteredAt()
	require.True(t, ok)
	assert.Equal(t, at(8, 0), v)
	assert.Equal(t, model.SourceExpected, pc.ETA.Estimated.Source)
}

func TestApplyIsIdempotent(t *testing.T) {
	parts := []Partial{
		{PortCallID: "x", Source: model.SourceExpected, ObservedAt: observed(1), ETA: Times{Registered: at(8, 0), Estimated: at(9, 0)}, Agency: "WILSON SONS"},
		{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(2), ETA: Times{Occurred: at(9, 30)}, ETB: Times{Estimated: at(12, 0)}},
		{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(3), ETB: Times{Occurred: at(12, 10)}, ETD: Times{Occurred: at(20, 0)}, CargoOpsEnd: at(18, 0), Status: "concluida"},
	}
	for _, p := range parts {
		pc, _ := applyAll(parts...)
		before := pc.Clone()
		res := Apply(&pc, p)
		assert.False(t, res.Changed, "re-applying %s changed the record", p.Source)
		assert.Empty(t, res.Warnings)
		assert.Equal(t, before, pc)
	}
}

func TestApplyOrderIndependentForTriples(t *testing.T) {
	a := Partial{PortCallID: "x", Source: model.SourceExpected, ObservedAt: observed(1),
		ETA: Times{Registered: at(8, 0), Estimated: at(9, 0)}, ETB: Times{Estimated: at(12, 0)}}
	b := Partial{PortCallID: "x", Source: model.SourceScheduled, ObservedAt: observed(2),
		ETB: Times{Registered: at(11, 0), Estimated: at(13, 0)}, ETD: Times{Estimated: at(20, 0)}}
	c := Partial{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(3),
		ETA: Times{Occurred: at(9, 30)}, ETB: Times{Estimated: at(12, 30)}}
	d := Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(4),
		ETA: Times{Occurred: at(9, 40)}, ETB: Times{Occurred: at(13, 10)}, ETD: Times{Occurred: at(21, 0)}}

	parts := []Partial{a, b, c, d}
	ref, _ := applyAll(parts...)

	permute(len(parts), func(order []int) {
		seq := make([]Partial, len(order))
		for i, j := range order {
			seq[i] = parts[j]
		}
		got, _ := applyAll(seq...)
		assert.Equal(t, triples(ref), triples(got), "order %v", order)
		assert.Equal(t, ref.Status, got.Status, "order %v", order)
		assert.Equal(t, ref.Sources, got.Sources, "order %v", order)
	})

	ata, _ := ref.ATA()
	assert.Equal(t, at(9, 40), ata, "authoritative ATA wins")
	etb, _ := ref.ETB.EstimatedAt()
	assert.Equal(t, at(12, 30), etb, "highest precedence estimate wins")
	assert.Equal(t, model.StatusDeparted, ref.Status)
	assert.Equal(t, []model.Category{model.SourceExpected, model.SourceScheduled, model.SourceAnchored, model.SourceBerthed}, ref.Sources)
}

// permute calls fn with every ordering of 0..n-1 (Heap's algorithm).
func permute(n int, fn func([]int)) {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	var gen func(k int)
	gen = func(k int) {
		if k == 1 {
			fn(append([]int(nil), idx...))
			return
		}
		for i := 0; i < k; i++ {
			gen(k - 1)
			if k%2 == 0 {
				idx[i], idx[k-1] = idx[k-1], idx[i]
			} else {
				idx[0], idx[k-1] = idx[k-1], idx[0]
			}
		}
	}
	gen(n)
}

func TestApplyLogInDiscovery(t *testing.T) {
	estimate := Partial{PortCallID: "log-in", Source: model.SourceScheduled, ObservedAt: observed(1),
		VesselName: "LOG IN DISCOVERY", Terminal: "T", BerthID: "B", ETB: Times{Estimated: at(14, 0)}}
	actual := Partial{PortCallID: "log-in", Source: model.SourceBerthed, ObservedAt: observed(2),
		VesselName: "LOG IN DISCOVERY", Terminal: "T", BerthID: "B", ETB: Times{Occurred: at(14, 20)}}

	ab, _ := applyAll(estimate, actual)
	ba, _ := applyAll(actual, estimate)
	assert.Equal(t, triples(ab), triples(ba))

	est, ok := ab.ETB.EstimatedAt()
	require.True(t, ok)
	atb, ok := ab.ATB()
	require.True(t, ok)
	assert.Equal(t, 20*time.Minute, atb.Sub(est))
	assert.Equal(t, model.StatusBerthed, ab.Status)
}

func TestApplyOccurredIsImmutableForNonAuthoritative(t *testing.T) {
	pc, _ := applyAll(Partial{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(1), ETA: Times{Occurred: at(9, 30)}})

	res := Apply(&pc, Partial{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(5), ETA: Times{Occurred: at(10, 0)}})

	ata, _ := pc.ATA()
	assert.Equal(t, at(9, 30), ata)
	assert.False(t, res.Changed)
	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, WarnConflictingActual, w.Kind)
	assert.Equal(t, string(model.FieldATA), w.Field)
	assert.True(t, errors.Is(w.Err(), ErrConflictingActual))
}

func TestApplyAuthoritativeCorrection(t *testing.T) {
	first := Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(1), ETB: Times{Occurred: at(13, 0)}}
	second := Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(2), ETB: Times{Occurred: at(13, 30)}}

	pc, results := applyAll(first, second)
	atb, _ := pc.ATB()
	assert.Equal(t, at(13, 30), atb)
	require.Len(t, results[1].Warnings, 1)
	assert.Equal(t, WarnActualCorrected, results[1].Warnings[0].Kind)
	assert.Nil(t, results[1].Warnings[0].Err())

	rev, results := applyAll(second, first)
	atb, _ = rev.ATB()
	assert.Equal(t, at(13, 30), atb, "older observation never replaces a newer correction")
	require.Len(t, results[1].Warnings, 1)
	assert.Equal(t, WarnConflictingActual, results[1].Warnings[0].Kind)
}

func TestApplyEqualActualKeepsBestProvenance(t *testing.T) {
	anchored := Partial{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(1), ETA: Times{Occurred: at(9, 0)}}
	berthed := Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(2), ETA: Times{Occurred: at(9, 0)}}

	ab, _ := applyAll(anchored, berthed)
	ba, results := applyAll(berthed, anchored)
	assert.Equal(t, ab.ETA, ba.ETA)
	assert.Equal(t, model.SourceBerthed, ab.ETA.Occurred.Source)
	assert.Empty(t, results[1].Warnings)
}

func TestApplyActualOrdering(t *testing.T) {
	t.Run("non-authoritative out of order is rejected", func(t *testing.T) {
		pc, results := applyAll(
			Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(1), ETB: Times{Occurred: at(10, 0)}},
			Partial{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(2), ETA: Times{Occurred: at(11, 0)}},
		)
		_, hasATA := pc.ATA()
		assert.False(t, hasATA)
		require.Len(t, results[1].Warnings, 1)
		assert.Equal(t, WarnConflictingActual, results[1].Warnings[0].Kind)
		assert.Contains(t, results[1].Warnings[0].Reason, "out_of_order")
	})

	t.Run("authoritative value evicts a conflicting neighbour", func(t *testing.T) {
		pc, _ := applyAll(
			Partial{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(2), ETA: Times{Occurred: at(11, 0)}},
			Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(1), ETB: Times{Occurred: at(10, 0)}},
		)
		_, hasATA := pc.ATA()
		assert.False(t, hasATA)
		atb, _ := pc.ATB()
		assert.Equal(t, at(10, 0), atb)
		assert.Equal(t, model.StatusBerthed, pc.Status)
	})

	t.Run("consistent actuals stay ordered", func(t *testing.T) {
		pc, _ := applyAll(Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(1),
			ETA: Times{Occurred: at(8, 0)}, ETB: Times{Occurred: at(10, 0)}, ETD: Times{Occurred: at(18, 0)}})
		ata, _ := pc.ATA()
		atb, _ := pc.ATB()
		atd, _ := pc.ATD()
		assert.False(t, atb.Before(ata))
		assert.False(t, atd.Before(atb))
	})
}

func TestApplyFieldPermissions(t *testing.T) {
	pc, results := applyAll(Partial{PortCallID: "x", Source: model.SourceExpected, ObservedAt: observed(1),
		ETA: Times{Estimated: at(9, 0), Occurred: at(9, 10)}})

	_, hasATA := pc.ATA()
	assert.False(t, hasATA)
	_, hasETA := pc.ETA.EstimatedAt()
	assert.True(t, hasETA)
	require.Len(t, results[0].Warnings, 1)
	assert.Equal(t, WarnNotPermitted, results[0].Warnings[0].Kind)
	assert.Equal(t, string(model.FieldATA), results[0].Warnings[0].Field)
}

func TestApplyForecastNeverRegressesToAbsent(t *testing.T) {
	pc, _ := applyAll(
		Partial{PortCallID: "x", Source: model.SourceScheduled, ObservedAt: observed(1), ETB: Times{Estimated: at(12, 0)}},
		Partial{PortCallID: "x", Source: model.SourceScheduled, ObservedAt: observed(2), Agency: "AGENCY"},
	)
	etb, ok := pc.ETB.EstimatedAt()
	require.True(t, ok)
	assert.Equal(t, at(12, 0), etb)
}

func TestApplyStatus(t *testing.T) {
	scheduled := func(n int, status model.Status) Partial {
		return Partial{PortCallID: "x", Source: model.SourceScheduled, ObservedAt: observed(n), Status: status}
	}

	t.Run("forward move emits event", func(t *testing.T) {
		pc, results := applyAll(scheduled(1, ""), scheduled(2, "confirmado"))
		assert.Equal(t, model.StatusEstimatedConfirmed, pc.Status)
		assert.Equal(t, "portcall_confirmed", results[1].EventType)
	})

	t.Run("cancelled is terminal for non-authoritative sources", func(t *testing.T) {
		pc, results := applyAll(scheduled(1, model.StatusCancelled), scheduled(2, model.StatusPlanned))
		assert.Equal(t, model.StatusCancelled, pc.Status)
		require.Len(t, results[1].Warnings, 1)
		assert.Equal(t, WarnStatusRegression, results[1].Warnings[0].Kind)
	})

	t.Run("status never falls below proven actuals", func(t *testing.T) {
		pc, results := applyAll(
			Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(1), ETB: Times{Occurred: at(10, 0)}},
			Partial{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(2), Status: model.StatusArrived},
		)
		assert.Equal(t, model.StatusBerthed, pc.Status)
		assert.Equal(t, WarnStatusRegression, results[1].Warnings[0].Kind)
	})

	t.Run("source may not report status outside its category", func(t *testing.T) {
		pc, results := applyAll(scheduled(1, model.StatusBerthed))
		assert.Equal(t, model.StatusPlanned, pc.Status)
		assert.Equal(t, WarnNotPermitted, results[0].Warnings[0].Kind)
	})

	t.Run("terminal statuses hold for every source", func(t *testing.T) {
		pc, results := applyAll(
			scheduled(1, model.StatusCancelled),
			Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(2), Status: "parcial"},
		)
		assert.Equal(t, model.StatusCancelled, pc.Status)
		require.Len(t, results[1].Warnings, 1)
		assert.Equal(t, WarnStatusRegression, results[1].Warnings[0].Kind)

		pc, _ = applyAll(
			Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(1), ETD: Times{Occurred: at(20, 0)}},
			Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(2), Status: "parcial"},
		)
		assert.Equal(t, model.StatusDeparted, pc.Status)
	})

	t.Run("delayed resumes on a new actual", func(t *testing.T) {
		pc, results := applyAll(
			scheduled(1, model.StatusDelayed),
			Partial{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(2), ETA: Times{Occurred: at(9, 0)}},
		)
		assert.Equal(t, model.StatusArrived, pc.Status)
		assert.Equal(t, "portcall_arrived", results[1].EventType)
	})

	t.Run("delayed holds before arrival", func(t *testing.T) {
		pc, _ := applyAll(
			scheduled(1, "confirmado"),
			scheduled(2, model.StatusDelayed),
			Partial{PortCallID: "x", Source: model.SourceScheduled, ObservedAt: observed(3), ETD: Times{Estimated: at(22, 0)}},
		)
		assert.Equal(t, model.StatusDelayed, pc.Status)
	})

	t.Run("delayed is refused once actuals prove arrival", func(t *testing.T) {
		pc, results := applyAll(
			Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(1), ETB: Times{Occurred: at(10, 0)}},
			scheduled(2, model.StatusDelayed),
		)
		assert.Equal(t, model.StatusBerthed, pc.Status)
		require.Len(t, results[1].Warnings, 1)
		assert.Equal(t, WarnStatusRegression, results[1].Warnings[0].Kind)
	})
}

// A record carrying both a status and actuals must settle in one apply.
func TestApplyRecordTwiceIsNoOp(t *testing.T) {
	cases := []struct {
		name string
		p    Partial
		want model.Status
	}{
		{"late departure", Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(1),
			ETB: Times{Occurred: at(10, 0)}, ETD: Times{Occurred: at(20, 0)}, Status: "concluida_com_atraso"}, model.StatusDeparted},
		{"anchored late", Partial{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(1),
			ETA: Times{Occurred: at(9, 0)}, Status: "atrasado"}, model.StatusArrived},
		{"partial operation", Partial{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(1),
			ETB: Times{Occurred: at(10, 0)}, Status: "parcial"}, model.StatusBerthed},
		{"delayed forecast", Partial{PortCallID: "x", Source: model.SourceExpected, ObservedAt: observed(1),
			ETA: Times{Estimated: at(9, 0)}, Status: "atraso"}, model.StatusDelayed},
		{"cancelled", Partial{PortCallID: "x", Source: model.SourceScheduled, ObservedAt: observed(1),
			ETB: Times{Estimated: at(9, 0)}, Status: "cancelada"}, model.StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var pc model.PortCall
			Apply(&pc, tc.p)
			assert.Equal(t, tc.want, pc.Status)

			before := pc.Clone()
			res := Apply(&pc, tc.p)
			assert.False(t, res.Changed)
			assert.Empty(t, res.EventType)
			assert.Equal(t, before, pc)
		})
	}
}

func TestApplyStatusOrderIndependent(t *testing.T) {
	sets := map[string][]Partial{
		"delay report and arrival": {
			{PortCallID: "x", Source: model.SourceExpected, ObservedAt: observed(1), Status: "atrasado"},
			{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(2), ETA: Times{Occurred: at(9, 0)}},
		},
		"confirmation and delay": {
			{PortCallID: "x", Source: model.SourceExpected, ObservedAt: observed(1), Status: "confirmado"},
			{PortCallID: "x", Source: model.SourceScheduled, ObservedAt: observed(2), Status: model.StatusDelayed},
		},
		"late anchoring, confirmation and berthing": {
			{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(1), ETA: Times{Occurred: at(9, 0)}, Status: "atrasado"},
			{PortCallID: "x", Source: model.SourceExpected, ObservedAt: observed(2), Status: "confirmado"},
			{PortCallID: "x", Source: model.SourceBerthed, ObservedAt: observed(3), ETB: Times{Occurred: at(11, 0)}, Status: "parcial"},
		},
		"cancellation and arrival": {
			{PortCallID: "x", Source: model.SourceScheduled, ObservedAt: observed(1), Status: "cancelada"},
			{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(2), ETA: Times{Occurred: at(9, 0)}},
		},
	}
	for name, parts := range sets {
		t.Run(name, func(t *testing.T) {
			ref, _ := applyAll(parts...)
			permute(len(parts), func(order []int) {
				seq := make([]Partial, len(order))
				for i, j := range order {
					seq[i] = parts[j]
				}
				got, _ := applyAll(seq...)
				assert.Equal(t, ref.Status, got.Status, "order %v", order)
			})
		})
	}
}

func TestApplyMetadataLastNonEmptyWins(t *testing.T) {
	pc, _ := applyAll(
		Partial{PortCallID: "x", Source: model.SourceExpected, ObservedAt: observed(1), Agency: "FIRST", Observations: "note", Priority: model.PrioritySequential, IMO: "IMO 9321483"},
		Partial{PortCallID: "x", Source: model.SourceScheduled, ObservedAt: observed(2), Agency: "SECOND", Priority: model.PriorityImmediate, IMO: "12"},
		Partial{PortCallID: "x", Source: model.SourceAnchored, ObservedAt: observed(3), Agency: "  "},
	)
	assert.Equal(t, "SECOND", pc.Agency)
	assert.Equal(t, "note", pc.Observations)
	assert.Equal(t, model.PriorityImmediate, pc.Priority)
	assert.Equal(t, "9321483", pc.IMO, "invalid IMO is ignored")
}

func TestApplyRevision(t *testing.T) {
	var pc model.PortCall
	p := Partial{PortCallID: "x", Source: model.SourceExpected, ObservedAt: observed(1), ETA: Times{Estimated: at(9, 0)}}
	Apply(&pc, p)
	Apply(&pc, p)
	assert.Equal(t, int64(1), pc.Revision)

	p.ObservedAt = observed(2)
	p.ETA.Estimated = at(9, 30)
	Apply(&pc, p)
	assert.Equal(t, int64(2), pc.Revision)
}
