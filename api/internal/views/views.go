// Package views derives the read models served by the API and cached by
// the snapshot worker from one store snapshot.
package views

import (
	"context"
	"sort"
	"time"

	"berthing-hub/core/conflict"
	"berthing-hub/core/kpi"
	"berthing-hub/core/model"
	"berthing-hub/core/window"
	"berthing-hub/shared/config"
)

type Settings struct {
	KPIWindowDays int
	RCJTolerance  time.Duration
	RCJTarget     float64
	OpsHorizon    time.Duration
}

func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		KPIWindowDays: cfg.KPIWindowDays,
		RCJTolerance:  time.Duration(cfg.RCJToleranceMinutes) * time.Minute,
		RCJTarget:     cfg.RCJTargetPercent,
		OpsHorizon:    time.Duration(cfg.OpsHorizonHours) * time.Hour,
	}
}

// KPIOptions fills in the configured tolerance and target. A zero window
// becomes the last KPIWindowDays days ending at now.
func (s Settings) KPIOptions(w kpi.Window, ref model.RefField, now time.Time) kpi.Options {
	if w.IsZero() && s.KPIWindowDays > 0 {
		w = kpi.LastDays(now, s.KPIWindowDays)
	}
	return kpi.Options{Window: w, Reference: ref, RCJTolerance: s.RCJTolerance, RCJTarget: s.RCJTarget}
}

// Acks reports which conflicts were acknowledged.
type Acks interface {
	Acknowledged(ctx context.Context) (map[string]bool, error)
}

// Conflicts detects overlaps and marks the acknowledged ones resolved.
func Conflicts(ctx context.Context, calls []model.PortCall, acks Acks) ([]model.Conflict, error) {
	out := conflict.Detect(calls)
	if acks == nil || len(out) == 0 {
		return out, nil
	}
	done, err := acks.Acknowledged(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Resolved = done[out[i].ConflictID]
	}
	return out, nil
}

// OpenByTerminal counts unresolved conflicts per terminal.
func OpenByTerminal(conflicts []model.Conflict) map[string]int {
	out := map[string]int{}
	for _, c := range conflicts {
		if !c.Resolved {
			out[c.Terminal]++
		}
	}
	return out
}

// Snapshot is everything the worker computes on one tick.
type Snapshot struct {
	KPI       model.KPISnapshot `json:"kpi"`
	Conflicts []model.Conflict  `json:"conflicts"`
	Ops       model.OpsSnapshot `json:"ops"`
}

func (s Settings) Compute(ctx context.Context, calls []model.PortCall, acks Acks, now time.Time) (Snapshot, error) {
	conflicts, err := Conflicts(ctx, calls, acks)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		KPI:       kpi.Compute(calls, s.KPIOptions(kpi.Window{}, model.RefFirstAvailable, now), now),
		Conflicts: conflicts,
		Ops:       window.Classify(now, calls, s.OpsHorizon),
	}, nil
}

// SortForBoard orders calls by terminal, berth and berthing time, calls
// without a known berthing time last.
func SortForBoard(calls []model.PortCall) {
	sort.SliceStable(calls, func(i, j int) bool {
		a, b := calls[i], calls[j]
		if a.Terminal != b.Terminal {
			return a.Terminal < b.Terminal
		}
		if a.BerthID != b.BerthID {
			return a.BerthID < b.BerthID
		}
		sa, _, okA, _ := a.Occupancy()
		sb, _, okB, _ := b.Occupancy()
		switch {
		case okA && okB && !sa.Equal(sb):
			return sa.Before(sb)
		case okA != okB:
			return okA
		}
		return a.PortCallID < b.PortCallID
	})
}
