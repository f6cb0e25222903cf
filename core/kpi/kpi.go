// Package kpi computes reliability and timing-error metrics over a set of
// port calls.
package kpi

import (
	"errors"
	"fmt"
	"time"

	"berthing-hub/core/model"
)

var ErrInsufficientData = errors.New("insufficient data")

const (
	DefaultRCJTolerance = 30 * time.Minute
	DefaultRCJTarget    = 85.0
)

// Window is a half-open [Start, End) range. A zero bound is unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

func (w Window) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// LastDays is the window of the n days ending at now.
func LastDays(now time.Time, n int) Window {
	return Window{Start: now.AddDate(0, 0, -n), End: now}
}

type Options struct {
	Window       Window
	Reference    model.RefField
	RCJTolerance time.Duration
	RCJTarget    float64
}

func (o Options) withDefaults() Options {
	if o.Reference == "" {
		o.Reference = model.RefFirstAvailable
	}
	if o.RCJTolerance <= 0 {
		o.RCJTolerance = DefaultRCJTolerance
	}
	if o.RCJTarget <= 0 {
		o.RCJTarget = DefaultRCJTarget
	}
	return o
}

func ParseRef(raw string) (model.RefField, error) {
	switch r := model.RefField(raw); r {
	case "":
		return model.RefFirstAvailable, nil
	case model.RefATA, model.RefATB, model.RefATD, model.RefETA, model.RefETB, model.RefFirstAvailable:
		return r, nil
	default:
		return "", fmt.Errorf("unknown reference field %q", raw)
	}
}

// Reference returns the timestamp of pc that ref selects.
func Reference(pc model.PortCall, ref model.RefField) (time.Time, bool) {
	switch ref {
	case model.RefATA:
		return pc.ATA()
	case model.RefATB:
		return pc.ATB()
	case model.RefATD:
		return pc.ATD()
	case model.RefETA:
		return pc.ETA.Forecast()
	case model.RefETB:
		return pc.ETB.Forecast()
	default:
		for _, get := range []func() (time.Time, bool){pc.ATA, pc.ATB, pc.ETA.RegisteredAt, pc.ETB.EstimatedAt} {
			if t, ok := get(); ok {
				return t, true
			}
		}
		return time.Time{}, false
	}
}

// Filter keeps the calls whose reference timestamp falls in w. With a zero
// window every call is kept.
func Filter(calls []model.PortCall, w Window, ref model.RefField) []model.PortCall {
	if w.IsZero() {
		return calls
	}
	out := make([]model.PortCall, 0, len(calls))
	for _, pc := range calls {
		if t, ok := Reference(pc, ref); ok && w.Contains(t) {
			out = append(out, pc)
		}
	}
	return out
}

// Compute builds a snapshot. Metrics lacking qualifying calls are nil.
func Compute(calls []model.PortCall, opts Options, now time.Time) model.KPISnapshot {
	opts = opts.withDefaults()
	in := Filter(calls, opts.Window, opts.Reference)

	snap := model.KPISnapshot{
		RCJTarget:   opts.RCJTarget,
		Reference:   opts.Reference,
		SampleCount: len(in),
		ComputedAt:  now.UTC(),
	}
	if !opts.Window.Start.IsZero() {
		s := opts.Window.Start.UTC()
		snap.WindowStart = &s
	}
	if !opts.Window.End.IsZero() {
		e := opts.Window.End.UTC()
		snap.WindowEnd = &e
	}

	snap.MAEETA, snap.Samples.MAEETA = optional(MAE(in, EventArrival))
	snap.MAEETB, snap.Samples.MAEETB = optional(MAE(in, EventBerthing))
	snap.MAEETD, snap.Samples.MAEETD = optional(MAE(in, EventDeparture))
	snap.WBRatio, snap.Samples.WBRatio = optional(WBRatio(in))
	snap.RCJReliability, snap.Samples.RCJ = optional(RCJ(in, opts.RCJTolerance))
	snap.DocsSailLT, snap.Samples.DocsSailLT = optional(DocsToSail(in))
	if snap.RCJReliability != nil {
		met := *snap.RCJReliability >= opts.RCJTarget
		snap.RCJTargetMet = &met
	}
	return snap
}

func optional(v float64, n int, err error) (*float64, int) {
	if err != nil {
		return nil, 0
	}
	return &v, n
}
