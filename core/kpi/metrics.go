package kpi

import (
	"time"

	"berthing-hub/core/model"
)

// Event names one of the three timestamp triples.
type Event string

const (
	EventArrival   Event = "eta"
	EventBerthing  Event = "etb"
	EventDeparture Event = "etd"
)

func triple(pc model.PortCall, e Event) model.TimestampTriple {
	switch e {
	case EventArrival:
		return pc.ETA
	case EventBerthing:
		return pc.ETB
	default:
		return pc.ETD
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// MAE is the mean |estimated - occurred| of event in minutes, over the
// calls that carry both values. It also returns the number of such calls.
func MAE(calls []model.PortCall, e Event) (float64, int, error) {
	var (
		sum time.Duration
		n   int
	)
	for _, pc := range calls {
		tr := triple(pc, e)
		est, ok1 := tr.EstimatedAt()
		occ, ok2 := tr.OccurredAt()
		if !ok1 || !ok2 {
			continue
		}
		sum += absDuration(est.Sub(occ))
		n++
	}
	if n == 0 {
		return 0, 0, ErrInsufficientData
	}
	return sum.Minutes() / float64(n), n, nil
}

// WBRatio is the mean of waiting time (ATA to ATB) over berthed time (ATB
// to ATD). Calls with a zero berthed time are left out.
func WBRatio(calls []model.PortCall) (float64, int, error) {
	var (
		sum float64
		n   int
	)
	for _, pc := range calls {
		ata, ok1 := pc.ATA()
		atb, ok2 := pc.ATB()
		atd, ok3 := pc.ATD()
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		berthed := atd.Sub(atb)
		if berthed == 0 {
			continue
		}
		sum += float64(atb.Sub(ata)) / float64(berthed)
		n++
	}
	if n == 0 {
		return 0, 0, ErrInsufficientData
	}
	return sum / float64(n), n, nil
}

// RCJ is the percentage of calls berthing within tolerance of their
// estimated berthing time, over calls carrying both values.
func RCJ(calls []model.PortCall, tolerance time.Duration) (float64, int, error) {
	var hits, n int
	for _, pc := range calls {
		est, ok1 := pc.ETB.EstimatedAt()
		atb, ok2 := pc.ATB()
		if !ok1 || !ok2 {
			continue
		}
		if absDuration(atb.Sub(est)) <= tolerance {
			hits++
		}
		n++
	}
	if n == 0 {
		return 0, 0, ErrInsufficientData
	}
	return float64(hits) * 100 / float64(n), n, nil
}

// DocsToSail is the mean lead time in hours from the end of cargo
// operations to ATD. Negative lead times are inconsistent and left out.
func DocsToSail(calls []model.PortCall) (float64, int, error) {
	var (
		sum time.Duration
		n   int
	)
	for _, pc := range calls {
		end, ok1 := pc.CargoOpsEnd.Value()
		atd, ok2 := pc.ATD()
		if !ok1 || !ok2 {
			continue
		}
		lead := atd.Sub(end)
		if lead < 0 {
			continue
		}
		sum += lead
		n++
	}
	if n == 0 {
		return 0, 0, ErrInsufficientData
	}
	return sum.Hours() / float64(n), n, nil
}
