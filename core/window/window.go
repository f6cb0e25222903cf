// Package window classifies port calls relative to a given instant for the
// current-operations board.
package window

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"berthing-hub/core/model"
)

const DefaultHorizon = 24 * time.Hour

// Classify sorts calls into the four operational buckets. now is always
// supplied by the caller. A call lands in at most one of recently arrived,
// currently berthed and arriving soon, in that priority; departing soon is
// additive to currently berthed. Cancelled calls are left out.
func Classify(now time.Time, calls []model.PortCall, horizon time.Duration) model.OpsSnapshot {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	snap := model.OpsSnapshot{
		Now:              now.UTC(),
		RecentlyArrived:  []model.OpsEntry{},
		CurrentlyBerthed: []model.OpsEntry{},
		ArrivingSoon:     []model.OpsEntry{},
		DepartingSoon:    []model.OpsEntry{},
	}
	for _, pc := range calls {
		if pc.Status == model.StatusCancelled {
			continue
		}
		ata, hasATA := pc.ATA()
		atb, hasATB := pc.ATB()
		_, hasATD := pc.ATD()

		switch {
		case hasATA && !hasATB && within(ata, now.Add(-horizon), now):
			snap.RecentlyArrived = append(snap.RecentlyArrived, entry(pc, now.Sub(ata), ata, now))
		case hasATB && !hasATD:
			snap.CurrentlyBerthed = append(snap.CurrentlyBerthed, entry(pc, now.Sub(atb), atb, now))
		case !hasATA && !hasATB:
			if eta, ok := pc.ETA.Forecast(); ok && within(eta, now, now.Add(horizon)) {
				snap.ArrivingSoon = append(snap.ArrivingSoon, entry(pc, eta.Sub(now), eta, now))
			}
		}

		if hasATB && !hasATD {
			if etd, ok := pc.ETD.EstimatedAt(); ok && within(etd, now, now.Add(horizon)) {
				snap.DepartingSoon = append(snap.DepartingSoon, entry(pc, etd.Sub(now), etd, now))
			}
		}
	}
	for _, b := range [][]model.OpsEntry{snap.RecentlyArrived, snap.CurrentlyBerthed, snap.ArrivingSoon, snap.DepartingSoon} {
		sortEntries(b)
	}
	return snap
}

// within is the closed interval [from, to].
func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func entry(pc model.PortCall, d time.Duration, at, now time.Time) model.OpsEntry {
	return model.OpsEntry{
		PortCallID: pc.PortCallID,
		VesselName: pc.VesselName,
		Terminal:   pc.Terminal,
		BerthID:    pc.BerthID,
		Hours:      d.Hours(),
		Label:      humanize.RelTime(at, now, "ago", "from now"),
	}
}

func sortEntries(es []model.OpsEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Hours != es[j].Hours {
			return es[i].Hours < es[j].Hours
		}
		return es[i].PortCallID < es[j].PortCallID
	})
}
