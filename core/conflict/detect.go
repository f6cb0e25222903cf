// Package conflict finds berth occupancy overlaps between port calls.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/xxh3"

	"berthing-hub/core/identity"
	"berthing-hub/core/model"
)

type interval struct {
	pc    *model.PortCall
	start time.Time
	end   time.Time
	open  bool
}

// endsAfter reports whether iv still occupies the berth at t.
func (iv interval) endsAfter(t time.Time) bool {
	return iv.open || iv.end.After(t)
}

// Detect returns every pair of calls whose occupancy intervals overlap on
// the same berth, ordered by berth, then by the start of each call.
//
// Cancelled calls, calls without a known start and calls whose end does
// not come after their start are ignored.
func Detect(calls []model.PortCall) []model.Conflict {
	groups := make(map[string][]interval)
	for i := range calls {
		pc := &calls[i]
		if pc.Status == model.StatusCancelled {
			continue
		}
		berth := identity.NormalizeLocation(pc.BerthID)
		if berth == "" {
			continue
		}
		start, end, ok, open := pc.Occupancy()
		if !ok || (!open && !end.After(start)) {
			continue
		}
		groups[berth] = append(groups[berth], interval{pc: pc, start: start, end: end, open: open})
	}

	out := make([]model.Conflict, 0)
	for berth, ivs := range groups {
		out = append(out, sweep(berth, ivs)...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.BerthID != b.BerthID {
			return a.BerthID < b.BerthID
		}
		if !a.StartA.Equal(b.StartA) {
			return a.StartA.Before(b.StartA)
		}
		if !a.StartB.Equal(b.StartB) {
			return a.StartB.Before(b.StartB)
		}
		if a.CallIDA != b.CallIDA {
			return a.CallIDA < b.CallIDA
		}
		return a.CallIDB < b.CallIDB
	})
	return out
}

func sweep(berth string, ivs []interval) []model.Conflict {
	sort.Slice(ivs, func(i, j int) bool {
		a, b := ivs[i], ivs[j]
		if !a.start.Equal(b.start) {
			return a.start.Before(b.start)
		}
		if a.open != b.open {
			return b.open
		}
		if !a.end.Equal(b.end) {
			return a.end.Before(b.end)
		}
		return a.pc.PortCallID < b.pc.PortCallID
	})

	var (
		out         []model.Conflict
		active      []interval
		runningEnd  time.Time
		runningOpen bool
	)
	for _, iv := range ivs {
		if !runningOpen && !iv.start.Before(runningEnd) {
			// nothing active reaches this start
			active = active[:0]
		} else {
			kept := active[:0]
			for _, a := range active {
				if a.endsAfter(iv.start) {
					kept = append(kept, a)
					out = append(out, newConflict(berth, a, iv))
				}
			}
			active = kept
		}
		active = append(active, iv)
		if iv.open {
			runningOpen = true
		} else if iv.end.After(runningEnd) {
			runningEnd = iv.end
		}
	}
	return out
}

func newConflict(berth string, a, b interval) model.Conflict {
	c := model.Conflict{
		ConflictID: ID(berth, a.pc.PortCallID, b.pc.PortCallID),
		Kind:       model.ConflictOverlap,
		BerthID:    berth,
		CallIDA:    a.pc.PortCallID,
		CallIDB:    b.pc.PortCallID,
		VesselA:    a.pc.VesselName,
		VesselB:    b.pc.VesselName,
		StartA:     a.start,
		StartB:     b.start,
		OpenEnded:  a.open || b.open,
	}
	if a.pc.Terminal == b.pc.Terminal {
		c.Terminal = a.pc.Terminal
	}
	if !a.open {
		end := a.end
		c.EndA = &end
	}
	if !b.open {
		end := b.end
		c.EndB = &end
	}

	// b starts inside a, so the overlap runs from b's start to the earlier end
	var overlapEnd time.Time
	switch {
	case a.open && b.open:
	case a.open:
		overlapEnd = b.end
	case b.open:
		overlapEnd = a.end
	case a.end.Before(b.end):
		overlapEnd = a.end
	default:
		overlapEnd = b.end
	}
	if !overlapEnd.IsZero() {
		m := int64(overlapEnd.Sub(b.start) / time.Minute)
		c.OverlapMinutes = &m
	}
	c.Description = describe(c)
	return c
}

func describe(c model.Conflict) string {
	a, b := vesselLabel(c.VesselA, c.CallIDA), vesselLabel(c.VesselB, c.CallIDB)
	if c.OverlapMinutes == nil {
		return fmt.Sprintf("berth %s: %s and %s both occupy the berth with no departure time (open-ended since %s)",
			c.BerthID, a, b, c.StartB.Format("2006-01-02 15:04Z"))
	}
	suffix := ""
	if c.OpenEnded {
		suffix = ", open-ended"
	}
	return fmt.Sprintf("berth %s: %s and %s overlap by %s min from %s%s",
		c.BerthID, a, b, humanize.Comma(*c.OverlapMinutes), c.StartB.Format("2006-01-02 15:04Z"), suffix)
}

func vesselLabel(name, id string) string {
	if name == "" {
		return id
	}
	return name
}

// ID is the stable identifier of the conflict between calls a and b on
// berth. Acknowledgements are stored against it.
func ID(berth, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("cf-%016x", xxh3.HashString(berth+"\x1f"+a+"\x1f"+b))
}
