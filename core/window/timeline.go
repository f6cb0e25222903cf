package window

import (
	"sort"
	"time"

	"berthing-hub/core/identity"
	"berthing-hub/core/model"
)

type TimelineEntry struct {
	PortCallID string       `json:"port_call_id"`
	VesselName string       `json:"vessel_name"`
	Status     model.Status `json:"status"`
	Start      *time.Time   `json:"start,omitempty"`
	End        *time.Time   `json:"end,omitempty"`
	OpenEnded  bool         `json:"open_ended"`
}

type BerthTimeline struct {
	BerthID string          `json:"berth_id"`
	Calls   []TimelineEntry `json:"calls"`
}

type TerminalTimeline struct {
	Terminal string          `json:"terminal"`
	Berths   []BerthTimeline `json:"berths"`
}

// Timeline groups calls by terminal and berth, each berth ordered by
// occupancy start. Calls with no known start come last.
func Timeline(calls []model.PortCall) []TerminalTimeline {
	byTerminal := make(map[string]map[string][]TimelineEntry)
	for _, pc := range calls {
		terminal := identity.NormalizeLocation(pc.Terminal)
		berth := identity.NormalizeLocation(pc.BerthID)
		if byTerminal[terminal] == nil {
			byTerminal[terminal] = make(map[string][]TimelineEntry)
		}
		e := TimelineEntry{PortCallID: pc.PortCallID, VesselName: pc.VesselName, Status: pc.Status}
		start, end, hasStart, open := pc.Occupancy()
		if hasStart {
			e.Start = &start
		}
		if !open {
			e.End = &end
		}
		e.OpenEnded = hasStart && open
		byTerminal[terminal][berth] = append(byTerminal[terminal][berth], e)
	}

	out := make([]TerminalTimeline, 0, len(byTerminal))
	for terminal, berths := range byTerminal {
		tt := TerminalTimeline{Terminal: terminal, Berths: make([]BerthTimeline, 0, len(berths))}
		for berth, entries := range berths {
			sort.SliceStable(entries, func(i, j int) bool { return before(entries[i], entries[j]) })
			tt.Berths = append(tt.Berths, BerthTimeline{BerthID: berth, Calls: entries})
		}
		sort.Slice(tt.Berths, func(i, j int) bool { return tt.Berths[i].BerthID < tt.Berths[j].BerthID })
		out = append(out, tt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Terminal < out[j].Terminal })
	return out
}

func before(a, b TimelineEntry) bool {
	switch {
	case a.Start == nil && b.Start == nil:
		return a.PortCallID < b.PortCallID
	case a.Start == nil:
		return false
	case b.Start == nil:
		return true
	case !a.Start.Equal(*b.Start):
		return a.Start.Before(*b.Start)
	default:
		return a.PortCallID < b.PortCallID
	}
}
