package influxx

import (
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"berthing-hub/core/identity"
	"berthing-hub/core/model"
)

const (
	MeasurementKPI       = "portcall_kpi"
	MeasurementConflicts = "berth_conflicts"
)

// KPIPoint turns a snapshot into one point. Absent metrics are left out
// rather than written as zero.
func KPIPoint(snap model.KPISnapshot) *write.Point {
	fields := map[string]any{
		"sample_count": snap.SampleCount,
		"rcj_target":   snap.RCJTarget,
	}
	add := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	add("mae_eta", snap.MAEETA)
	add("mae_etb", snap.MAEETB)
	add("mae_etd", snap.MAEETD)
	add("wb_ratio", snap.WBRatio)
	add("rcj_reliability", snap.RCJReliability)
	add("docs_sail_lt", snap.DocsSailLT)
	if snap.RCJTargetMet != nil {
		fields["rcj_target_met"] = *snap.RCJTargetMet
	}
	tags := map[string]string{"reference": string(snap.Reference)}
	return influxdb2.NewPoint(MeasurementKPI, tags, fields, snap.ComputedAt)
}

// ConflictPoints writes one point per berth with open and total counts.
// Berths are tagged by normalized terminal and berth id.
func ConflictPoints(conflicts []model.Conflict, at time.Time) []*write.Point {
	type key struct{ terminal, berth string }
	type counts struct{ total, open int }
	byBerth := map[key]*counts{}
	for _, c := range conflicts {
		k := key{identity.NormalizeLocation(c.Terminal), identity.NormalizeLocation(c.BerthID)}
		n := byBerth[k]
		if n == nil {
			n = &counts{}
			byBerth[k] = n
		}
		n.total++
		if !c.Resolved {
			n.open++
		}
	}
	keys := make([]key, 0, len(byBerth))
	for k := range byBerth {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].terminal != keys[j].terminal {
			return keys[i].terminal < keys[j].terminal
		}
		return keys[i].berth < keys[j].berth
	})
	out := make([]*write.Point, 0, len(keys))
	for _, k := range keys {
		n := byBerth[k]
		out = append(out, influxdb2.NewPoint(MeasurementConflicts,
			map[string]string{"terminal": k.terminal, "berth_id": k.berth},
			map[string]any{"total": n.total, "open": n.open},
			at,
		))
	}
	return out
}
