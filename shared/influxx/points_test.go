package influxx

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"berthing-hub/core/model"
)

func fieldMap(p *write.Point) map[string]any {
	out := map[string]any{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestKPIPointSkipsAbsentMetrics(t *testing.T) {
	rcj := 92.5
	met := true
	at := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	p := KPIPoint(model.KPISnapshot{
		RCJReliability: &rcj,
		RCJTarget:      85,
		RCJTargetMet:   &met,
		Reference:      model.RefFirstAvailable,
		SampleCount:    4,
		ComputedAt:     at,
	})

	if p.Name() != MeasurementKPI {
		t.Fatalf("expected measurement %q, got %q", MeasurementKPI, p.Name())
	}
	if !p.Time().Equal(at) {
		t.Fatalf("expected point time %v, got %v", at, p.Time())
	}
	fields := fieldMap(p)
	if fields["rcj_reliability"] != 92.5 || fields["rcj_target_met"] != true {
		t.Fatalf("unexpected fields: %#v", fields)
	}
	for _, absent := range []string{"mae_eta", "wb_ratio"} {
		if _, ok := fields[absent]; ok {
			t.Fatalf("expected %s to be skipped, got %#v", absent, fields)
		}
	}
}

func TestConflictPointsGroupByBerth(t *testing.T) {
	at := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	pts := ConflictPoints([]model.Conflict{
		{Terminal: "tecon", BerthID: "b1"},
		{Terminal: "TECON", BerthID: "B1", Resolved: true},
		{Terminal: "BTP", BerthID: "2"},
	}, at)

	if len(pts) != 2 {
		t.Fatalf("expected 2 points, got %d", len(pts))
	}
	if got := pts[0].TagList()[1].Value; got != "BTP" {
		t.Fatalf("expected BTP first, got %q", got)
	}
	first := fieldMap(pts[1])
	if first["total"] != int64(2) || first["open"] != int64(1) {
		t.Fatalf("unexpected counts: %#v", first)
	}
}
