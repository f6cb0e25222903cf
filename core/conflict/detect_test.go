package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"berthing-hub/core/model"
)

func hm(h, m int) time.Time {
	return time.Date(2024, 1, 10, h, m, 0, 0, time.UTC)
}

func stamp(t time.Time) *model.Stamp {
	return &model.Stamp{At: t, Source: model.SourceBerthed}
}

// call builds a berthed call on [start, end); a zero end leaves it open.
func call(id, berth string, start, end time.Time) model.PortCall {
	pc := model.PortCall{PortCallID: id, VesselName: "V " + id, Terminal: "T", BerthID: berth, Status: model.StatusBerthed}
	pc.ETB.Occurred = stamp(start)
	if !end.IsZero() {
		pc.ETD.Occurred = stamp(end)
	}
	return pc
}

func TestDetectScenario(t *testing.T) {
	x := call("X", "B", hm(10, 0), hm(14, 0))
	y := call("Y", "B", hm(13, 30), hm(16, 0))

	got := Detect([]model.PortCall{x, y})
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "B", c.BerthID)
	assert.Equal(t, "X", c.CallIDA)
	assert.Equal(t, "Y", c.CallIDB)
	require.NotNil(t, c.OverlapMinutes)
	assert.Equal(t, int64(30), *c.OverlapMinutes)
	assert.Equal(t, model.ConflictOverlap, c.Kind)
	assert.Contains(t, c.Description, "V X")
	assert.Contains(t, c.Description, "30 min")

	y = call("Y", "B", hm(14, 0), hm(16, 0))
	assert.Empty(t, Detect([]model.PortCall{x, y}))
}

func TestDetectIsSymmetric(t *testing.T) {
	x := call("X", "B", hm(10, 0), hm(14, 0))
	y := call("Y", "B", hm(13, 30), hm(16, 0))

	ab := Detect([]model.PortCall{x, y})
	ba := Detect([]model.PortCall{y, x})
	assert.Equal(t, ab, ba)
	assert.Equal(t, ID("B", "X", "Y"), ID("B", "Y", "X"))
}

func TestDetectUsesEstimatesAndOpenEnds(t *testing.T) {
	still := call("A", "B", hm(8, 0), time.Time{})
	planned := model.PortCall{PortCallID: "P", BerthID: "b", Terminal: "T", Status: model.StatusPlanned}
	planned.ETB.Estimated = stamp(hm(20, 0))
	planned.ETD.Estimated = stamp(hm(23, 0))
	earlier := call("E", "B", hm(6, 0), hm(7, 0))

	got := Detect([]model.PortCall{planned, still, earlier})
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "A", c.CallIDA)
	assert.Equal(t, "P", c.CallIDB)
	assert.True(t, c.OpenEnded)
	assert.Nil(t, c.EndA)
	require.NotNil(t, c.OverlapMinutes)
	assert.Equal(t, int64(180), *c.OverlapMinutes)

	other := call("O", "B", hm(9, 0), time.Time{})
	got = Detect([]model.PortCall{still, other})
	require.Len(t, got, 1)
	assert.Nil(t, got[0].OverlapMinutes)
	assert.Contains(t, got[0].Description, "open-ended")
}

func TestDetectFindsAllPairsUnderLongInterval(t *testing.T) {
	long := call("L", "B", hm(0, 0), hm(23, 0))
	a := call("A", "B", hm(1, 0), hm(2, 0))
	b := call("B1", "B", hm(3, 0), hm(4, 0))
	c := call("C", "B", hm(3, 30), hm(5, 0))

	got := Detect([]model.PortCall{c, b, a, long})
	pairs := make([][2]string, 0, len(got))
	for _, cf := range got {
		pairs = append(pairs, [2]string{cf.CallIDA, cf.CallIDB})
	}
	assert.Equal(t, [][2]string{{"L", "A"}, {"L", "B1"}, {"L", "C"}, {"B1", "C"}}, pairs)
}

func TestDetectSkipsIrrelevantCalls(t *testing.T) {
	cancelled := call("C", "B", hm(10, 0), hm(14, 0))
	cancelled.Status = model.StatusCancelled
	other := call("O", "OTHER", hm(10, 0), hm(14, 0))
	noStart := model.PortCall{PortCallID: "N", BerthID: "B"}
	inverted := call("I", "B", hm(12, 0), hm(11, 0))
	live := call("L", "B", hm(11, 0), hm(15, 0))

	assert.Empty(t, Detect([]model.PortCall{cancelled, other, noStart, inverted, live}))
	assert.NotNil(t, Detect(nil))
}

func TestDetectOrdersByBerth(t *testing.T) {
	got := Detect([]model.PortCall{
		call("Z1", "Z", hm(1, 0), hm(3, 0)),
		call("Z2", "Z", hm(2, 0), hm(4, 0)),
		call("A1", "A", hm(5, 0), hm(7, 0)),
		call("A2", "A", hm(6, 0), hm(8, 0)),
	})
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].BerthID)
	assert.Equal(t, "Z", got[1].BerthID)
}
