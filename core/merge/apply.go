package merge

import (
	"slices"
	"strings"
	"time"

	"berthing-hub/core/identity"
	"berthing-hub/core/model"
	"berthing-hub/shared/workflow"
)

// Apply folds p into pc in place. pc may be the zero value, in which case
// it is initialised from p.
//
// Registered and estimated values follow a total order (source precedence,
// then observation time, then the instant itself), which makes them
// independent of arrival order and idempotent. Occurred values are fixed
// once set; only the authoritative-actual source may replace them.
// Metadata is last-non-empty-wins.
func Apply(pc *model.PortCall, p Partial) Result {
	a := applier{pc: pc, p: p}
	if pc.PortCallID == "" {
		pc.PortCallID = p.PortCallID
		pc.Status = model.StatusPlanned
		pc.FirstSeenAt = p.ObservedAt.UTC()
		a.res.Created = true
		a.res.Changed = true
	}
	a.res.StatusFrom = pc.Status

	a.forecast(model.FieldETARegistered, &pc.ETA.Registered, p.ETA.Registered)
	a.forecast(model.FieldETAEstimated, &pc.ETA.Estimated, p.ETA.Estimated)
	a.forecast(model.FieldETBRegistered, &pc.ETB.Registered, p.ETB.Registered)
	a.forecast(model.FieldETBEstimated, &pc.ETB.Estimated, p.ETB.Estimated)
	a.forecast(model.FieldETDRegistered, &pc.ETD.Registered, p.ETD.Registered)
	a.forecast(model.FieldETDEstimated, &pc.ETD.Estimated, p.ETD.Estimated)

	a.actual(model.FieldATA, p.ETA.Occurred)
	a.actual(model.FieldATB, p.ETB.Occurred)
	a.actual(model.FieldATD, p.ETD.Occurred)
	a.cargoOpsEnd(p.CargoOpsEnd)

	a.status(p.Status)
	a.advance()
	a.metadata()
	a.source()

	a.res.StatusTo = pc.Status
	if a.res.StatusFrom != a.res.StatusTo {
		a.res.EventType = workflow.EventTypeForTransition(string(a.res.StatusFrom), string(a.res.StatusTo))
	}
	if a.res.Changed && !a.res.Created {
		pc.Revision++
	} else if a.res.Created {
		pc.Revision = 1
	}
	return a.res
}

type applier struct {
	pc  *model.PortCall
	p   Partial
	res Result
}

func (a *applier) stamp(at time.Time) *model.Stamp {
	return &model.Stamp{At: at.UTC(), Source: a.p.Source, ObservedAt: a.p.ObservedAt.UTC()}
}

func (a *applier) warn(kind WarningKind, field model.Field, existing *model.Stamp, incoming time.Time, reason string) {
	w := Warning{
		PortCallID: a.pc.PortCallID,
		Kind:       kind,
		Field:      string(field),
		Incoming:   incoming.UTC().Format(time.RFC3339),
		Source:     a.p.Source,
		Reason:     reason,
	}
	if existing != nil {
		w.Existing = existing.At.Format(time.RFC3339)
	}
	a.res.Warnings = append(a.res.Warnings, w)
}

func (a *applier) permitted(field model.Field, at time.Time) bool {
	if a.p.Source.Permits(field) {
		return true
	}
	a.warn(WarnNotPermitted, field, nil, at, "source may not populate this field")
	return false
}

// outranks is the total order used for registered and estimated values and
// for choosing between two authoritative actuals.
func outranks(in, cur *model.Stamp) bool {
	if r1, r2 := in.Source.Rank(), cur.Source.Rank(); r1 != r2 {
		return r1 > r2
	}
	if !in.ObservedAt.Equal(cur.ObservedAt) {
		return in.ObservedAt.After(cur.ObservedAt)
	}
	return in.At.After(cur.At)
}

// overrides reports whether an incoming actual may replace an existing one.
func overrides(in, cur *model.Stamp) bool {
	if !in.Source.AuthoritativeActual() {
		return false
	}
	if !cur.Source.AuthoritativeActual() {
		return true
	}
	return outranks(in, cur)
}

func (a *applier) forecast(field model.Field, cur **model.Stamp, at time.Time) {
	if at.IsZero() || !a.permitted(field, at) {
		return
	}
	in := a.stamp(at)
	if *cur == nil || outranks(in, *cur) {
		*cur = in
		a.res.Changed = true
	}
}

func (a *applier) actualSlot(field model.Field) **model.Stamp {
	switch field {
	case model.FieldATA:
		return &a.pc.ETA.Occurred
	case model.FieldATB:
		return &a.pc.ETB.Occurred
	default:
		return &a.pc.ETD.Occurred
	}
}

var actualOrder = []model.Field{model.FieldATA, model.FieldATB, model.FieldATD}

func (a *applier) actual(field model.Field, at time.Time) {
	if at.IsZero() || !a.permitted(field, at) {
		return
	}
	slot := a.actualSlot(field)
	in := a.stamp(at)
	cur := *slot

	if cur != nil {
		if cur.At.Equal(in.At) {
			// same instant; keep the better provenance so the result does
			// not depend on which source came first
			if outranks(in, cur) {
				*slot = in
				a.res.Changed = true
			}
			return
		}
		if !overrides(in, cur) {
			a.warn(WarnConflictingActual, field, cur, at, "occurred value already resolved")
			return
		}
	}

	// ATA <= ATB <= ATD must hold. A conflicting neighbour is evicted only
	// when the incoming value overrides it.
	var evict []**model.Stamp
	idx := slices.Index(actualOrder, field)
	for i, other := range actualOrder {
		if i == idx {
			continue
		}
		nb := *a.actualSlot(other)
		if nb == nil {
			continue
		}
		bad := (i < idx && nb.At.After(in.At)) || (i > idx && nb.At.Before(in.At))
		if !bad {
			continue
		}
		if !overrides(in, nb) {
			a.warn(WarnConflictingActual, field, nb, at, "out_of_order with "+string(other))
			return
		}
		evict = append(evict, a.actualSlot(other))
	}
	for _, s := range evict {
		*s = nil
	}
	if cur != nil {
		a.warn(WarnActualCorrected, field, cur, at, "corrected by authoritative source")
	}
	*slot = in
	a.res.Changed = true
}

func (a *applier) cargoOpsEnd(at time.Time) {
	if at.IsZero() || !a.permitted(model.FieldCargoOpsEnd, at) {
		return
	}
	in := a.stamp(at)
	cur := a.pc.CargoOpsEnd
	switch {
	case cur == nil:
	case cur.At.Equal(in.At):
		if !outranks(in, cur) {
			return
		}
	case !overrides(in, cur):
		a.warn(WarnConflictingActual, model.FieldCargoOpsEnd, cur, at, "occurred value already resolved")
		return
	}
	a.pc.CargoOpsEnd = in
	a.res.Changed = true
}

// floor is the furthest lifecycle status proven by actual timestamps.
func (a *applier) floor() model.Status {
	switch {
	case a.pc.ETD.Occurred != nil:
		return model.StatusDeparted
	case a.pc.ETB.Occurred != nil:
		return model.StatusBerthed
	case a.pc.ETA.Occurred != nil:
		return model.StatusArrived
	default:
		return model.StatusPlanned
	}
}

// status folds in a reported status. A status only moves up in rank: it
// never leaves departed or cancelled, and apart from cancelled it never
// lands below what the actuals prove. The outcome depends only on the
// current record and p, so re-applying p is a no-op.
func (a *applier) status(raw model.Status) {
	if raw == "" {
		return
	}
	to := model.Status(workflow.NormalizeStatus(string(raw)))
	if !workflow.IsKnownStatus(string(to)) {
		return
	}
	from := a.pc.Status
	if to == from {
		return
	}
	if !a.p.Source.PermitsStatus(to) {
		a.statusWarning(WarnNotPermitted, from, to, "source may not report this status")
		return
	}
	if workflow.IsTerminal(string(from)) {
		a.statusWarning(WarnStatusRegression, from, to, "status is terminal")
		return
	}
	belowFloor := to != model.StatusCancelled && workflow.Rank(string(to)) < workflow.Rank(string(a.floor()))
	if !workflow.CanTransition(string(from), string(to)) || belowFloor {
		a.statusWarning(WarnStatusRegression, from, to, "status may only move forward")
		return
	}
	a.pc.Status = to
	a.res.Changed = true
}

func (a *applier) statusWarning(kind WarningKind, from, to model.Status, reason string) {
	a.res.Warnings = append(a.res.Warnings, Warning{
		PortCallID: a.pc.PortCallID, Kind: kind, Field: "status",
		Existing: string(from), Incoming: string(to), Source: a.p.Source,
		Reason: reason,
	})
}

// advance lifts the status to what actual timestamps prove.
func (a *applier) advance() {
	cur := a.pc.Status
	if workflow.IsTerminal(string(cur)) {
		return
	}
	if floor := a.floor(); workflow.Rank(string(cur)) < workflow.Rank(string(floor)) {
		a.pc.Status = floor
		a.res.Changed = true
	}
}

func (a *applier) setString(dst *string, v string) {
	v = strings.TrimSpace(v)
	if v == "" || v == *dst {
		return
	}
	*dst = v
	a.res.Changed = true
}

func (a *applier) metadata() {
	p := a.p
	if imo, ok := identity.NormalizeIMO(p.IMO); ok {
		a.setString(&a.pc.IMO, imo)
	}
	a.setString(&a.pc.VesselName, p.VesselName)
	a.setString(&a.pc.VoyageIn, identity.NormalizeLocation(p.VoyageIn))
	a.setString(&a.pc.VoyageOut, identity.NormalizeLocation(p.VoyageOut))
	a.setString(&a.pc.Terminal, identity.NormalizeLocation(p.Terminal))
	a.setString(&a.pc.BerthID, identity.NormalizeLocation(p.BerthID))
	a.setString(&a.pc.OperationType, p.OperationType)
	a.setString(&a.pc.Agency, p.Agency)
	a.setString(&a.pc.Observations, p.Observations)
	a.setString(&a.pc.Incidents, p.Incidents)
	if p.Priority != model.PriorityUnset && p.Priority != a.pc.Priority {
		a.pc.Priority = p.Priority
		a.res.Changed = true
	}
}

func (a *applier) source() {
	if !a.p.Source.Valid() || a.pc.HasSource(a.p.Source) {
		return
	}
	a.pc.Sources = append(a.pc.Sources, a.p.Source)
	slices.SortFunc(a.pc.Sources, func(x, y model.Category) int { return x.Rank() - y.Rank() })
	a.res.Changed = true
}
