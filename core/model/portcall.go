package model

import (
	"slices"
	"time"

	"berthing-hub/shared/workflow"
)

type Status string

const (
	StatusPlanned            Status = workflow.StatusPlanned
	StatusEstimatedConfirmed Status = workflow.StatusEstimatedConfirmed
	StatusArrived            Status = workflow.StatusArrived
	StatusBerthed            Status = workflow.StatusBerthed
	StatusDeparted           Status = workflow.StatusDeparted
	StatusCancelled          Status = workflow.StatusCancelled
	StatusDelayed            Status = workflow.StatusDelayed
)

// Stamp is one populated R/E/O sub-field together with the source that
// supplied it.
type Stamp struct {
	At         time.Time `json:"at"`
	Source     Category  `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

// Value returns the instant carried by s. A nil stamp is absent.
func (s *Stamp) Value() (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	return s.At, true
}

// TimestampTriple is one event (arrival, berthing or departure) as
// registered, estimated and actually observed.
type TimestampTriple struct {
	Registered *Stamp `json:"registered,omitempty"`
	Estimated  *Stamp `json:"estimated,omitempty"`
	Occurred   *Stamp `json:"occurred,omitempty"`
}

func (t TimestampTriple) RegisteredAt() (time.Time, bool) { return t.Registered.Value() }
func (t TimestampTriple) EstimatedAt() (time.Time, bool)  { return t.Estimated.Value() }
func (t TimestampTriple) OccurredAt() (time.Time, bool)   { return t.Occurred.Value() }

// Forecast prefers the estimated value and falls back to the registered one.
func (t TimestampTriple) Forecast() (time.Time, bool) {
	if v, ok := t.Estimated.Value(); ok {
		return v, true
	}
	return t.Registered.Value()
}

func (t TimestampTriple) IsZero() bool {
	return t.Registered == nil && t.Estimated == nil && t.Occurred == nil
}

// PortCall is one vessel visit to one berth.
type PortCall struct {
	PortCallID    string          `json:"port_call_id"`
	IMO           string          `json:"imo,omitempty"`
	VesselName    string          `json:"vessel_name"`
	VoyageIn      string          `json:"voyage_in,omitempty"`
	VoyageOut     string          `json:"voyage_out,omitempty"`
	Terminal      string          `json:"terminal"`
	BerthID       string          `json:"berth_id"`
	Priority      PriorityClass   `json:"priority_class,omitempty"`
	ETA           TimestampTriple `json:"eta"`
	ETB           TimestampTriple `json:"etb"`
	ETD           TimestampTriple `json:"etd"`
	CargoOpsEnd   *Stamp          `json:"cargo_ops_end,omitempty"`
	Status        Status          `json:"status"`
	OperationType string          `json:"operation_type,omitempty"`
	Agency        string          `json:"agency,omitempty"`
	Observations  string          `json:"observations,omitempty"`
	Incidents     string          `json:"incidents,omitempty"`
	Sources       []Category      `json:"sources"`
	Revision      int64           `json:"revision"`
	FirstSeenAt   time.Time       `json:"first_seen_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (pc PortCall) ATA() (time.Time, bool) { return pc.ETA.OccurredAt() }
func (pc PortCall) ATB() (time.Time, bool) { return pc.ETB.OccurredAt() }
func (pc PortCall) ATD() (time.Time, bool) { return pc.ETD.OccurredAt() }

// Occupancy returns the berth occupancy interval [start, end). hasStart is
// false when neither ATB nor an estimated ETB is known; openEnd is true
// when neither ATD nor an estimated ETD is known.
func (pc PortCall) Occupancy() (start, end time.Time, hasStart, openEnd bool) {
	start, hasStart = pc.ATB()
	if !hasStart {
		start, hasStart = pc.ETB.EstimatedAt()
	}
	end, ok := pc.ATD()
	if !ok {
		end, ok = pc.ETD.EstimatedAt()
	}
	return start, end, hasStart, !ok
}

func (pc PortCall) HasSource(c Category) bool {
	return slices.Contains(pc.Sources, c)
}

// Clone returns a copy that shares no mutable state with pc. Stamps are
// treated as immutable values and are shared.
func (pc PortCall) Clone() PortCall {
	out := pc
	out.Sources = slices.Clone(pc.Sources)
	return out
}
