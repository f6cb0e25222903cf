package merge

import (
	"errors"
	"fmt"
	"time"

	"berthing-hub/core/model"
)

var ErrConflictingActual = errors.New("conflicting actual")

// Times carries the R/E/O instants a record offers for one event. Zero
// values are absent.
type Times struct {
	Registered time.Time
	Estimated  time.Time
	Occurred   time.Time
}

func (t Times) IsZero() bool {
	return t.Registered.IsZero() && t.Estimated.IsZero() && t.Occurred.IsZero()
}

// Partial is one normalized source record addressed to a port call.
type Partial struct {
	PortCallID string
	Source     model.Category
	ObservedAt time.Time

	IMO        string
	VesselName string
	VoyageIn   string
	VoyageOut  string
	Terminal   string
	BerthID    string
	Priority   model.PriorityClass

	ETA         Times
	ETB         Times
	ETD         Times
	CargoOpsEnd time.Time
	Status      model.Status

	OperationType string
	Agency        string
	Observations  string
	Incidents     string
}

type WarningKind string

const (
	WarnConflictingActual WarningKind = "conflicting_actual"
	WarnActualCorrected   WarningKind = "actual_corrected"
	WarnNotPermitted      WarningKind = "not_permitted"
	WarnStatusRegression  WarningKind = "status_regression"
)

// Warning describes an incoming value that was discarded or that replaced
// an already resolved actual.
type Warning struct {
	PortCallID string         `json:"port_call_id"`
	Kind       WarningKind    `json:"kind"`
	Field      string         `json:"field"`
	Existing   string         `json:"existing,omitempty"`
	Incoming   string         `json:"incoming"`
	Source     model.Category `json:"source"`
	Reason     string         `json:"reason,omitempty"`
}

// Err exposes conflicting actuals as errors matching ErrConflictingActual.
func (w Warning) Err() error {
	if w.Kind != WarnConflictingActual {
		return nil
	}
	return fmt.Errorf("%w: %s on %s: have %s, got %s from %s", ErrConflictingActual, w.Field, w.PortCallID, w.Existing, w.Incoming, w.Source)
}

// Result summarises one Apply.
type Result struct {
	Created    bool         `json:"created"`
	Changed    bool         `json:"changed"`
	StatusFrom model.Status `json:"status_from,omitempty"`
	StatusTo   model.Status `json:"status_to,omitempty"`
	EventType  string       `json:"event_type,omitempty"`
	Warnings   []Warning    `json:"warnings,omitempty"`
}
