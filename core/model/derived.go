package model

import "time"

const ConflictOverlap = "overlap"

// Conflict is a pair of calls whose occupancy intervals overlap on one
// berth. It is recomputed on demand and never stored.
type Conflict struct {
	ConflictID     string     `json:"conflict_id"`
	Kind           string     `json:"kind"`
	Terminal       string     `json:"terminal,omitempty"`
	BerthID        string     `json:"berth_id"`
	CallIDA        string     `json:"call_id_a"`
	CallIDB        string     `json:"call_id_b"`
	VesselA        string     `json:"vessel_a"`
	VesselB        string     `json:"vessel_b"`
	StartA         time.Time  `json:"start_a"`
	EndA           *time.Time `json:"end_a,omitempty"`
	StartB         time.Time  `json:"start_b"`
	EndB           *time.Time `json:"end_b,omitempty"`
	OverlapMinutes *int64     `json:"overlap_minutes,omitempty"`
	OpenEnded      bool       `json:"open_ended"`
	Description    string     `json:"description"`
	Resolved       bool       `json:"resolved"`
}

// RefField selects the timestamp a KPI window filters on.
type RefField string

const (
	RefATA            RefField = "ata"
	RefATB            RefField = "atb"
	RefATD            RefField = "atd"
	RefETA            RefField = "eta"
	RefETB            RefField = "etb"
	RefFirstAvailable RefField = "first_available"
)

type KPISamples struct {
	MAEETA     int `json:"mae_eta"`
	MAEETB     int `json:"mae_etb"`
	MAEETD     int `json:"mae_etd"`
	WBRatio    int `json:"wb_ratio"`
	RCJ        int `json:"rcj_reliability"`
	DocsSailLT int `json:"docs_sail_lt"`
}

// KPISnapshot is an immutable aggregate over a set of calls. Absent
// metrics are nil, never zero.
type KPISnapshot struct {
	MAEETA         *float64   `json:"mae_eta"`
	MAEETB         *float64   `json:"mae_etb"`
	MAEETD         *float64   `json:"mae_etd"`
	WBRatio        *float64   `json:"wb_ratio"`
	RCJReliability *float64   `json:"rcj_reliability"`
	RCJTarget      float64    `json:"rcj_target"`
	RCJTargetMet   *bool      `json:"rcj_target_met"`
	DocsSailLT     *float64   `json:"docs_sail_lt"`
	WindowStart    *time.Time `json:"window_start"`
	WindowEnd      *time.Time `json:"window_end"`
	Reference      RefField   `json:"reference"`
	SampleCount    int        `json:"sample_count"`
	Samples        KPISamples `json:"samples"`
	ComputedAt     time.Time  `json:"computed_at"`
}

// OpsEntry is one call in a current-operations bucket. Hours is elapsed
// time for the arrived and berthed buckets and remaining time otherwise.
type OpsEntry struct {
	PortCallID string  `json:"port_call_id"`
	VesselName string  `json:"vessel_name"`
	Terminal   string  `json:"terminal"`
	BerthID    string  `json:"berth_id"`
	Hours      float64 `json:"hours"`
	Label      string  `json:"label"`
}

type OpsSnapshot struct {
	Now              time.Time  `json:"now"`
	RecentlyArrived  []OpsEntry `json:"recently_arrived"`
	CurrentlyBerthed []OpsEntry `json:"currently_berthed"`
	ArrivingSoon     []OpsEntry `json:"arriving_soon"`
	DepartingSoon    []OpsEntry `json:"departing_soon"`
}
