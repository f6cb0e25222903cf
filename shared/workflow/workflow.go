package workflow

import "strings"

const (
	StatusPlanned            = "planned"
	StatusEstimatedConfirmed = "estimated_confirmed"
	StatusArrived            = "arrived"
	StatusBerthed            = "berthed"
	StatusDeparted           = "departed"
	StatusCancelled          = "cancelled"
	StatusDelayed            = "delayed"
)

const (
	EventConfirmed = "portcall_confirmed"
	EventArrived   = "portcall_arrived"
	EventBerthed   = "portcall_berthed"
	EventDeparted  = "portcall_departed"
	EventCancelled = "portcall_cancelled"
	EventDelayed   = "portcall_delayed"
)

// statusTransitions lists the moves a merge may make. Every move goes up
// in Rank and nothing leaves a terminal status, so the status a call ends
// with does not depend on the order its records arrive in.
var statusTransitions = map[string]map[string]string{
	StatusPlanned: {
		StatusEstimatedConfirmed: EventConfirmed,
		StatusDelayed:            EventDelayed,
		StatusArrived:            EventArrived,
		StatusBerthed:            EventBerthed,
		StatusDeparted:           EventDeparted,
		StatusCancelled:          EventCancelled,
	},
	StatusEstimatedConfirmed: {
		StatusDelayed:   EventDelayed,
		StatusArrived:   EventArrived,
		StatusBerthed:   EventBerthed,
		StatusDeparted:  EventDeparted,
		StatusCancelled: EventCancelled,
	},
	StatusDelayed: {
		StatusArrived:   EventArrived,
		StatusBerthed:   EventBerthed,
		StatusDeparted:  EventDeparted,
		StatusCancelled: EventCancelled,
	},
	StatusArrived: {
		StatusBerthed:   EventBerthed,
		StatusDeparted:  EventDeparted,
		StatusCancelled: EventCancelled,
	},
	StatusBerthed: {
		StatusDeparted:  EventDeparted,
		StatusCancelled: EventCancelled,
	},
}

// Source systems report operation state in their own vocabulary.
var statusAliases = map[string]string{
	"planejado":               StatusPlanned,
	"pendente":                StatusEstimatedConfirmed,
	"confirmado":              StatusEstimatedConfirmed,
	"aguardando_navio":        StatusEstimatedConfirmed,
	"aguardando_documentacao": StatusEstimatedConfirmed,
	"fundeado":                StatusArrived,
	"chegou":                  StatusArrived,
	"em_andamento":            StatusBerthed,
	"parcial":                 StatusBerthed,
	"atracado":                StatusBerthed,
	"concluido":               StatusDeparted,
	"concluida":               StatusDeparted,
	"desatracado":             StatusDeparted,
	"cancelado":               StatusCancelled,
	"cancelada":               StatusCancelled,
	"atraso":                  StatusDelayed,
	"atrasado":                StatusDelayed,
	"concluida_com_atraso":    StatusDelayed,
	"canceled":                StatusCancelled,
	"confirmed":               StatusEstimatedConfirmed,
}

// NormalizeStatus folds case, spacing and known source aliases onto the
// canonical status names. Unknown values are returned folded but unmapped.
func NormalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	s = strings.ReplaceAll(s, " ", "_")
	if mapped, ok := statusAliases[s]; ok {
		return mapped
	}
	return s
}

func IsKnownStatus(status string) bool {
	_, ok := rank[NormalizeStatus(status)]
	return ok
}

func CanTransition(fromStatus string, toStatus string) bool {
	fromStatus = NormalizeStatus(fromStatus)
	toStatus = NormalizeStatus(toStatus)
	if fromStatus == toStatus {
		return true
	}
	next := statusTransitions[fromStatus]
	if next == nil {
		return false
	}
	_, ok := next[toStatus]
	return ok
}

func EventTypeForTransition(fromStatus string, toStatus string) string {
	fromStatus = NormalizeStatus(fromStatus)
	toStatus = NormalizeStatus(toStatus)
	if fromStatus == toStatus {
		return ""
	}
	next := statusTransitions[fromStatus]
	if next == nil {
		return ""
	}
	return next[toStatus]
}

func IsTerminal(status string) bool {
	status = NormalizeStatus(status)
	return status == StatusDeparted || status == StatusCancelled
}

// rank orders statuses for merging. delayed is a pre-arrival state: once
// an actual proves the vessel is in, lateness is read from the timestamps.
// The two terminal statuses share the top rank.
var rank = map[string]int{
	StatusPlanned:            0,
	StatusEstimatedConfirmed: 1,
	StatusDelayed:            2,
	StatusArrived:            3,
	StatusBerthed:            4,
	StatusDeparted:           5,
	StatusCancelled:          5,
}

// Rank is the position of a status in merge order, -1 when unknown.
func Rank(status string) int {
	r, ok := rank[NormalizeStatus(status)]
	if !ok {
		return -1
	}
	return r
}

func AllStatuses() []string {
	return []string{
		StatusPlanned,
		StatusEstimatedConfirmed,
		StatusDelayed,
		StatusArrived,
		StatusBerthed,
		StatusDeparted,
		StatusCancelled,
	}
}
