package model

import "strings"

// PriorityClass is the berthing precedence category of a call.
type PriorityClass string

const (
	PriorityUnset        PriorityClass = ""
	PrioritySequential   PriorityClass = "sequential"
	PriorityPriority     PriorityClass = "priority"
	PriorityPreferential PriorityClass = "preferential"
	PriorityImmediate    PriorityClass = "immediate"
)

var priorityAliases = map[string]PriorityClass{
	"sequential":   PrioritySequential,
	"sequencial":   PrioritySequential,
	"priority":     PriorityPriority,
	"prioritaria":  PriorityPriority,
	"prioritária":  PriorityPriority,
	"preferential": PriorityPreferential,
	"preferencial": PriorityPreferential,
	"immediate":    PriorityImmediate,
	"imediata":     PriorityImmediate,
}

func ParsePriority(raw string) (PriorityClass, bool) {
	p, ok := priorityAliases[strings.ToLower(strings.TrimSpace(raw))]
	return p, ok
}

func (p PriorityClass) Rank() int {
	switch p {
	case PrioritySequential:
		return 1
	case PriorityPriority:
		return 2
	case PriorityPreferential:
		return 3
	case PriorityImmediate:
		return 4
	default:
		return 0
	}
}

// Outranks reports whether p takes scheduling precedence over other.
func (p PriorityClass) Outranks(other PriorityClass) bool {
	return p.Rank() > other.Rank()
}
