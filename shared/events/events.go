package events

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidEnvelope = errors.New("invalid event envelope")

type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

const (
	// TopicPortCallRaw carries one source.Batch per message.
	TopicPortCallRaw = "portcall.raw"
	// TopicPortCallMerged carries the merged record after every change.
	TopicPortCallMerged = "portcall.merged"
	TopicBerthConflicts = "berth.conflicts"
)

const (
	AggregatePortCall = "port_call"
	AggregateBatch    = "source_batch"
	AggregateBerths   = "berths"

	EventPortCallCreated   = "portcall.created"
	EventPortCallUpdated   = "portcall.updated"
	EventBatchPublished    = "batch.published"
	EventConflictsDetected = "conflicts.detected"
)

// New wraps payload in an envelope with a fresh id.
func New(aggregateType, aggregateID, eventType string, payload any, occurredAt time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return Envelope{
		EventID:       uuid.New(),
		OccurredAt:    occurredAt.UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

// Decode reads an envelope off the wire and rejects ones missing an id,
// a type or a payload.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, errors.Join(ErrInvalidEnvelope, err)
	}
	switch {
	case env.EventID == uuid.Nil:
		return Envelope{}, errors.Join(ErrInvalidEnvelope, errors.New("missing event_id"))
	case strings.TrimSpace(env.EventType) == "":
		return Envelope{}, errors.Join(ErrInvalidEnvelope, errors.New("missing event_type"))
	case len(env.Payload) == 0 || string(env.Payload) == "null":
		return Envelope{}, errors.Join(ErrInvalidEnvelope, errors.New("missing payload"))
	}
	return env, nil
}
