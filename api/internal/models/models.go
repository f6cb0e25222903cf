package models // persistence rows

import ( // imports
	"time" // timestamps

	"github.com/google/uuid" // ids
)

type OutboxEvent struct { // pending Kafka publication
	EventID       uuid.UUID  // event id, shared with the envelope
	AggregateType string     // e.g. port_call
	AggregateID   string     // port_call_id; also the Kafka key
	Topic         string     // destination topic
	Payload       []byte     // encoded events.Envelope
	Status        string     // pending/sending/delivered/dead
	Attempts      int        // delivery attempts so far
	NextRetryAt   *time.Time // earliest next attempt
	LockedAt      *time.Time // claim time
	LockedBy      *string    // claiming worker
	LastError     *string    // last delivery error
	CreatedAt     time.Time  // insert time
	UpdatedAt     time.Time  // last change
	PublishedAt   *time.Time // delivery time
}

type KPISnapshotRecord struct { // one persisted KPI computation
	SnapshotID    uuid.UUID  // row id
	ComputedAt    time.Time  // compute instant
	WindowStart   *time.Time // window lower bound
	WindowEnd     *time.Time // window upper bound (exclusive)
	Reference     string     // reference timestamp field
	SampleCount   int        // calls in the window
	ConflictCount int        // open conflicts at compute time
	Doc           []byte     // full model.KPISnapshot as JSON
}
