package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"berthing-hub/core/ingest"
	"berthing-hub/core/source"
	"berthing-hub/shared/events"
	"berthing-hub/shared/mqx"
)

// DecodeRaw unwraps a portcall.raw message. A batch without observed_at
// takes the envelope's occurred_at.
func DecodeRaw(b []byte) (source.Batch, error) {
	env, err := events.Decode(b)
	if err != nil {
		return source.Batch{}, err
	}
	if env.EventType != events.EventBatchPublished {
		return source.Batch{}, errors.Join(events.ErrInvalidEnvelope, fmt.Errorf("unexpected event type %q", env.EventType))
	}
	var batch source.Batch
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.UseNumber()
	if err := dec.Decode(&batch); err != nil {
		return source.Batch{}, errors.Join(events.ErrInvalidEnvelope, err)
	}
	if batch.ObservedAt.IsZero() {
		batch.ObservedAt = env.OccurredAt
	}
	return batch, nil
}

// Handler ingests one raw batch per message. Messages that can never
// succeed are marked mqx.ErrSkip so they are committed; store failures
// are returned as is and the message is fetched again.
func Handler(p *ingest.Pipeline, onReport func(context.Context, ingest.Report)) mqx.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		batch, err := DecodeRaw(msg.Value)
		if err != nil {
			return errors.Join(mqx.ErrSkip, err)
		}
		rep, err := p.Run(ctx, []source.Batch{batch})
		if errors.Is(err, source.ErrUnknownSource) {
			return errors.Join(mqx.ErrSkip, err)
		}
		if err != nil {
			return err
		}
		if onReport != nil {
			onReport(ctx, rep)
		}
		return nil
	}
}
