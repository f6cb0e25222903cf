package mqx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"

	"berthing-hub/shared/config"
	"berthing-hub/shared/events"
	"berthing-hub/shared/observability"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg config.Config) (*Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		MaxAttempts:  max(cfg.KafkaRetryMax, 1),
		BatchTimeout: time.Duration(cfg.KafkaWriteMS) * time.Millisecond,
		Transport: &kafka.Transport{
			ClientID: cfg.KafkaClientID,
		},
	}
	return &Producer{writer: w}, nil
}

// Publish writes one message. Keys are port call ids so that every change
// to a call lands on the same partition, in order.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) (err error) {
	if p == nil || p.writer == nil {
		return errors.New("producer not initialized")
	}
	ctx, span := observability.StartSpan(ctx, "kafka.produce",
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
	)
	defer func() { observability.EndSpan(span, err) }()

	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	if len(headers) > 0 {
		msg.Headers = make([]kafka.Header, 0, len(headers))
		for k, v := range headers {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Producer) PublishEnvelope(ctx context.Context, topic string, env events.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topic, []byte(env.AggregateID), b, map[string]string{
		"event_id":   env.EventID.String(),
		"event_type": env.EventType,
	})
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func NewConsumer(cfg config.Config, topic string, groupID string) (*kafka.Reader, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if groupID == "" {
		groupID = cfg.KafkaGroupID
	}
	if groupID == "" {
		return nil, errors.New("KAFKA_GROUP_ID is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return reader, nil
}

// Fetcher is the part of *kafka.Reader that Consume drives.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Handler processes one message. A nil error, or ErrSkip, commits it.
type Handler func(ctx context.Context, msg kafka.Message) error

// ErrSkip marks a message that can never succeed (bad envelope) and should
// be committed anyway.
var ErrSkip = errors.New("skip message")

// Consume fetches, handles and commits until ctx ends. A handler failure
// is reported through onErr and leaves the message uncommitted.
func Consume(ctx context.Context, r Fetcher, topic string, handle Handler, onErr func(stage string, err error)) error {
	if onErr == nil {
		onErr = func(string, error) {}
	}
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			onErr("fetch", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		spanCtx, span := observability.StartSpan(ctx, "kafka.consume",
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
		)
		err = handle(spanCtx, msg)
		observability.EndSpan(span, err)
		if err != nil && !errors.Is(err, ErrSkip) {
			onErr("handle", err)
			continue
		}
		if err != nil {
			onErr("skip", err)
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			onErr("commit", err)
		}
	}
}
