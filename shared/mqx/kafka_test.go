package mqx

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func TestConsumeCommitsHandledAndSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{
		msgs:   []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}},
		cancel: cancel,
	}
	stages := []string{}
	err := Consume(ctx, r, "portcall.raw", func(_ context.Context, m kafka.Message) error {
		switch m.Offset {
		case 2:
			return errors.New("transient")
		case 3:
			return ErrSkip
		}
		return nil
	}, func(stage string, err error) { stages = append(stages, stage) })

	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(r.committed) != 2 || r.committed[0] != 1 || r.committed[1] != 3 {
		t.Fatalf("unexpected commits: %v", r.committed)
	}
	if len(stages) != 2 || stages[0] != "handle" || stages[1] != "skip" {
		t.Fatalf("unexpected error stages: %v", stages)
	}
}
