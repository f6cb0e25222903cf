// Package ingest runs raw source batches through normalization, identity
// resolution and merge, isolating failures per record.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"berthing-hub/core/identity"
	"berthing-hub/core/merge"
	"berthing-hub/core/model"
	"berthing-hub/core/source"
	"berthing-hub/core/timenorm"
	"berthing-hub/shared/logx"
	"berthing-hub/shared/metricsx"
	"berthing-hub/shared/observability"
)

const (
	KindInvalidTimestamp  = "invalid_timestamp"
	KindAmbiguousIdentity = "ambiguous_identity"
	KindInvalidRecord     = "invalid_record"
	KindStoreError        = "store_error"
)

// Merger is the part of merge.Merger the pipeline needs.
type Merger interface {
	Merge(ctx context.Context, p merge.Partial) (model.PortCall, merge.Result, error)
}

// RecordError reports one dropped record. Batch and Index locate it in the
// request.
type RecordError struct {
	Source  model.Category `json:"source"`
	Batch   int            `json:"batch"`
	Index   int            `json:"index"`
	Kind    string         `json:"kind"`
	Message string         `json:"error"`
	Err     error          `json:"-"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s batch %d record %d: %s", e.Source, e.Batch, e.Index, e.Message)
}

func (e RecordError) Unwrap() error { return e.Err }

type Report struct {
	Accepted int             `json:"accepted"`
	Created  int             `json:"created"`
	Changed  int             `json:"changed"`
	Rejected []RecordError   `json:"rejected"`
	Warnings []merge.Warning `json:"warnings"`
}

type Pipeline struct {
	merger  Merger
	norm    *timenorm.Normalizer
	log     logx.Logger
	workers int
}

func New(m Merger, norm *timenorm.Normalizer, log logx.Logger, workers int) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{merger: m, norm: norm, log: log.With(slog.String("component", "ingest")), workers: workers}
}

// Run ingests batches concurrently, at most workers at a time. Records
// inside one batch are merged in order. A batch with an unknown source
// fails the whole call before anything is merged; every other failure is
// reported per record.
func (p *Pipeline) Run(ctx context.Context, batches []source.Batch) (rep Report, err error) {
	cats := make([]model.Category, len(batches))
	for i, b := range batches {
		c, err := b.Category()
		if err != nil {
			return Report{}, fmt.Errorf("batch %d: %w", i, err)
		}
		cats[i] = c
	}

	ctx, span := observability.StartSpan(ctx, "ingest.run", attribute.Int("batches", len(batches)))
	defer func() { observability.EndSpan(span, err) }()
	start := time.Now()

	parts := make([]Report, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range batches {
		i := i
		g.Go(func() error {
			r, err := p.runBatch(gctx, i, cats[i], batches[i])
			parts[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep = Report{Rejected: []RecordError{}, Warnings: []merge.Warning{}}
	for _, r := range parts {
		rep.Accepted += r.Accepted
		rep.Created += r.Created
		rep.Changed += r.Changed
		rep.Rejected = append(rep.Rejected, r.Rejected...)
		rep.Warnings = append(rep.Warnings, r.Warnings...)
	}
	sort.SliceStable(rep.Rejected, func(i, j int) bool {
		if rep.Rejected[i].Batch != rep.Rejected[j].Batch {
			return rep.Rejected[i].Batch < rep.Rejected[j].Batch
		}
		return rep.Rejected[i].Index < rep.Rejected[j].Index
	})

	metricsx.ObserveIngestLatency(time.Since(start))
	span.SetAttributes(attribute.Int("accepted", rep.Accepted), attribute.Int("rejected", len(rep.Rejected)))
	p.log.Info(ctx, "ingest_completed", "ingest run completed",
		slog.Int("batches", len(batches)),
		slog.Int("accepted", rep.Accepted),
		slog.Int("changed", rep.Changed),
		slog.Int("rejected", len(rep.Rejected)),
		slog.Int("warnings", len(rep.Warnings)),
	)
	return rep, nil
}

func (p *Pipeline) runBatch(ctx context.Context, bi int, cat model.Category, b source.Batch) (Report, error) {
	// A batch without observed_at keeps the zero time: it ranks below any
	// dated observation from the same source and re-running it is a no-op.
	observed := b.ObservedAt
	var rep Report
	for i, raw := range b.Records {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		part, err := p.partial(cat, raw, observed)
		if err != nil {
			p.reject(ctx, &rep, cat, bi, i, classify(err), err)
			continue
		}
		_, res, err := p.merger.Merge(ctx, part)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rep, ctxErr
			}
			p.reject(ctx, &rep, cat, bi, i, KindStoreError, err)
			continue
		}
		rep.Accepted++
		outcome := "unchanged"
		switch {
		case res.Created:
			rep.Created++
			rep.Changed++
			outcome = "created"
		case res.Changed:
			rep.Changed++
			outcome = "changed"
		}
		metricsx.IncRecordMerged(string(cat), outcome)
		for _, w := range res.Warnings {
			p.warn(ctx, w)
		}
		rep.Warnings = append(rep.Warnings, res.Warnings...)
	}
	return rep, nil
}

func (p *Pipeline) partial(cat model.Category, raw map[string]any, observed time.Time) (merge.Partial, error) {
	rec, err := source.Decode(cat, raw)
	if err != nil {
		return merge.Partial{}, err
	}
	return source.ToPartial(rec, p.norm, observed)
}

func classify(err error) string {
	switch {
	case errors.Is(err, timenorm.ErrInvalidTimestamp):
		return KindInvalidTimestamp
	case errors.Is(err, identity.ErrAmbiguousIdentity):
		return KindAmbiguousIdentity
	default:
		return KindInvalidRecord
	}
}

func (p *Pipeline) reject(ctx context.Context, rep *Report, cat model.Category, batch, index int, kind string, err error) {
	rep.Rejected = append(rep.Rejected, RecordError{Source: cat, Batch: batch, Index: index, Kind: kind, Message: err.Error(), Err: err})
	metricsx.IncRecordRejected(string(cat), kind)
	p.log.Warn(ctx, "record_rejected", err.Error(),
		slog.String("source", string(cat)),
		slog.Int("batch", batch),
		slog.Int("index", index),
		slog.String("kind", kind),
	)
}

func (p *Pipeline) warn(ctx context.Context, w merge.Warning) {
	attrs := []slog.Attr{
		slog.String("port_call_id", w.PortCallID),
		slog.String("source", string(w.Source)),
		slog.String("field", w.Field),
		slog.String("existing", w.Existing),
		slog.String("incoming", w.Incoming),
	}
	switch w.Kind {
	case merge.WarnConflictingActual:
		metricsx.IncConflictingActual(string(w.Source), w.Field)
		p.log.Warn(ctx, string(w.Kind), w.Err().Error(), attrs...)
	default:
		p.log.Debug(ctx, string(w.Kind), w.Reason, attrs...)
	}
}

// Collector gathers reports from several runs, e.g. one per Kafka
// message, for a periodic summary.
type Collector struct {
	mu  sync.Mutex
	rep Report
}

func (c *Collector) Add(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rep.Accepted += r.Accepted
	c.rep.Created += r.Created
	c.rep.Changed += r.Changed
	c.rep.Rejected = append(c.rep.Rejected, r.Rejected...)
	c.rep.Warnings = append(c.rep.Warnings, r.Warnings...)
}

// Flush returns the gathered report and resets the collector.
func (c *Collector) Flush() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.rep
	c.rep = Report{}
	return out
}
