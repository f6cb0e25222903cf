package merge

import (
	"context"
	"errors"
	"time"

	"berthing-hub/core/model"
)

var ErrMissingKey = errors.New("partial has no port_call_id")

// Merger applies partials to a Store, one atomic update per record.
type Merger struct {
	store Store
	now   func() time.Time
}

func NewMerger(store Store, now func() time.Time) *Merger {
	if now == nil {
		now = time.Now
	}
	return &Merger{store: store, now: now}
}

func (m *Merger) Store() Store { return m.store }

// Merge folds p into the stored record for p.PortCallID, creating it when
// absent. Re-merging the same partial leaves the record unchanged.
func (m *Merger) Merge(ctx context.Context, p Partial) (model.PortCall, Result, error) {
	if p.PortCallID == "" {
		return model.PortCall{}, Result{}, ErrMissingKey
	}
	var res Result
	pc, err := m.store.Update(ctx, p.PortCallID, func(pc *model.PortCall, exists bool) (bool, error) {
		if !exists {
			*pc = model.PortCall{}
		}
		res = Apply(pc, p)
		if res.Created && pc.FirstSeenAt.IsZero() {
			pc.FirstSeenAt = m.now().UTC()
		}
		if res.Changed {
			pc.UpdatedAt = m.now().UTC()
		}
		return res.Changed, nil
	})
	if err != nil {
		return model.PortCall{}, Result{}, err
	}
	return pc, res, nil
}
