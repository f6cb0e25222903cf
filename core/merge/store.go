package merge

import (
	"context"
	"sort"
	"sync"

	"berthing-hub/core/model"
)

// UpdateFunc mutates pc inside a store transaction. exists is false when
// no record is stored under the key yet. Returning changed=false leaves the
// stored record untouched.
type UpdateFunc func(pc *model.PortCall, exists bool) (changed bool, err error)

// Store is the canonical PortCall set. Update must be an atomic
// read-modify-write scoped to one id; updates to different ids must not
// block each other.
type Store interface {
	Update(ctx context.Context, id string, fn UpdateFunc) (model.PortCall, error)
	Get(ctx context.Context, id string) (model.PortCall, bool, error)
	Snapshot(ctx context.Context) ([]model.PortCall, error)
}

// MemoryStore keeps port calls in process with one lock per key.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	mu     sync.Mutex
	pc     model.PortCall
	exists bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

func (s *MemoryStore) entry(id string) *memEntry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[id]; !ok {
		e = &memEntry{}
		s.entries[id] = e
	}
	return e
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (model.PortCall, error) {
	if err := ctx.Err(); err != nil {
		return model.PortCall{}, err
	}
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.pc.Clone()
	changed, err := fn(&work, e.exists)
	if err != nil {
		return e.pc.Clone(), err
	}
	if changed {
		e.pc = work
		e.exists = true
	}
	return e.pc.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.PortCall, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.PortCall{}, false, err
	}
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return model.PortCall{}, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.exists {
		return model.PortCall{}, false, nil
	}
	return e.pc.Clone(), true, nil
}

// Snapshot copies every stored record, ordered by id. Each record is read
// under its own lock; the set as a whole is read once.
func (s *MemoryStore) Snapshot(ctx context.Context) ([]model.PortCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entries := make([]*memEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]model.PortCall, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.exists {
			out = append(out, e.pc.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PortCallID < out[j].PortCallID })
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		e.mu.Lock()
		if e.exists {
			n++
		}
		e.mu.Unlock()
	}
	return n
}
