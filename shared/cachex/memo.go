package cachex

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memo is a process-local cache for derived views that are expensive to
// recompute per request. Entries are dropped wholesale by Invalidate when
// the underlying records change.
type Memo struct {
	cache *gocache.Cache
	mu    sync.Mutex
	gen   uint64
}

func NewMemo(ttl time.Duration) *Memo {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Memo{cache: gocache.New(ttl, 2*ttl)}
}

// GetOrCompute returns the cached value for key or stores what compute
// returns. Errors are not cached.
func (m *Memo) GetOrCompute(key string, compute func() (any, error)) (any, error) {
	if v, ok := m.cache.Get(key); ok {
		return v, nil
	}
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	v, err := compute()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// a write landed while computing; the value may already be stale
	if gen == m.gen {
		m.cache.SetDefault(key, v)
	}
	return v, nil
}

func (m *Memo) Invalidate() {
	m.mu.Lock()
	m.gen++
	m.cache.Flush()
	m.mu.Unlock()
}

func (m *Memo) Len() int { return m.cache.ItemCount() }
