package guard

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultReplayTTL is how long a completed request can be replayed by its idempotency key.
const DefaultReplayTTL = 24 * time.Hour

// Replay caches successful results by key for a TTL. Concurrent calls with the same key share
// one execution. Failed calls are not cached: they changed nothing and may be retried.
type Replay struct {
	group singleflight.Group
	mu    sync.Mutex
	seen  map[string]replayEntry
	ttl   time.Duration
	now   func() time.Time
}

type replayEntry struct {
	value any
	at    time.Time
}

type replayResult struct {
	value any
	hit   bool
}

// NewReplay creates a cache with the given ttl.
func NewReplay(ttl time.Duration) *Replay {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return &Replay{
		seen: make(map[string]replayEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Do returns the cached value for key if present, otherwise runs fn. replayed reports
// whether the value came from an earlier or concurrent execution.
func (r *Replay) Do(key string, fn func() (any, error)) (value any, replayed bool, err error) {
	v, err, shared := r.group.Do(key, func() (any, error) {
		if cached, ok := r.lookup(key); ok {
			return replayResult{value: cached, hit: true}, nil
		}
		value, err := fn()
		if err != nil {
			return nil, err
		}
		r.store(key, value)
		return replayResult{value: value}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(replayResult)
	return res.value, res.hit || shared, nil
}

func (r *Replay) lookup(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.seen[key]
	if !ok {
		return nil, false
	}
	if r.now().Sub(e.at) >= r.ttl {
		delete(r.seen, key)
		return nil, false
	}
	return e.value, true
}

func (r *Replay) store(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[key] = replayEntry{value: value, at: r.now()}
}

// Sweep drops expired entries and returns how many were removed.
func (r *Replay) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int
	for k, e := range r.seen {
		if now.Sub(e.at) >= r.ttl {
			delete(r.seen, k)
			n++
		}
	}
	return n
}

// SweepInterval is how often Guard.Run calls Sweep.
func (r *Replay) SweepInterval() time.Duration {
	iv := r.ttl / 4
	if iv < time.Minute {
		iv = time.Minute
	}
	return iv
}

// Len returns the number of cached entries.
func (r *Replay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
