package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lock key only if it still holds the caller's token, so a holder
// whose TTL lapsed cannot release somebody else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	minPoll = 10 * time.Millisecond
	maxPoll = 200 * time.Millisecond
)

// Locker implements guard.Locker with SET NX PX and a compare-and-delete release.
// The TTL must outlive the longest critical section (settlement timeout plus margin).
type Locker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	ttl      time.Duration
	prefix   string
}

// NewLocker creates a Locker on c. Keys are stored as "<prefix>lock:<key>".
func NewLocker(c *Client, ttl time.Duration, prefix string) *Locker {
	return &Locker{
		rdb:      c.rdb,
		unlockSc: redis.NewScript(unlockLua),
		ttl:      ttl,
		prefix:   prefix,
	}
}

func (l *Locker) lockKey(key string) string {
	return l.prefix + "lock:" + key
}

// Acquire polls SET NX with backoff until it wins or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lk := l.lockKey(key)
	wait := minPoll

	for {
		ok, err := l.rdb.SetNX(ctx, lk, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > maxPoll {
			wait = maxPoll
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be gone; release on a fresh one.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
		})
	}, nil
}
