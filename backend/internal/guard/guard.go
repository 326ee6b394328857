// Package guard linearizes mutating operations per agent and deduplicates retried requests.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/user/agentdesk/backend/internal/models"
)

// DefaultLockTimeout bounds how long a request waits for its agent's lock.
const DefaultLockTimeout = 5 * time.Second

// Guard hands out per-agent critical sections. Different agents never contend.
type Guard struct {
	local       *LocalLocker
	remote      Locker
	lockTimeout time.Duration
	replay      *Replay
	logger      *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithDistributedLocker layers a cross-process lock under the in-process one.
func WithDistributedLocker(l Locker) Option {
	return func(g *Guard) { g.remote = l }
}

// WithLockTimeout sets the bounded wait. Non-positive values keep the default.
func WithLockTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.lockTimeout = d
		}
	}
}

// WithReplay sets the idempotency cache.
func WithReplay(r *Replay) Option {
	return func(g *Guard) { g.replay = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		local:       NewLocalLocker(),
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.replay == nil {
		g.replay = NewReplay(DefaultReplayTTL)
	}
	g.logger = g.logger.With(slog.String("component", "guard"))
	return g
}

func lockKey(agentID uuid.UUID) string {
	return "agent:" + agentID.String()
}

// Acquire takes the agent's lock, waiting at most the configured timeout. On timeout it
// returns ErrBusy. The release func must be called exactly when the critical section ends;
// extra calls are ignored.
func (g *Guard) Acquire(ctx context.Context, agentID uuid.UUID) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.lockTimeout)
	defer cancel()

	key := lockKey(agentID)
	release, err := g.local.Acquire(waitCtx, key)
	if err != nil {
		return nil, g.waitErr(ctx, agentID, err)
	}
	if g.remote == nil {
		return release, nil
	}

	remoteRelease, err := g.remote.Acquire(waitCtx, key)
	if err != nil {
		release()
		return nil, g.waitErr(ctx, agentID, err)
	}
	return func() {
		remoteRelease()
		release()
	}, nil
}

func (g *Guard) waitErr(ctx context.Context, agentID uuid.UUID, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		g.logger.Warn("agent lock wait timed out",
			slog.String("agent_id", agentID.String()),
			slog.Duration("timeout", g.lockTimeout),
		)
		return fmt.Errorf("%w: agent %s lock not acquired within %s", models.ErrBusy, agentID, g.lockTimeout)
	}
	return fmt.Errorf("guard: acquire lock for agent %s: %w", agentID, err)
}

// WithAgentLock runs op inside the agent's critical section. The lock is released on every
// exit path, including a panic in op.
func (g *Guard) WithAgentLock(ctx context.Context, agentID uuid.UUID, op func(ctx context.Context) error) error {
	release, err := g.Acquire(ctx, agentID)
	if err != nil {
		return err
	}
	defer release()
	return op(ctx)
}

// Idempotent runs fn once per (agent, op, key) within the replay window and returns the cached
// result for repeats. op names the operation so one key reused for different operations never
// replays a result of the wrong kind. An empty key disables deduplication.
func (g *Guard) Idempotent(agentID uuid.UUID, op, key string, fn func() (any, error)) (any, bool, error) {
	if key == "" {
		v, err := fn()
		return v, false, err
	}
	return g.replay.Do(agentID.String()+"/"+op+"/"+key, fn)
}

// Run sweeps expired idempotency entries until ctx is done.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.replay.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := g.replay.Sweep(); n > 0 {
				g.logger.Debug("idempotency entries expired", slog.Int("count", n))
			}
		}
	}
}
