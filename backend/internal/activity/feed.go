// Package activity keeps a bounded, newest-first view of recent ledger events and pushes each
// new event to live subscribers.
package activity

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/user/agentdesk/backend/internal/models"
)

// DefaultSize is the number of events retained when no size is configured.
const DefaultSize = 200

// Entry is an event as shown on the feed.
type Entry struct {
	Seq uint64 `json:"id"`
	models.Event
	Agent string `json:"agent,omitempty"`
}

// Broadcaster receives every new entry. *websocket.Hub satisfies it.
type Broadcaster interface {
	Broadcast(v any)
}

// AgentDirectory resolves display names. *credentials.Store satisfies it.
type AgentDirectory interface {
	Get(id uuid.UUID) (models.Agent, error)
}

// Feed implements ledger.EventSink.
type Feed struct {
	mu    sync.RWMutex
	ring  []Entry
	next  int // index of the slot the next entry is written to
	full  bool
	seq   uint64
	out   Broadcaster
	names AgentDirectory

	logger *slog.Logger
}

// NewFeed creates a feed keeping the last size events. out and names may be nil.
func NewFeed(size int, out Broadcaster, names AgentDirectory, logger *slog.Logger) *Feed {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		ring:   make([]Entry, size),
		out:    out,
		names:  names,
		logger: logger.With(slog.String("component", "activity")),
	}
}

// Publish appends ev and forwards it to the broadcaster. It is called from inside the ledger's
// critical section and must not block.
func (f *Feed) Publish(ev models.Event) {
	entry := Entry{Event: ev}
	if f.names != nil {
		if a, err := f.names.Get(ev.AgentID); err == nil {
			entry.Agent = a.DisplayName
		}
	}

	f.mu.Lock()
	f.seq++
	entry.Seq = f.seq
	f.ring[f.next] = entry
	f.next = (f.next + 1) % len(f.ring)
	if f.next == 0 {
		f.full = true
	}
	f.mu.Unlock()

	if f.out != nil {
		f.out.Broadcast(entry)
	}
	f.logger.Debug("activity", slog.String("type", string(ev.Kind)), slog.String("agent_id", ev.AgentID.String()))
}

// Recent returns up to limit entries, newest first. limit <= 0 returns everything retained.
func (f *Feed) Recent(limit int) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.next
	if f.full {
		n = len(f.ring)
	}
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (f.next - i + len(f.ring)) % len(f.ring)
		out = append(out, f.ring[idx])
	}
	return out
}

// Len reports how many entries are retained.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.full {
		return len(f.ring)
	}
	return f.next
}
