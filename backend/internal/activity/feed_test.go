package activity

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/user/agentdesk/backend/internal/models"
)

type captured struct {
	mu  sync.Mutex
	got []any
}

func (c *captured) Broadcast(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, v)
}

type directory map[uuid.UUID]string

func (d directory) Get(id uuid.UUID) (models.Agent, error) {
	name, ok := d[id]
	if !ok {
		return models.Agent{}, models.ErrNotFound
	}
	return models.Agent{ID: id, DisplayName: name}, nil
}

func TestRecentNewestFirstAndBounded(t *testing.T) {
	f := NewFeed(3, nil, nil, nil)
	for _, sym := range []string{"A", "B", "C", "D", "E"} {
		f.Publish(models.Event{Kind: models.EventTradeBuy, Symbol: sym})
	}

	got := f.Recent(0)
	if len(got) != 3 || f.Len() != 3 {
		t.Fatalf("len = %d / %d, want 3", len(got), f.Len())
	}
	for i, want := range []string{"E", "D", "C"} {
		if got[i].Symbol != want {
			t.Fatalf("Recent[%d] = %s, want %s", i, got[i].Symbol, want)
		}
	}
	if got[0].Seq != 5 {
		t.Fatalf("newest seq = %d, want 5", got[0].Seq)
	}
	if two := f.Recent(2); len(two) != 2 || two[1].Symbol != "D" {
		t.Fatalf("Recent(2) = %+v", two)
	}
}

func TestRecentBeforeWrap(t *testing.T) {
	f := NewFeed(10, nil, nil, nil)
	if len(f.Recent(5)) != 0 {
		t.Fatal("empty feed should return nothing")
	}
	f.Publish(models.Event{Symbol: "X"})
	f.Publish(models.Event{Symbol: "Y"})
	got := f.Recent(5)
	if len(got) != 2 || got[0].Symbol != "Y" {
		t.Fatalf("Recent = %+v", got)
	}
}

func TestPublishBroadcastsWithAgentName(t *testing.T) {
	out := &captured{}
	known := uuid.New()
	f := NewFeed(5, out, directory{known: "AlphaTrader"}, nil)

	f.Publish(models.Event{Kind: models.EventTokenCreated, AgentID: known, Symbol: "TERM"})
	f.Publish(models.Event{Kind: models.EventTradeSell, AgentID: uuid.New(), Symbol: "SWARM"})

	if len(out.got) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(out.got))
	}
	first := out.got[0].(Entry)
	if first.Agent != "AlphaTrader" || first.Kind != models.EventTokenCreated {
		t.Fatalf("first = %+v", first)
	}
	if second := out.got[1].(Entry); second.Agent != "" {
		t.Fatalf("unknown agent resolved to %q", second.Agent)
	}
}
