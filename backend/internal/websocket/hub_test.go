package websocket

import (
	"context"
	"testing"
	"time"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	h := NewHub("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h, cancel, done
}

func recv(t *testing.T, c *Client) ([]byte, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		return msg, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil, false
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	h, _, _ := startHub(t)
	ctx := context.Background()
	a, b := NewClient("a", 4), NewClient("b", 4)
	h.Register(ctx, a)
	h.Register(ctx, b)

	h.Broadcast(map[string]string{"type": "trade_buy"})

	for _, c := range []*Client{a, b} {
		msg, ok := recv(t, c)
		if !ok || string(msg) != `{"type":"trade_buy"}` {
			t.Fatalf("client %s got %q ok=%v", c.Addr, msg, ok)
		}
	}
	if n := h.Clients(ctx); n != 2 {
		t.Fatalf("Clients = %d, want 2", n)
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h, _, _ := startHub(t)
	ctx := context.Background()
	c := NewClient("a", 1)
	h.Register(ctx, c)
	h.Unregister(ctx, c)
	h.Unregister(ctx, c)

	if _, ok := recv(t, c); ok {
		t.Fatal("Send should be closed")
	}
}

func TestSlowClientDropped(t *testing.T) {
	h, _, _ := startHub(t)
	ctx := context.Background()
	slow := NewClient("slow", 1)
	h.Register(ctx, slow)

	h.Broadcast("one")
	h.Broadcast("two")

	deadline := time.Now().Add(time.Second)
	for h.Clients(ctx) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if msg, ok := recv(t, slow); !ok || string(msg) != `"one"` {
		t.Fatalf("first message = %q ok=%v", msg, ok)
	}
	if _, ok := recv(t, slow); ok {
		t.Fatal("Send should be closed after the drop")
	}
}

func TestStopClosesClients(t *testing.T) {
	h, cancel, done := startHub(t)
	c := NewClient("a", 1)
	h.Register(context.Background(), c)

	cancel()
	<-done
	if _, ok := recv(t, c); ok {
		t.Fatal("Send should be closed when the hub stops")
	}

	ctx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	if h.Register(ctx, NewClient("late", 1)) {
		t.Fatal("Register on a stopped hub should fail")
	}
}
