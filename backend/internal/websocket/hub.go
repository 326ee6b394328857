package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Client is one subscriber. The hub writes to Send and closes it when the client is dropped.
type Client struct {
	Addr string
	Send chan []byte // Buffered channel for outbound messages
}

// NewClient creates a client with a send buffer of size n.
func NewClient(addr string, n int) *Client {
	return &Client{Addr: addr, Send: make(chan []byte, n)}
}

// Hub fans messages out to registered clients. A slow client whose buffer fills up is
// dropped instead of stalling the others.
type Hub struct {
	name       string
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	count      chan chan int
	logger     *slog.Logger
}

// NewHub creates a hub. name tags its log lines, e.g. "activity" or "prices".
func NewHub(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		logger:     logger.With(slog.String("component", "ws_hub"), slog.String("hub", name)),
	}
}

// Register adds c. It returns false if the hub has stopped.
func (h *Hub) Register(ctx context.Context, c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// Unregister removes c and closes its Send channel. Unknown clients are ignored.
func (h *Hub) Unregister(ctx context.Context, c *Client) {
	select {
	case h.unregister <- c:
	case <-ctx.Done():
	}
}

// Broadcast marshals v and queues it for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal broadcast", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// Clients reports the number of registered clients, or -1 if the hub has stopped.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-ctx.Done():
		return -1
	}
}

// Run owns the client set until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("hub started")
	defer func() {
		for c := range h.clients {
			close(c.Send)
			delete(h.clients, c)
		}
		h.logger.Info("hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug("client registered", slog.String("addr", c.Addr))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Send)
				h.logger.Debug("client unregistered", slog.String("addr", c.Addr))
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.Send <- msg:
				default:
					h.logger.Warn("client send buffer full, dropping client", slog.String("addr", c.Addr))
					close(c.Send)
					delete(h.clients, c)
				}
			}
		}
	}
}
