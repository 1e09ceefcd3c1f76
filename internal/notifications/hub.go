package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"postservice/internal/middleware"
	"postservice/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const maxFeedConns = 10000

// ErrHubFull is returned by Register once the connection cap is reached.
var ErrHubFull = errors.New("feed connection limit reached")

// ErrHubClosed is returned by Register after Shutdown.
var ErrHubClosed = errors.New("feed hub is shut down")

// FeedHub fans post events out to every connected feed socket.
type FeedHub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// NewFeedHub creates an empty hub.
func NewFeedHub() *FeedHub {
	return &FeedHub{clients: make(map[*Client]struct{})}
}

// Register adds a socket to the hub.
func (h *FeedHub) Register(conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if len(h.clients) >= maxFeedConns {
		return nil, ErrHubFull
	}

	c := newClient(h, conn)
	h.clients[c] = struct{}{}
	observability.WebSocketConnections.Inc()
	return c, nil
}

// Unregister removes c and closes its send channel. Safe to call more than once.
func (h *FeedHub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *FeedHub) removeLocked(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.Send)
	observability.WebSocketConnections.Dec()
	return true
}

// Count returns the number of registered clients.
func (h *FeedHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues payload for every client. Clients whose buffer is full are dropped.
func (h *FeedHub) Broadcast(payload []byte) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.clients {
		if !c.trySend(payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, c := range slow {
		if h.removeLocked(c) {
			observability.WebSocketBackpressureDrops.WithLabelValues("full").Inc()
		}
	}
	h.mu.Unlock()

	middleware.Logger.Warn("dropped slow feed clients", slog.Int("count", len(slow)))
}

// StartWiring subscribes to post events and broadcasts each one.
func (h *FeedHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPostEventSubscriber(ctx, func(payload string) {
		h.Broadcast([]byte(payload))
	})
}

// Shutdown closes every client's send channel; write pumps then send a close frame.
func (h *FeedHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	return nil
}
