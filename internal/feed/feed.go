// Package feed streams session status updates to websocket subscribers.
//
// A [Hub] implements [tracker.Sink]. Every subscriber receives the latest
// update on connect and each later update as a JSON text message. Publish
// never blocks: a subscriber whose buffer is full misses updates until it
// catches up, and always receives the most recent one afterwards.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/worldtracker/internal/tracker"
)

// writeTimeout bounds a single websocket write.
const writeTimeout = 5 * time.Second

// Hub fans session updates out to connected websocket clients. The zero value
// is not usable; call [NewHub].
type Hub struct {
	origins []string

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	last    *tracker.Update
	closed  bool
}

type subscriber struct {
	updates chan tracker.Update
}

var _ tracker.Sink = (*Hub)(nil)

// NewHub creates a Hub. origins lists additional host patterns allowed to
// connect from a browser; same-origin requests are always accepted.
func NewHub(origins ...string) *Hub {
	return &Hub{origins: origins, clients: make(map[*subscriber]struct{})}
}

// Publish implements [tracker.Sink].
func (h *Hub) Publish(u tracker.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &u
	for c := range h.clients {
		offer(c.updates, u)
	}
}

// offer sends u, replacing the oldest buffered update when ch is full.
func offer(ch chan tracker.Update, u tracker.Update) {
	for {
		select {
		case ch <- u:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.updates)
		delete(h.clients, c)
	}
}

func (h *Hub) subscribe() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &subscriber{updates: make(chan tracker.Update, 16)}
	if h.last != nil {
		c.updates <- *h.last
	}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unsubscribe(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.updates)
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request to a websocket and streams updates until the
// client disconnects or the hub is closed. Incoming messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Debug("feed: websocket accept failed", "err", err)
		return
	}
	c, ok := h.subscribe()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unsubscribe(c)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case u, ok := <-c.updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := write(ctx, conn, u); err != nil {
				slog.Debug("feed: write failed", "err", err)
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, u tracker.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
