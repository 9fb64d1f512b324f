// Package events is the in-process fan-out for lifecycle events: an SSE
// broker with per-client buffered channels and a keepalive ping.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/complianceai/certpipe/pkg/contracts"
)

const (
	clientBuffer = 16
	pingInterval = 30 * time.Second
)

type client struct {
	id string
	ch chan contracts.LifecycleEvent
}

// Broker fans lifecycle events out to connected SSE clients. Slow clients
// are dropped rather than allowed to block the publisher.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
}

// NewBroker creates an SSE broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		clients: make(map[string]*client),
		logger:  logger,
	}
}

// Publish delivers an event to every connected client. Non-blocking: a full
// client buffer drops the event for that client only.
func (b *Broker) Publish(ev contracts.LifecycleEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		select {
		case c.ch <- ev:
		default:
			b.logger.Warn("sse client buffer full, dropping event", "client", c.id, "type", ev.Type)
		}
	}
}

// ClientCount reports current subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broker) subscribe() *client {
	c := &client{id: uuid.NewString(), ch: make(chan contracts.LifecycleEvent, clientBuffer)}
	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()
	return c
}

func (b *Broker) unsubscribe(id string) {
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
}

// ServeHTTP implements the GET /events stream. The first frame is a
// `connected` event carrying the client id; a ping frame keeps proxies from
// closing the stream.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := b.subscribe()
	defer b.unsubscribe(c.id)
	b.logger.Debug("sse client connected", "client", c.id)

	writeEvent(w, contracts.LifecycleEvent{Type: contracts.EventConnected, ClientID: c.id})
	flusher.Flush()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			b.logger.Debug("sse client disconnected", "client", c.id)
			return
		case <-ping.C:
			writeEvent(w, contracts.LifecycleEvent{Type: contracts.EventPing})
			flusher.Flush()
		case ev := <-c.ch:
			writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev contracts.LifecycleEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

// WaitForDrain is a test hook: blocks until ctx ends or no clients remain.
func (b *Broker) WaitForDrain(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.ClientCount() == 0 {
				return
			}
		}
	}
}
