// Package broadcast fans registry changes out to connected websocket
// clients. It has no opinion on HTTP routing; internal/server accepts the
// connection and hands it to a Hub.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/loppo-llc/vde-monitor/internal/registry"
)

// Envelope is the JSON frame pushed to every connected client.
type Envelope struct {
	Type   string                  `json:"type"`
	Detail *registry.SessionDetail `json:"detail,omitempty"`
	PaneID string                  `json:"paneId,omitempty"`
}

const (
	clientSendBuffer = 64
	pingInterval     = 30 * time.Second
	pingTimeout      = 10 * time.Second
)

type client struct {
	id   int64
	conn *websocket.Conn
	out  chan Envelope
}

// Hub tracks connected clients and fans out Envelopes to all of them.
type Hub struct {
	Logger *slog.Logger

	mu      sync.Mutex
	clients map[int64]*client
	nextID  int64
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{Logger: logger, clients: make(map[int64]*client)}
}

// WireRegistry subscribes the hub to every registry change so updates and
// removals are broadcast without the monitor loop needing to know about
// websockets at all.
func (h *Hub) WireRegistry(reg *registry.Registry) {
	reg.OnChanged(func(d registry.SessionDetail) {
		detail := d
		h.broadcast(Envelope{Type: "session.changed", Detail: &detail})
	})
	reg.OnRemoved(func(paneID string) {
		h.broadcast(Envelope{Type: "session.removed", PaneID: paneID})
	})
}

// monitorSource is the subset of Monitor's facade the hub needs; declared
// here instead of importing internal/monitor to keep the dependency
// pointing the way registry.Registry already does.
type monitorSource interface {
	OnChanged(cb registry.ChangedFunc)
	OnRemoved(cb registry.RemovedFunc)
}

// WireMonitor is WireRegistry's counterpart for callers that only hold a
// *monitor.Monitor facade rather than the registry it wraps internally.
func (h *Hub) WireMonitor(m monitorSource) {
	m.OnChanged(func(d registry.SessionDetail) {
		detail := d
		h.broadcast(Envelope{Type: "session.changed", Detail: &detail})
	})
	m.OnRemoved(func(paneID string) {
		h.broadcast(Envelope{Type: "session.removed", PaneID: paneID})
	})
}

// Serve blocks for the lifetime of one accepted websocket connection,
// registering it with the hub and running its read/write/ping loops. ctx
// is the connection's lifetime context (typically the request context).
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := h.register(conn)
	defer h.unregister(c.id)

	go h.readLoop(ctx, cancel, conn)
	go h.pingLoop(ctx, cancel, conn)
	h.writeLoop(ctx, conn, c.out)
}

func (h *Hub) register(conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	c := &client{id: h.nextID, conn: conn, out: make(chan Envelope, clientSendBuffer)}
	h.clients[c.id] = c
	return c
}

func (h *Hub) unregister(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.out <- env:
		default:
			// slow client: drop rather than block the registry callback,
			// which runs synchronously inside the monitor loop tick
			h.Logger.Warn("dropping broadcast frame for slow client", "client", c.id)
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-out:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		// clients only receive on this channel today; any inbound frame
		// (e.g. a client-side ping) is drained and discarded
	}
}

func (h *Hub) pingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				return
			}
		}
	}
}
