package broadcast

import (
	"testing"

	"github.com/loppo-llc/vde-monitor/internal/registry"
)

func TestWireRegistry_ChangedProducesEnvelope(t *testing.T) {
	h := NewHub(nil)
	reg := registry.New()
	h.WireRegistry(reg)

	c := &client{id: 1, out: make(chan Envelope, 1)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	reg.Update(registry.SessionDetail{PaneID: "%1", State: "RUNNING"})

	select {
	case env := <-c.out:
		if env.Type != "session.changed" || env.Detail == nil || env.Detail.PaneID != "%1" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	default:
		t.Fatal("expected an envelope to be queued for the client")
	}
}

func TestWireRegistry_RemovedProducesEnvelope(t *testing.T) {
	h := NewHub(nil)
	reg := registry.New()
	h.WireRegistry(reg)

	c := &client{id: 1, out: make(chan Envelope, 2)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	reg.Update(registry.SessionDetail{PaneID: "%1"})
	<-c.out // drain the changed envelope

	reg.Remove("%1")

	select {
	case env := <-c.out:
		if env.Type != "session.removed" || env.PaneID != "%1" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	default:
		t.Fatal("expected a removal envelope")
	}
}

func TestBroadcast_DropsFrameForFullClientBuffer(t *testing.T) {
	h := NewHub(nil)
	c := &client{id: 1, out: make(chan Envelope, 1)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.broadcast(Envelope{Type: "a"})
	h.broadcast(Envelope{Type: "b"}) // buffer full, should be dropped not block

	env := <-c.out
	if env.Type != "a" {
		t.Fatalf("expected the first frame to survive, got %+v", env)
	}
}

func TestUnregister_RemovesClient(t *testing.T) {
	h := NewHub(nil)
	c := h.register(nil)
	h.unregister(c.id)

	h.mu.Lock()
	_, exists := h.clients[c.id]
	h.mu.Unlock()
	if exists {
		t.Fatal("expected client to be removed from the hub")
	}
}
