package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"caddie.ai/internal/protocol"
)

// Hub fans protocol events out to connected observers. It implements the
// feed's Publisher; Publish never blocks the simulation.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	dropped atomic.Uint64
}

type client struct {
	out chan []byte

	mu         sync.Mutex
	events     map[string]bool // nil means all kinds
	skipHealth bool
}

func NewHub() *Hub {
	return &Hub{clients: map[string]*client{}}
}

func (h *Hub) join(id string, out chan []byte, sub protocol.SubscribeMsg) *client {
	c := &client{out: out}
	c.apply(sub)
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) leave(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Clients is the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts frames discarded because an observer fell behind.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) Publish(ev protocol.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, c := range h.clients {
		if !c.wants(ev.Kind) {
			continue
		}
		if !sendLatest(c.out, b) {
			h.dropped.Add(1)
		}
	}
}

func (c *client) apply(sub protocol.SubscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skipHealth = sub.SkipHealth
	c.events = nil
	if len(sub.Events) > 0 {
		c.events = make(map[string]bool, len(sub.Events))
		for _, k := range sub.Events {
			c.events[k] = true
		}
	}
}

func (c *client) wants(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == protocol.EventHealth && c.skipHealth {
		return false
	}
	if c.events == nil {
		return true
	}
	return c.events[kind]
}

// sendLatest enqueues b, dropping the oldest queued frame when full.
// It reports false when a frame was lost.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}
