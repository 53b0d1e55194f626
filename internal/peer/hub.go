package peer

import (
	"errors"
	"fmt"
	"sync"
)

// Hub tracks the open connections of a Server and fans relayed chunks out
// to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*Conn]struct{})}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends data to every registered connection except from. Every
// recipient is attempted; the failures are joined into the returned error.
func (h *Hub) Broadcast(from *Conn, data []byte) error {
	var errs []error
	for _, c := range h.snapshot() {
		if c == from {
			continue
		}
		if err := c.Send(data); err != nil {
			errs = append(errs, fmt.Errorf("relay to %s: %w", c.RemoteAddr(), err))
		}
	}
	return errors.Join(errs...)
}

// CloseAll closes the underlying socket of every registered connection.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot() {
		c.raw.Close()
	}
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}
