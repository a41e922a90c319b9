package wrapper

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// registry tracks the live connections of one endpoint.
type registry struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*Conn
	// idle is closed while conns is empty and replaced on the 0 -> 1 transition.
	idle chan struct{}
}

func newRegistry() *registry {
	idle := make(chan struct{})
	close(idle)
	return &registry{conns: make(map[uuid.UUID]*Conn), idle: idle}
}

func (r *registry) add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		r.idle = make(chan struct{})
	}
	r.conns[c.id] = c
}

// remove is a no-op for a connection that is not present.
func (r *registry) remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return
	}
	delete(r.conns, c.id)
	if len(r.conns) == 0 {
		close(r.idle)
	}
}

// snapshot copies the live set so callers can close connections without
// holding the lock.
func (r *registry) snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *registry) wait(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
