package ws

import "sync"

// Registry maps an identity to its most recently authenticated connection in this process.
// It is not used for room delivery.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]*Client
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]*Client)}
}

// Register binds identityID to c, replacing any previous connection.
func (r *Registry) Register(identityID int64, c *Client) {
	r.mu.Lock()
	r.conns[identityID] = c
	r.mu.Unlock()
}

// Unregister removes the entry for the identity bound to c, only if c is still the connection
// registered for it. Call it before the connection's identity changes.
func (r *Registry) Unregister(c *Client) {
	id := c.Identity()
	if id == 0 {
		return
	}
	r.mu.Lock()
	if r.conns[id] == c {
		delete(r.conns, id)
	}
	r.mu.Unlock()
}

func (r *Registry) Lookup(identityID int64) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[identityID]
}
