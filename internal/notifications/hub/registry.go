package hub

import (
	"sync"

	"incident-cloud/internal/observability/metrics"
)

// Registry maps employee ids to their live connections. One employee may
// hold several connections, one per session.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
	total int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[*Conn]struct{})}
}

// Register adds the connection under employeeID.
func (r *Registry) Register(employeeID string, conn *Conn) {
	if r == nil || conn == nil || employeeID == "" {
		return
	}
	r.mu.Lock()
	set, ok := r.conns[employeeID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.conns[employeeID] = set
	}
	if _, exists := set[conn]; !exists {
		set[conn] = struct{}{}
		r.total++
	}
	total := r.total
	r.mu.Unlock()
	metrics.SetHubConnections(total)
}

// Unregister removes the connection. An emptied set means the employee is offline.
func (r *Registry) Unregister(employeeID string, conn *Conn) {
	if r == nil || conn == nil || employeeID == "" {
		return
	}
	r.mu.Lock()
	if set, ok := r.conns[employeeID]; ok {
		if _, exists := set[conn]; exists {
			delete(set, conn)
			r.total--
		}
		if len(set) == 0 {
			delete(r.conns, employeeID)
		}
	}
	total := r.total
	r.mu.Unlock()
	metrics.SetHubConnections(total)
}

// Snapshot copies the employee's connection set so sends happen without the lock.
func (r *Registry) Snapshot(employeeID string) []*Conn {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[employeeID]
	if len(set) == 0 {
		return nil
	}
	result := make([]*Conn, 0, len(set))
	for conn := range set {
		result = append(result, conn)
	}
	return result
}

// Online reports whether the employee has at least one registered connection.
func (r *Registry) Online(employeeID string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[employeeID]) > 0
}

// Connections returns the number of registered connections.
func (r *Registry) Connections() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
