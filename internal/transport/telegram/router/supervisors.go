package router

import (
	"maps"
	"sync"

	rtsup "checkinbot/internal/runtime/supervisor"
)

// SupervisorRegistry names the supervisors of running subsystems so the
// status command and the HTTP API can report them.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]*rtsup.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]*rtsup.Supervisor{}}
}

// Set registers or replaces a supervisor under name. A nil sup deletes it.
func (r *SupervisorRegistry) Set(name string, sup *rtsup.Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

// Snapshot returns each registered supervisor's state by name.
func (r *SupervisorRegistry) Snapshot() map[string]rtsup.Snapshot {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	cp := maps.Clone(r.m)
	r.mu.RUnlock()
	out := make(map[string]rtsup.Snapshot, len(cp))
	for name, sup := range cp {
		out[name] = sup.Snapshot()
	}
	return out
}
