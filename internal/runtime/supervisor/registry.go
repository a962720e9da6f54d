package supervisor

import "sync"

// Registry names the supervisors of running subsystems for health output.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Supervisor
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]*Supervisor{}}
}

// Set registers sup under name; a nil sup removes the entry.
func (r *Registry) Set(name string, sup *Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

// Snapshot copies the current entries.
func (r *Registry) Snapshot() map[string]*Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Supervisor, len(r.m))
	for k, v := range r.m {
		out[k] = v
	}
	return out
}
