package tasks

import "sync"

// InflightRegistry tracks provisioning jobs currently executing, keyed by
// project id. The queue's task id dedupes enqueues; this guards the handler
// itself against two workers running the same project at once.
type InflightRegistry struct {
	mu   sync.Mutex
	jobs map[string]struct{}
}

func NewInflightRegistry() *InflightRegistry {
	return &InflightRegistry{jobs: make(map[string]struct{})}
}

// Acquire reserves the key and reports whether the reservation succeeded.
func (r *InflightRegistry) Acquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.jobs[key]; busy {
		return false
	}
	r.jobs[key] = struct{}{}
	return true
}

func (r *InflightRegistry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, key)
}
