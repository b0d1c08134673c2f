// Package lock implements the per-path exclusive lock table shared by all
// sessions.
//
// A path is either free or held by exactly one operation. There is no waiting:
// a busy path is reported to the client immediately.
package lock

import (
	"errors"
	"sync"
)

// ErrBusy is returned when a path is already held by another operation.
var ErrBusy = errors.New("file is currently being processed")

// Registry is the table of held paths. The zero value is ready to use.
type Registry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]struct{})}
}

// Acquire marks path as held. It returns false without blocking if the path
// is already held.
func (r *Registry) Acquire(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.held == nil {
		r.held = make(map[string]struct{})
	}
	if _, busy := r.held[path]; busy {
		return false
	}
	r.held[path] = struct{}{}
	return true
}

// Release frees path. Releasing a path that is not held is a no-op.
func (r *Registry) Release(path string) {
	r.mu.Lock()
	delete(r.held, path)
	r.mu.Unlock()
}

// TryAcquire acquires path and returns a release function meant for defer.
// The release function is safe to call more than once; only the first call
// frees the path. When ok is false, release is nil.
func (r *Registry) TryAcquire(path string) (release func(), ok bool) {
	if !r.Acquire(path) {
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.Release(path) })
	}, true
}

// Held reports whether path is currently held.
func (r *Registry) Held(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[path]
	return ok
}

// Len returns the number of held paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
