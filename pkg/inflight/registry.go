package inflight

import (
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Registry tracks subdomain names that have a pipeline running. At most one holder per name.
type Registry struct {
	mu    sync.Mutex
	names sets.String
}

func New() *Registry {
	return &Registry{names: sets.NewString()}
}

// TryAcquire claims name without waiting. The returned release func is safe to call more than once.
func (r *Registry) TryAcquire(name string) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.names.Has(name) {
		return nil, false
	}
	r.names.Insert(name)

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.names.Delete(name)
		})
	}, true
}

func (r *Registry) Busy(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names.Has(name)
}

// Names returns the held names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names.List()
}
