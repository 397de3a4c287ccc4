// Package jobs holds the in-memory job registry, the per-job progress
// bus, and the bounded worker pool that executes migrations.
package jobs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360studio/modernizer/migration"
)

// Registry is the process-wide store of migration states. Readers
// always receive deep copies; only the worker executing a job writes
// its state back.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*migration.State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*migration.State)}
}

// Put stores a snapshot of the state.
func (r *Registry) Put(st *migration.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[st.ID] = st.Clone()
}

// Get returns a snapshot of the state, or false when unknown.
func (r *Registry) Get(id string) (*migration.State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[id]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// List returns a page of states ordered by creation time, newest
// first, plus the total count.
func (r *Registry) List(limit, offset int) ([]*migration.State, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*migration.State, 0, len(r.states))
	for _, st := range r.states {
		all = append(all, st)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	page := make([]*migration.State, 0, end-offset)
	for _, st := range all[offset:end] {
		page = append(page, st.Clone())
	}
	return page, total
}

// Delete removes a record. Only terminal jobs can be deleted.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		return fmt.Errorf("migration %s not found", id)
	}
	if !st.Status.Terminal() {
		return fmt.Errorf("migration %s is still %s", id, st.Status)
	}
	delete(r.states, id)
	return nil
}

// ActiveCount returns the number of non-terminal jobs.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, st := range r.states {
		if !st.Status.Terminal() {
			n++
		}
	}
	return n
}
