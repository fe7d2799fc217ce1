package match

import (
	"fmt"
	"sort"
	"sync"
)

// entry owns one live session. Every event for the session runs while
// holding mu; closed is set by the transition that removes it.
type entry struct {
	mu      sync.Mutex
	session *Session
	closed  bool
}

// Registry maps session ids to live sessions. It holds no business logic.
// Lock order is entry.mu before Registry.mu; the registry never takes an
// entry lock while holding its own.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Create registers s and returns its id.
func (r *Registry) Create(s *Session) (string, error) {
	_, err := r.insert(s)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

func (r *Registry) insert(s *Session) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[s.ID]; exists {
		return nil, fmt.Errorf("session %s already registered", s.ID)
	}
	e := &entry{session: s}
	r.entries[s.ID] = e
	return e, nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Get returns a snapshot of the live session with the given id.
func (r *Registry) Get(id string) (Snapshot, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return Snapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Snapshot{}, false
	}
	return e.session.Snapshot(), true
}

// Remove drops the session. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) all() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	return entries
}

// ListWaiting returns waiting sessions, most recently created first.
func (r *Registry) ListWaiting() []Snapshot {
	waiting := make([]Snapshot, 0)
	for _, e := range r.all() {
		e.mu.Lock()
		if !e.closed && e.session.Status == StatusWaiting {
			waiting = append(waiting, e.session.Snapshot())
		}
		e.mu.Unlock()
	}

	sort.Slice(waiting, func(i, j int) bool {
		if waiting[i].CreatedAt.Equal(waiting[j].CreatedAt) {
			return waiting[i].ID > waiting[j].ID
		}
		return waiting[i].CreatedAt.After(waiting[j].CreatedAt)
	})
	return waiting
}

// SeatedIn returns the ids of live sessions in which connID holds a seat.
func (r *Registry) SeatedIn(connID string) []string {
	ids := make([]string, 0)
	for _, e := range r.all() {
		e.mu.Lock()
		if !e.closed && e.session.Seated(connID) {
			ids = append(ids, e.session.ID)
		}
		e.mu.Unlock()
	}
	return ids
}
