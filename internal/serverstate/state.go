package serverstate

import "sync/atomic"

const (
	StatusNotReady = "not_ready"
	StatusReady    = "ready"
	StatusDraining = "draining"
	StatusUnknown  = "unknown"
)

// Snapshot holds the server status and draining flag. Both fields are
// persisted together so readers always observe a consistent pair.
type Snapshot struct {
	Status   string `json:"status"`
	Draining bool   `json:"draining"`
}

// Store defines how the snapshot is persisted. Implementations may keep it in
// memory or in an external service such as Redis so replicas share it.
type Store interface {
	Load() Snapshot
	Store(Snapshot)
}

// memoryStore implements Store using an atomic.Value.
type memoryStore struct {
	v atomic.Value
}

// NewMemoryStore returns a memory-backed Store initialized to "not_ready".
func NewMemoryStore() Store {
	ms := &memoryStore{}
	ms.v.Store(Snapshot{Status: StatusNotReady})
	return ms
}

func (m *memoryStore) Load() Snapshot {
	if st, ok := m.v.Load().(Snapshot); ok {
		return st
	}
	return Snapshot{Status: StatusUnknown}
}

func (m *memoryStore) Store(s Snapshot) {
	m.v.Store(s)
}

// State exposes the ready/draining lifecycle of the service on top of a Store.
type State struct {
	store Store
}

// New returns a State backed by s, or by a memory store when s is nil.
func New(s Store) *State {
	if s == nil {
		s = NewMemoryStore()
	}
	return &State{store: s}
}

// SetStatus updates the status string and keeps the draining flag.
func (s *State) SetStatus(status string) {
	st := s.store.Load()
	st.Status = status
	s.store.Store(st)
}

// Status returns the current status string.
func (s *State) Status() string {
	return s.store.Load().Status
}

// MarkReady sets the status to ready and clears a draining flag left by a
// previous run.
func (s *State) MarkReady() {
	s.store.Store(Snapshot{Status: StatusReady})
}

// StartDrain marks the service as draining.
func (s *State) StartDrain() {
	s.store.Store(Snapshot{Status: StatusDraining, Draining: true})
}

// IsDraining reports whether the service is draining.
func (s *State) IsDraining() bool {
	return s.store.Load().Draining
}

// Snapshot returns the stored status and draining flag.
func (s *State) Snapshot() Snapshot {
	return s.store.Load()
}
