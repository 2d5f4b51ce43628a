package revshare

import (
	"sync"
)

// ReleasedState is the persisted release bookkeeping of a ledger.
type ReleasedState struct {
	TotalReleased uint64
	Released      map[Address]uint64
	Pending       map[Address]PendingRelease
}

// StateStore persists a ledger's registry and release bookkeeping.
type StateStore interface {
	// PutRegistry stores the registry. Returns ErrRegistryExists if one is already stored.
	PutRegistry(r *Registry) error

	// GetRegistry returns the stored registry, or ErrRegistryNotFound.
	GetRegistry() (*Registry, error)

	// PutReleased atomically records the cumulative release of addr, the new
	// total and addr's pending release. A nil pending clears addr's record.
	PutReleased(addr Address, releasedOf, totalReleased uint64, pending *PendingRelease) error

	// LoadReleased returns the stored release bookkeeping (zero if none).
	LoadReleased() (*ReleasedState, error)
}

// MemStore is an in-memory StateStore for testing.
type MemStore struct {
	mu       sync.RWMutex
	registry []byte
	total    uint64
	released map[Address]uint64
	pending  map[Address]PendingRelease

	// FailPut, when set, is returned by the next PutReleased call.
	FailPut error
}

// Compile-time interface check.
var _ StateStore = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		released: make(map[Address]uint64),
		pending:  make(map[Address]PendingRelease),
	}
}

// PutRegistry stores the serialized registry.
func (s *MemStore) PutRegistry(r *Registry) error {
	data, err := SerializeRegistry(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry != nil {
		return ErrRegistryExists
	}
	s.registry = data
	return nil
}

// GetRegistry decodes the stored registry.
func (s *MemStore) GetRegistry() (*Registry, error) {
	s.mu.RLock()
	data := s.registry
	s.mu.RUnlock()
	if data == nil {
		return nil, ErrRegistryNotFound
	}
	return DeserializeRegistry(data)
}

// PutReleased records a cumulative release, the new total and the pending record.
func (s *MemStore) PutReleased(addr Address, releasedOf, totalReleased uint64, pending *PendingRelease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPut != nil {
		err := s.FailPut
		s.FailPut = nil
		return err
	}
	s.released[addr] = releasedOf
	s.total = totalReleased
	if pending != nil {
		s.pending[addr] = *pending
	} else {
		delete(s.pending, addr)
	}
	return nil
}

// LoadReleased returns a copy of the stored bookkeeping.
func (s *MemStore) LoadReleased() (*ReleasedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &ReleasedState{
		TotalReleased: s.total,
		Released:      make(map[Address]uint64, len(s.released)),
		Pending:       make(map[Address]PendingRelease, len(s.pending)),
	}
	for a, v := range s.released {
		st.Released[a] = v
	}
	for a, p := range s.pending {
		st.Pending[a] = p
	}
	return st, nil
}
