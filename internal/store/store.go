package store

import (
	"fmt"
	"sort"
	"sync"

	"grohe-sync-backend/internal/coordinator"
)

// Store defines the interface for looking up the coordinators of configured appliances.
type Store interface {
	Register(c *coordinator.Coordinator) error
	Get(applianceID string) (*coordinator.Coordinator, error)
	List() []*coordinator.Coordinator
}

// memoryStore implements the Store interface in process memory.
type memoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*coordinator.Coordinator
	sorted []*coordinator.Coordinator
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{byID: make(map[string]*coordinator.Coordinator)}
}

// Register adds a coordinator. Appliance ids must be unique.
func (s *memoryStore) Register(c *coordinator.Coordinator) error {
	id := c.Device().ApplianceID
	if id == "" {
		return fmt.Errorf("register %s: %w", c.Device(), ErrMissingID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[id]; exists {
		return fmt.Errorf("register %s: %w", c.Device(), ErrDuplicate)
	}
	s.byID[id] = c
	s.sorted = append(s.sorted, c)
	sort.SliceStable(s.sorted, func(i, j int) bool {
		a, b := s.sorted[i].Device(), s.sorted[j].Device()
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ApplianceID < b.ApplianceID
	})
	return nil
}

// Get returns the coordinator of an appliance or ErrNotFound.
func (s *memoryStore) Get(applianceID string) (*coordinator.Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[applianceID]
	if !ok {
		return nil, fmt.Errorf("appliance %q: %w", applianceID, ErrNotFound)
	}
	return c, nil
}

// List returns all coordinators ordered by device name.
func (s *memoryStore) List() []*coordinator.Coordinator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*coordinator.Coordinator, len(s.sorted))
	copy(out, s.sorted)
	return out
}
