package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*Assessment // fingerprint → assessments
}

// NewMemoryStore creates an in-memory risk assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assessments[a.DeviceFingerprint] = append(s.assessments[a.DeviceFingerprint], a.clone())
	return nil
}

func (s *MemoryStore) ListByDevice(ctx context.Context, fingerprint string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[fingerprint]
	if len(all) == 0 {
		return nil, nil
	}

	// Return most recent first, up to limit
	start := max(len(all)-limit, 0)
	result := make([]*Assessment, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		result = append(result, all[i].clone())
	}
	return result, nil
}
