package telemetry

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore is an in-memory implementation of Store and ReportStore for
// demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []*Event
	batches int
	reports []*ComplianceReport
}

// NewMemoryStore creates an in-memory telemetry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) PersistBatch(ctx context.Context, events []*Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		s.events = append(s.events, e.Clone())
	}
	s.batches++
	return nil
}

func (s *MemoryStore) RecentEvents(ctx context.Context, tenantID string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Event, 0, min(limit, len(s.events)))
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		if tenantID != "" && s.events[i].TenantID != tenantID {
			continue
		}
		result = append(result, s.events[i].Clone())
	}
	return result, nil
}

// Events returns every persisted event in insertion order.
func (s *MemoryStore) Events() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Event, len(s.events))
	for i, e := range s.events {
		result[i] = e.Clone()
	}
	return result
}

// Batches returns the number of PersistBatch calls.
func (s *MemoryStore) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

func (s *MemoryStore) SaveReport(ctx context.Context, r *ComplianceReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	cp.CountsByType = maps.Clone(r.CountsByType)
	cp.CountsByRiskLevel = maps.Clone(r.CountsByRiskLevel)
	s.reports = append(s.reports, &cp)
	return nil
}

// Reports returns the saved reports in insertion order.
func (s *MemoryStore) Reports() []*ComplianceReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ComplianceReport(nil), s.reports...)
}
