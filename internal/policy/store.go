package policy

import (
	"sort"
	"sync/atomic"
	"time"
)

// Version is reported to clients polling for policy updates.
const Version = "1.0.0"

// TenantConfig holds one tenant's override. A nil Policies means the
// tenant inherits the default table.
type TenantConfig struct {
	ID       string `json:"tenantId"`
	Name     string `json:"name"`
	Policies *Table `json:"policies,omitempty"`
	Active   bool   `json:"active"`
}

// Snapshot is an immutable view of the policy configuration. Callers must
// not modify a snapshot after passing it to Store.Swap.
type Snapshot struct {
	MultiTenant bool
	Default     *Table
	Tenants     map[string]TenantConfig
	UpdatedAt   time.Time
}

// Store publishes policy snapshots. Reads are lock-free; Swap replaces the
// whole snapshot so readers never observe a partial update.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store holding snap. A nil snapshot or a snapshot with
// a nil default table gets DefaultTable().
func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	s.Swap(snap)
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Swap publishes snap and returns the previous snapshot.
func (s *Store) Swap(snap *Snapshot) *Snapshot {
	if snap == nil {
		snap = &Snapshot{}
	}
	if snap.Default == nil {
		snap.Default = DefaultTable()
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	return s.current.Swap(snap)
}

// KnownTenant reports whether id names an active tenant in the current
// snapshot.
func (s *Store) KnownTenant(id string) bool {
	if id == "" {
		return false
	}
	t, ok := s.Load().Tenants[id]
	return ok && t.Active
}

// TenantIDs returns the configured tenant ids in sorted order.
func (s *Store) TenantIDs() []string {
	snap := s.Load()
	ids := make([]string, 0, len(snap.Tenants))
	for id := range snap.Tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve returns the table that applies to tenantID. The tenant override
// is used only when multi-tenant mode is on and the tenant is configured
// with a non-nil table; every other case yields the default table.
func Resolve(tenantID string, store *Store) *Table {
	if store == nil {
		return DefaultTable()
	}
	snap := store.Load()
	if snap.MultiTenant && tenantID != "" {
		if t, ok := snap.Tenants[tenantID]; ok && t.Active && t.Policies != nil {
			return t.Policies
		}
	}
	return snap.Default
}
