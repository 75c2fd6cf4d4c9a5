// Package auth provides API key authentication for TrustGate clients.
//
// Authentication model:
//   - Health, metrics and realtime endpoints: no auth required
//   - /api/v1/sfe: API key required once any key is configured
//   - A key may be bound to a tenant; requests made with it are scoped to
//     that tenant
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/trustgate/internal/validation"
)

// Errors
var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid or expired API key")
	ErrKeyNotFound   = errors.New("API key not found")
)

// KeyPrefix marks keys issued by GenerateKey.
const KeyPrefix = "tg_"

// APIKey represents an API key
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`                  // SHA256 hash of key (stored)
	TenantID  string     `json:"tenantId,omitempty"` // empty: not bound to a tenant
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists API keys
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
	Count(ctx context.Context) (int, error)
}

// Manager handles authentication
type Manager struct {
	store Store
}

// NewManager creates a new auth manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Enabled reports whether any key is registered. With no keys the API is open.
func (m *Manager) Enabled(ctx context.Context) bool {
	if m == nil {
		return false
	}
	n, err := m.store.Count(ctx)
	return err != nil || n > 0
}

// Register stores a caller-provided key, e.g. one distributed to a bank's
// client SDK out of band.
func (m *Manager) Register(ctx context.Context, rawKey, tenantID, name string) (*APIKey, error) {
	rawKey = strings.TrimSpace(rawKey)
	if len(rawKey) < 16 {
		return nil, fmt.Errorf("API key %q must be at least 16 characters", name)
	}
	if tenantID != "" && !validation.IsSafeIdentifier(tenantID) {
		return nil, fmt.Errorf("invalid tenant id %q", tenantID)
	}
	hash := hashKey(rawKey)
	key := &APIKey{
		ID:        "ak_" + hash[:16],
		Hash:      hash,
		TenantID:  tenantID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateKey creates a new random key, optionally bound to a tenant.
// Returns the raw key (shown once) and the stored metadata.
func (m *Manager) GenerateKey(ctx context.Context, tenantID, name string) (rawKey string, key *APIKey, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey = KeyPrefix + hex.EncodeToString(b)
	key, err = m.Register(ctx, rawKey, tenantID, name)
	if err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// ValidateKey validates an API key and returns the key metadata
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	// Update last used (fire and forget)
	used := *key
	used.LastUsed = time.Now()
	go func() { _ = m.store.Update(context.WithoutCancel(ctx), &used) }()

	return key, nil
}

// RevokeKey revokes a key by its raw value.
func (m *Manager) RevokeKey(ctx context.Context, rawKey string) error {
	key, err := m.store.GetByHash(ctx, hashKey(strings.TrimSpace(rawKey)))
	if err != nil {
		return ErrKeyNotFound
	}
	revoked := *key
	revoked.Revoked = true
	return m.store.Update(ctx, &revoked)
}

// LoadKeys registers the keys in an API_KEYS value: comma separated
// entries of "key" or "tenantId:key".
func (m *Manager) LoadKeys(ctx context.Context, raw string) (int, error) {
	var errs []error
	n := 0
	for i, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tenantID, rawKey, bound := strings.Cut(entry, ":")
		if !bound {
			tenantID, rawKey = "", entry
		}
		if _, err := m.Register(ctx, rawKey, tenantID, fmt.Sprintf("key-%d", i+1)); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by hash
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]*APIKey),
	}
}

func (s *MemoryStore) Create(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.Hash]; ok {
		return fmt.Errorf("API key %s already registered", key.ID)
	}
	cp := *key
	s.keys[key.Hash] = &cp
	return nil
}

func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.keys[key.Hash]
	if !ok {
		return ErrKeyNotFound
	}
	// Revocation is sticky
	revoked := existing.Revoked || key.Revoked
	cp := *key
	cp.Revoked = revoked
	s.keys[key.Hash] = &cp
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys), nil
}
