package sessions

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goatbytes/consoul/internal/models"
)

// entry pairs a cloned session with a TTL-derived expiry. Grounded on
// internal/sessions/memory.go's MemoryStore, generalized with an added
// TTL and sorted-by-updated_at listing.
type entry struct {
	state     *models.Session
	expiresAt time.Time
}

// MemoryStore is the in-memory Store implementation. It is also used as
// the fallback backend inside ResilientStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
}

// NewMemoryStore builds a MemoryStore. ttl<=0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry), ttl: ttl}
}

func (m *MemoryStore) Save(_ context.Context, state *models.Session) error {
	clone := state.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &entry{state: clone}
	if m.ttl > 0 {
		e.expiresAt = time.Now().Add(m.ttl)
	}
	m.entries[state.SessionID] = e
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	if ok && m.expired(e) {
		delete(m.entries, sessionID)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return e.state.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

func (m *MemoryStore) List(_ context.Context, namespace string, limit, offset int) ([]string, error) {
	if limit == 0 {
		return []string{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	type item struct {
		id        string
		updatedAt time.Time
	}
	var items []item
	for id, e := range m.entries {
		if m.expired(e) {
			continue
		}
		if namespace != "" && !strings.HasPrefix(id, namespace) {
			continue
		}
		items = append(items, item{id: id, updatedAt: e.state.UpdatedAt})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].updatedAt.After(items[j].updatedAt)
	})

	if offset >= len(items) {
		return []string{}, nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out, nil
}

func (m *MemoryStore) expired(e *entry) bool {
	return m.ttl > 0 && !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}
