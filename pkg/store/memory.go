package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*Conversation)}
}

func (m *MemoryStore) EnsureSchema(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Save(ctx context.Context, conv *Conversation) error {
	if err := validate(conv); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[conv.ID] = conv.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

type cachedSession struct {
	conv    *Conversation
	expires time.Time
}

// MemoryCache is a SessionCache backed by a map with lazy expiry.
type MemoryCache struct {
	mu       sync.Mutex
	sessions map[string]cachedSession
	now      func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sessions: make(map[string]cachedSession), now: time.Now}
}

func (m *MemoryCache) Put(ctx context.Context, conv *Conversation, ttl time.Duration) error {
	if err := validate(conv); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := cachedSession{conv: conv.Clone()}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.sessions[conv.ID] = entry
	return nil
}

func (m *MemoryCache) Get(ctx context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	return entry.conv.Clone(), nil
}

func (m *MemoryCache) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.sessions {
		if _, ok := m.live(id); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryCache) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// live must be called with mu held. Expired entries are dropped.
func (m *MemoryCache) live(id string) (cachedSession, bool) {
	entry, ok := m.sessions[id]
	if !ok {
		return cachedSession{}, false
	}
	if !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		delete(m.sessions, id)
		return cachedSession{}, false
	}
	return entry, true
}
