package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

// MemoryStore is a process-local Store. State is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int64]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]memoryEntry),
	}
}

func (m *MemoryStore) Get(_ context.Context, chatID int64) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[chatID]
	if !ok {
		return Session{}, false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, chatID)
		return Session{}, false, nil
	}
	return entry.session, true, nil
}

func (m *MemoryStore) Save(_ context.Context, chatID int64, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[chatID] = memoryEntry{session: s, expiresAt: m.now().Add(m.ttl)}
	m.sweep()
	return nil
}

func (m *MemoryStore) Reset(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, chatID)
	return nil
}

// sweep drops expired entries. Caller holds mu.
func (m *MemoryStore) sweep() {
	now := m.now()
	for id, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, id)
		}
	}
}
