package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker is a process-local Locker used when no Redis is configured.
type MemoryLocker struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	now    func() time.Time
}

type memoryClaim struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{claims: make(map[string]memoryClaim), now: time.Now}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if c, ok := m.claims[key]; ok && now.Before(c.expires) {
		return nil, ErrHeld
	}
	token := uuid.New().String()
	m.claims[key] = memoryClaim{token: token, expires: now.Add(ttl)}
	return &memoryLease{locker: m, key: key, token: token}, nil
}

// Held reports whether key is currently claimed.
func (m *MemoryLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[key]
	return ok && m.now().Before(c.expires)
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Extend(_ context.Context, ttl time.Duration) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[l.key]
	now := m.now()
	if !ok || c.token != l.token || !now.Before(c.expires) {
		return ErrNotHeld
	}
	c.expires = now.Add(ttl)
	m.claims[l.key] = c
	return nil
}

func (l *memoryLease) Release(context.Context) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[l.key]
	if !ok || c.token != l.token || !m.now().Before(c.expires) {
		return ErrNotHeld
	}
	delete(m.claims, l.key)
	return nil
}
