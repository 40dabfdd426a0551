package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	session  Session
	deadline time.Time
}

// Memory is the in-process session store. Expired entries are dropped
// lazily on read.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[int64]memoryEntry
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[int64]memoryEntry),
	}
}

func (m *Memory) Get(_ context.Context, userID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[userID]
	if !ok || m.now().After(entry.deadline) {
		delete(m.sessions, userID)
		return Session{UserID: userID}, nil
	}
	return entry.session, nil
}

func (m *Memory) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.UserID] = memoryEntry{session: s, deadline: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Reset(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}
