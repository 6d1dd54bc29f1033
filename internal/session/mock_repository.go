package session

import (
	"sync"
	"time"
)

// mockRepository is an in-memory Repository for tests.
type mockRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
	nextID   uint
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		sessions: make(map[string]*Session),
		nextID:   1,
	}
}

func (m *mockRepository) Create(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session.ID = m.nextID
	session.CreatedAt = time.Now()
	m.nextID++

	clone := *session
	m.sessions[session.TokenHash] = &clone
	return nil
}

func (m *mockRepository) GetByTokenHash(tokenHash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

func (m *mockRepository) TouchActivity(tokenHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[tokenHash]
	if !ok {
		return ErrSessionNotFound
	}
	session.LastActivityAt = now
	return nil
}

func (m *mockRepository) Revoke(tokenHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[tokenHash]
	if !ok || session.RevokedAt != nil {
		return ErrSessionNotFound
	}
	revoked := now
	session.RevokedAt = &revoked
	return nil
}

func (m *mockRepository) RevokeAllForUser(userID uint, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, session := range m.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			revoked := now
			session.RevokedAt = &revoked
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for hash, session := range m.sessions {
		if session.ExpiresAt.Before(cutoff) {
			delete(m.sessions, hash)
			count++
		}
	}
	return count, nil
}
