package credentials

import (
	"sync"
	"time"
)

// MockRepository is an in-memory Repository. Exported so other packages'
// tests can seed users without a database.
type MockRepository struct {
	mu     sync.Mutex
	users  map[uint]*User
	nextID uint
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		users:  make(map[uint]*User),
		nextID: 1,
	}
}

func (m *MockRepository) CreateUser(user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ExternalID == user.ExternalID {
			return ErrUserExists
		}
	}

	user.ID = m.nextID
	user.CreatedAt = time.Now()
	m.nextID++

	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *MockRepository) GetUserByID(id uint) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *MockRepository) GetUserByExternalID(externalID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ExternalID == externalID {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockRepository) UpdateStatus(userID uint, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Status = status
	return nil
}

func (m *MockRepository) UpdateRole(userID uint, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Role = role
	return nil
}

func (m *MockRepository) SetMFAEnabled(userID uint, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.MFAEnabled = enabled
	return nil
}

func (m *MockRepository) RecordFailure(userID uint, threshold int, lockout time.Duration, now time.Time) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	user.FailedLoginCount++
	if user.FailedLoginCount >= threshold {
		until := now.Add(lockout)
		user.LockedUntil = &until
	}

	clone := *user
	return &clone, nil
}

func (m *MockRepository) RecordSuccess(userID uint, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}

	user.FailedLoginCount = 0
	user.LockedUntil = nil
	login := now
	user.LastLoginAt = &login
	return nil
}
