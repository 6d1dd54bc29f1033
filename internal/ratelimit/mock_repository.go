package ratelimit

import (
	"sync"
	"time"
)

type windowKey struct {
	identifier string
	action     string
}

// MockRepository is an in-memory Repository for tests. The mutex mirrors the
// transaction guarantee of the real store.
type MockRepository struct {
	mu      sync.Mutex
	windows map[windowKey]*Window
}

func NewMockRepository() *MockRepository {
	return &MockRepository{windows: make(map[windowKey]*Window)}
}

func (m *MockRepository) Increment(identifier, action string, window time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := windowKey{identifier: identifier, action: action}
	row, ok := m.windows[key]
	if !ok || now.Sub(row.WindowStart) >= window {
		row = &Window{
			Identifier:  identifier,
			Action:      action,
			Count:       1,
			WindowStart: now,
		}
		m.windows[key] = row
		return 1, nil
	}

	row.Count++
	return row.Count, nil
}

func (m *MockRepository) Reset(identifier, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.windows, windowKey{identifier: identifier, action: action})
	return nil
}
