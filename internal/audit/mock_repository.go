package audit

import (
	"sync"
)

// MockRepository is an in-memory Repository. Exported so other packages'
// tests can wire an audit logger without a database.
type MockRepository struct {
	mu      sync.Mutex
	entries []Entry
	nextID  uint
}

func NewMockRepository() *MockRepository {
	return &MockRepository{nextID: 1}
}

func (m *MockRepository) Create(entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = m.nextID
	m.nextID++
	m.entries = append(m.entries, *entry)
	return nil
}

// Entries returns a snapshot of everything recorded so far.
func (m *MockRepository) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *MockRepository) List(filter Filter) ([]Entry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Entry
	for _, e := range m.entries {
		if filter.UserID != nil {
			if e.UserID == nil || *e.UserID != *filter.UserID {
				continue
			}
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		matched = append(matched, e)
	}

	// Newest first, matching the SQL ordering.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	total := int64(len(matched))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	return matched[start:end], total, nil
}
