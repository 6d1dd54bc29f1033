package approval

import (
	"sync"
	"time"
)

// mockRepository is an in-memory Repository for tests. The mutex stands in
// for the row locks the real implementation takes, so the single-transition
// and single-consumption guarantees hold here too.
type mockRepository struct {
	mu       sync.Mutex
	requests map[string]*Request
	nextID   uint
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		requests: make(map[string]*Request),
		nextID:   1,
	}
}

func (m *mockRepository) Create(request *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	request.ID = m.nextID
	request.CreatedAt = time.Now()
	m.nextID++

	clone := *request
	m.requests[request.RequestID] = &clone
	return nil
}

func (m *mockRepository) GetByRequestID(requestID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, ok := m.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	clone := *request
	return &clone, nil
}

func (m *mockRepository) SetMessageRef(requestID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, ok := m.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	request.MessageRef = ref
	return nil
}

func (m *mockRepository) Approve(requestID, codeHash string, now time.Time) (*Request, error) {
	return m.transition(requestID, now, func(request *Request) {
		request.Status = StatusApproved
		request.CodeHash = codeHash
		responded := now
		request.RespondedAt = &responded
	})
}

func (m *mockRepository) Deny(requestID string, now time.Time) (*Request, error) {
	return m.transition(requestID, now, func(request *Request) {
		request.Status = StatusDenied
		responded := now
		request.RespondedAt = &responded
	})
}

func (m *mockRepository) transition(requestID string, now time.Time, apply func(*Request)) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, ok := m.requests[requestID]
	if !ok {
		return &Request{}, ErrRequestNotFound
	}
	if request.Status != StatusPending {
		clone := *request
		return &clone, ErrNotPending
	}
	if now.After(request.ExpiresAt) {
		request.Status = StatusExpired
		clone := *request
		return &clone, ErrRequestExpired
	}

	apply(request)
	clone := *request
	return &clone, nil
}

func (m *mockRepository) ExpireIfOverdue(requestID string, now time.Time) (*Request, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, ok := m.requests[requestID]
	if !ok {
		return nil, false, ErrRequestNotFound
	}

	var flipped bool
	if request.Status == StatusPending && now.After(request.ExpiresAt) {
		request.Status = StatusExpired
		flipped = true
	}
	clone := *request
	return &clone, flipped, nil
}

func (m *mockRepository) ConsumeCode(requestID, codeHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	request, ok := m.requests[requestID]
	if !ok {
		return false, nil
	}
	if request.Status != StatusApproved || request.CodeHash == "" || request.CodeHash != codeHash {
		return false, nil
	}
	request.CodeHash = ""
	return true, nil
}

func (m *mockRepository) ExpirePendingBefore(now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, request := range m.requests {
		if request.Status == StatusPending && request.ExpiresAt.Before(now) {
			request.Status = StatusExpired
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for id, request := range m.requests {
		if request.Status != StatusPending && request.CreatedAt.Before(cutoff) {
			delete(m.requests, id)
			count++
		}
	}
	return count, nil
}
