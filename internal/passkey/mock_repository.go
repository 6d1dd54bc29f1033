package passkey

import (
	"sync"
	"time"
)

type challengeKey struct {
	userID   uint
	ceremony string
}

// mockRepository is an in-memory Repository for tests.
type mockRepository struct {
	mu          sync.Mutex
	credentials map[string]*Credential
	challenges  map[challengeKey]*Challenge
	nextID      uint
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		credentials: make(map[string]*Credential),
		challenges:  make(map[challengeKey]*Challenge),
		nextID:      1,
	}
}

func (m *mockRepository) CreateCredential(credential *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[credential.CredentialID]; ok {
		return ErrCredentialExists
	}

	credential.ID = m.nextID
	credential.CreatedAt = time.Now()
	m.nextID++

	clone := *credential
	m.credentials[credential.CredentialID] = &clone
	return nil
}

func (m *mockRepository) GetCredential(credentialID string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	credential, ok := m.credentials[credentialID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	clone := *credential
	return &clone, nil
}

func (m *mockRepository) ListCredentials(userID uint) ([]Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Credential
	for _, c := range m.credentials {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockRepository) UpdateSignCount(credentialID string, count uint32, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	credential, ok := m.credentials[credentialID]
	if !ok {
		return ErrCredentialNotFound
	}
	credential.SignCount = count
	used := now
	credential.LastUsedAt = &used
	return nil
}

func (m *mockRepository) TouchCredential(credentialID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	credential, ok := m.credentials[credentialID]
	if !ok {
		return ErrCredentialNotFound
	}
	used := now
	credential.LastUsedAt = &used
	return nil
}

func (m *mockRepository) DeleteCredential(userID uint, credentialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	credential, ok := m.credentials[credentialID]
	if !ok || credential.UserID != userID {
		return ErrCredentialNotFound
	}
	delete(m.credentials, credentialID)
	return nil
}

func (m *mockRepository) SaveChallenge(challenge *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := challengeKey{userID: challenge.UserID, ceremony: challenge.Ceremony}
	if existing, ok := m.challenges[key]; ok {
		existing.Challenge = challenge.Challenge
		existing.ExpiresAt = challenge.ExpiresAt
		return nil
	}

	challenge.ID = m.nextID
	m.nextID++
	clone := *challenge
	m.challenges[key] = &clone
	return nil
}

func (m *mockRepository) GetChallenge(userID uint, ceremony string) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	challenge, ok := m.challenges[challengeKey{userID: userID, ceremony: ceremony}]
	if !ok {
		return nil, ErrNoChallenge
	}
	clone := *challenge
	return &clone, nil
}

func (m *mockRepository) ClearChallenge(userID uint, ceremony string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.challenges, challengeKey{userID: userID, ceremony: ceremony})
	return nil
}
