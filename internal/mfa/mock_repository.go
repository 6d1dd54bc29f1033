package mfa

import (
	"sync"
	"time"
)

type methodKey struct {
	userID     uint
	methodType string
}

type deviceKey struct {
	userID      uint
	fingerprint string
}

// mockRepository is an in-memory Repository for tests. The mutex stands in
// for the store's transaction guarantee.
type mockRepository struct {
	mu      sync.Mutex
	methods map[methodKey]*Method
	codes   []*BackupCode
	devices map[deviceKey]*TrustedDevice
	vcodes  []*VerificationCode
	nextID  uint
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		methods: make(map[methodKey]*Method),
		devices: make(map[deviceKey]*TrustedDevice),
		nextID:  1,
	}
}

func (m *mockRepository) id() uint {
	id := m.nextID
	m.nextID++
	return id
}

func (m *mockRepository) UpsertMethod(method *Method) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := methodKey{userID: method.UserID, methodType: method.MethodType}
	if existing, ok := m.methods[key]; ok {
		existing.Payload = method.Payload
		existing.IsPrimary = method.IsPrimary
		existing.IsActive = method.IsActive
		return nil
	}

	method.ID = m.id()
	clone := *method
	m.methods[key] = &clone
	return nil
}

func (m *mockRepository) GetMethod(userID uint, methodType string) (*Method, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	method, ok := m.methods[methodKey{userID: userID, methodType: methodType}]
	if !ok || !method.IsActive {
		return nil, ErrMethodNotFound
	}
	clone := *method
	return &clone, nil
}

func (m *mockRepository) ListMethods(userID uint) ([]Method, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Method
	for _, method := range m.methods {
		if method.UserID == userID {
			out = append(out, *method)
		}
	}
	return out, nil
}

func (m *mockRepository) DeactivateMethod(userID uint, methodType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	method, ok := m.methods[methodKey{userID: userID, methodType: methodType}]
	if !ok {
		return ErrMethodNotFound
	}
	method.IsActive = false
	return nil
}

func (m *mockRepository) ReplaceBackupCodes(userID uint, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []*BackupCode
	for _, c := range m.codes {
		if c.UserID != userID {
			kept = append(kept, c)
		}
	}
	for _, h := range hashes {
		kept = append(kept, &BackupCode{ID: m.id(), UserID: userID, CodeHash: h})
	}
	m.codes = kept
	return nil
}

func (m *mockRepository) ConsumeBackupCode(userID uint, hash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.codes {
		if c.UserID == userID && c.CodeHash == hash && c.UsedAt == nil {
			used := now
			c.UsedAt = &used
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) UpsertTrustedDevice(device *TrustedDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := deviceKey{userID: device.UserID, fingerprint: device.Fingerprint}
	if existing, ok := m.devices[key]; ok {
		existing.Label = device.Label
		existing.ExpiresAt = device.ExpiresAt
		return nil
	}

	device.ID = m.id()
	clone := *device
	m.devices[key] = &clone
	return nil
}

func (m *mockRepository) TouchTrustedDevice(userID uint, fingerprint string, now time.Time) (*TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[deviceKey{userID: userID, fingerprint: fingerprint}]
	if !ok || !now.Before(device.ExpiresAt) {
		return nil, nil
	}

	used := now
	device.LastUsedAt = &used
	clone := *device
	return &clone, nil
}

func (m *mockRepository) CreateVerificationCode(code *VerificationCode, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.vcodes {
		if c.CodeType != code.CodeType || c.UsedAt != nil {
			continue
		}
		sameSubject := false
		if code.UserID != nil {
			sameSubject = c.UserID != nil && *c.UserID == *code.UserID
		} else {
			sameSubject = c.ExternalID == code.ExternalID
		}
		if sameSubject {
			used := now
			c.UsedAt = &used
		}
	}

	code.ID = m.id()
	clone := *code
	m.vcodes = append(m.vcodes, &clone)
	return nil
}

func (m *mockRepository) FindActiveVerificationCode(userID *uint, externalID, codeType string, now time.Time) (*VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.vcodes) - 1; i >= 0; i-- {
		c := m.vcodes[i]
		if c.CodeType != codeType || c.UsedAt != nil || !now.Before(c.ExpiresAt) {
			continue
		}
		if userID != nil {
			if c.UserID != nil && *c.UserID == *userID {
				clone := *c
				return &clone, nil
			}
		} else if c.ExternalID == externalID {
			clone := *c
			return &clone, nil
		}
	}
	return nil, ErrCodeNotFound
}

func (m *mockRepository) IncrementVerificationAttempts(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.vcodes {
		if c.ID == id {
			c.Attempts++
			return nil
		}
	}
	return ErrCodeNotFound
}

func (m *mockRepository) MarkVerificationCodeUsed(id uint, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.vcodes {
		if c.ID == id {
			used := now
			c.UsedAt = &used
			return nil
		}
	}
	return ErrCodeNotFound
}
