package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoxlock/authcore/internal/audit"
)

func TestService_CreateUser(t *testing.T) {
	tests := []struct {
		name       string
		externalID string
		setup      func(*Service)
		wantErr    error
	}{
		{
			name:       "successful creation",
			externalID: "discord:1001",
		},
		{
			name:       "duplicate external identity",
			externalID: "discord:1002",
			setup: func(s *Service) {
				_, _ = s.CreateUser("discord:1002", "First")
			},
			wantErr: ErrUserExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, auditRepo := newTestService(t)
			if tt.setup != nil {
				tt.setup(svc)
			}

			user, err := svc.CreateUser(tt.externalID, "Test User")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, StatusPending, user.Status)
			assert.False(t, user.MFAEnabled)

			got, err := svc.GetUserByExternalID(tt.externalID)
			require.NoError(t, err)
			assert.Equal(t, user.ID, got.ID)

			entries := auditRepo.Entries()
			require.NotEmpty(t, entries)
			assert.Equal(t, audit.EventUserCreated, entries[len(entries)-1].EventType)
		})
	}
}

func TestService_LockoutAfterFiveFailures(t *testing.T) {
	svc, auditRepo := newTestService(t)
	user := mustCreateUser(t, svc, "discord:2001")

	reqCtx := RequestContext{IPAddress: "10.1.2.3", DeviceInfo: "chrome"}

	// Four failures: counter climbs, no lock yet.
	for i := 0; i < 4; i++ {
		require.NoError(t, svc.RecordLoginAttempt(false, &user.ID, user.ExternalID, reqCtx))
		assert.NoError(t, svc.CheckLocked(user.ID))
	}

	// Fifth failure triggers the 15-minute lock.
	require.NoError(t, svc.RecordLoginAttempt(false, &user.ID, user.ExternalID, reqCtx))
	assert.ErrorIs(t, svc.CheckLocked(user.ID), ErrAccountLocked)

	stored, err := svc.GetUserByID(user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LockedUntil)
	assert.Equal(t, 5, stored.FailedLoginCount)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *stored.LockedUntil, time.Minute)

	var lockedEvents int
	for _, e := range auditRepo.Entries() {
		if e.EventType == audit.EventAccountLocked {
			lockedEvents++
		}
	}
	assert.Equal(t, 1, lockedEvents)
}

func TestService_CheckLocked_AdvisoryEvenForValidCredential(t *testing.T) {
	svc, _ := newTestService(t)
	user := mustCreateUser(t, svc, "discord:2002")

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordLoginAttempt(false, &user.ID, user.ExternalID, RequestContext{}))
	}

	// The caller must reject before verifying the credential, so a sixth
	// attempt is refused regardless of what was presented.
	assert.ErrorIs(t, svc.CheckLocked(user.ID), ErrAccountLocked)
}

func TestService_LockExpiryAndReset(t *testing.T) {
	svc, _ := newTestService(t)
	user := mustCreateUser(t, svc, "discord:2003")

	current := time.Now()
	svc.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordLoginAttempt(false, &user.ID, user.ExternalID, RequestContext{}))
	}
	assert.ErrorIs(t, svc.CheckLocked(user.ID), ErrAccountLocked)

	// After the lock elapses the account is usable again.
	current = current.Add(16 * time.Minute)
	assert.NoError(t, svc.CheckLocked(user.ID))

	// A success resets the counter to zero and stamps last_login.
	require.NoError(t, svc.RecordLoginAttempt(true, &user.ID, user.ExternalID, RequestContext{}))
	stored, err := svc.GetUserByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedLoginCount)
	assert.Nil(t, stored.LockedUntil)
	require.NotNil(t, stored.LastLoginAt)
}

func TestService_RecordLoginAttempt_UnknownIdentity(t *testing.T) {
	svc, auditRepo := newTestService(t)

	// Attempts with no matching user are still logged, keyed by the raw
	// external identity.
	require.NoError(t, svc.RecordLoginAttempt(false, nil, "discord:stranger", RequestContext{IPAddress: "10.9.9.9"}))

	entries := auditRepo.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventLoginAttempt, entries[0].EventType)
	assert.Nil(t, entries[0].UserID)
	assert.Equal(t, "discord:stranger", entries[0].Metadata)
}

func TestService_StatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Service, uint) error
		action  func(*Service, uint) error
		wantErr error
	}{
		{
			name:   "pending to active",
			action: (*Service).ActivateUser,
		},
		{
			name: "active to suspended and back",
			setup: func(s *Service, id uint) error {
				return s.ActivateUser(id)
			},
			action: func(s *Service, id uint) error {
				if err := s.SuspendUser(id); err != nil {
					return err
				}
				return s.ActivateUser(id)
			},
		},
		{
			name: "banned is terminal",
			setup: func(s *Service, id uint) error {
				return s.BanUser(id)
			},
			action:  (*Service).ActivateUser,
			wantErr: ErrBadTransition,
		},
		{
			name:    "pending cannot be suspended",
			action:  (*Service).SuspendUser,
			wantErr: ErrBadTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			user := mustCreateUser(t, svc, "discord:3000")

			if tt.setup != nil {
				require.NoError(t, tt.setup(svc, user.ID))
			}

			err := tt.action(svc, user.ID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}
