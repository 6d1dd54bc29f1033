package passkey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/audit"
	"github.com/knoxlock/authcore/internal/config"
	"github.com/knoxlock/authcore/internal/crypto"
)

const testOrigin = "https://auth.example.com"

func newTestEngine(t *testing.T) *crypto.Engine {
	engine, err := crypto.NewEngine(&config.CryptoConfig{
		MasterKey:     "3f9c2a1d5e8b4c7a9d0f1e2b3c4d5e6f3f9c2a1d5e8b4c7a9d0f1e2b3c4d5e6f",
		KDFIterations: 1000,
		ArgonTime:     1,
		ArgonMemory:   8 * 1024,
		ArgonThreads:  1,
	})
	require.NoError(t, err)
	return engine
}

func newTestService(t *testing.T) (*Service, *audit.MockRepository) {
	zl, err := zap.NewDevelopment()
	require.NoError(t, err)

	auditRepo := audit.NewMockRepository()
	svc := NewService(
		&config.PasskeyConfig{
			RelyingPartyID: "auth.example.com",
			ExpectedOrigin: testOrigin,
			DevOrigin:      "http://localhost:5173",
			AllowDevOrigin: true,
			ChallengeTTL:   5 * time.Minute,
		},
		zl,
		newMockRepository(),
		newTestEngine(t),
		audit.NewLogger(zl, auditRepo),
	)
	return svc, auditRepo
}

func registerCredential(t *testing.T, svc *Service, userID uint, credentialID string) {
	params, err := svc.BeginRegistration(userID)
	require.NoError(t, err)

	err = svc.CompleteRegistration(userID, &CeremonyResponse{
		CredentialID: credentialID,
		Challenge:    params.Challenge,
		Origin:       testOrigin,
		CeremonyType: CeremonyCreate,
		PublicKey:    []byte("public-key-material"),
		DeviceLabel:  "yubikey",
	})
	require.NoError(t, err)
}

func TestService_RegistrationCeremony(t *testing.T) {
	svc, _ := newTestService(t)

	params, err := svc.BeginRegistration(1)
	require.NoError(t, err)
	assert.NotEmpty(t, params.Challenge)
	assert.Equal(t, "auth.example.com", params.RelyingPartyID)
	assert.Empty(t, params.ExcludeCredentialIDs)

	registerCredential(t, svc, 1, "cred-1")

	// The second registration excludes the first credential.
	params, err = svc.BeginRegistration(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"cred-1"}, params.ExcludeCredentialIDs)
}

func TestService_CompleteRegistration_FailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CeremonyResponse)
		wantErr error
	}{
		{
			name:    "challenge mismatch",
			mutate:  func(r *CeremonyResponse) { r.Challenge = "forged-challenge" },
			wantErr: ErrChallengeMismatch,
		},
		{
			name:    "origin mismatch",
			mutate:  func(r *CeremonyResponse) { r.Origin = "https://evil.example.com" },
			wantErr: ErrOriginMismatch,
		},
		{
			name:    "wrong ceremony type",
			mutate:  func(r *CeremonyResponse) { r.CeremonyType = CeremonyGet },
			wantErr: ErrInvalidCeremonyType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)

			params, err := svc.BeginRegistration(1)
			require.NoError(t, err)

			response := &CeremonyResponse{
				CredentialID: "cred-x",
				Challenge:    params.Challenge,
				Origin:       testOrigin,
				CeremonyType: CeremonyCreate,
				PublicKey:    []byte("key"),
			}
			tt.mutate(response)

			assert.ErrorIs(t, svc.CompleteRegistration(1, response), tt.wantErr)

			// Nothing was persisted.
			credentials, err := svc.ListCredentials(1)
			require.NoError(t, err)
			assert.Empty(t, credentials)
		})
	}
}

func TestService_CompleteRegistration_DevOriginBypass(t *testing.T) {
	svc, _ := newTestService(t)

	params, err := svc.BeginRegistration(1)
	require.NoError(t, err)

	err = svc.CompleteRegistration(1, &CeremonyResponse{
		CredentialID: "cred-dev",
		Challenge:    params.Challenge,
		Origin:       "http://localhost:5173",
		CeremonyType: CeremonyCreate,
		PublicKey:    []byte("key"),
	})
	assert.NoError(t, err)
}

func TestService_CompleteRegistration_ChallengeExpired(t *testing.T) {
	svc, _ := newTestService(t)

	current := time.Now()
	svc.now = func() time.Time { return current }

	params, err := svc.BeginRegistration(1)
	require.NoError(t, err)

	current = current.Add(6 * time.Minute)
	err = svc.CompleteRegistration(1, &CeremonyResponse{
		CredentialID: "cred-late",
		Challenge:    params.Challenge,
		Origin:       testOrigin,
		CeremonyType: CeremonyCreate,
		PublicKey:    []byte("key"),
	})
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestService_BeginAuthentication_RequiresCredential(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.BeginAuthentication(1)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestService_AuthenticationCeremony(t *testing.T) {
	svc, _ := newTestService(t)
	registerCredential(t, svc, 1, "cred-1")

	params, err := svc.BeginAuthentication(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"cred-1"}, params.AllowCredentialIDs)

	err = svc.CompleteAuthentication(1, &CeremonyResponse{
		CredentialID: "cred-1",
		Challenge:    params.Challenge,
		Origin:       testOrigin,
		CeremonyType: CeremonyGet,
		SignCount:    1,
	})
	require.NoError(t, err)

	credentials, err := svc.ListCredentials(1)
	require.NoError(t, err)
	require.Len(t, credentials, 1)
	assert.Equal(t, uint32(1), credentials[0].SignCount)

	// The challenge is single-use: replaying the same response fails.
	err = svc.CompleteAuthentication(1, &CeremonyResponse{
		CredentialID: "cred-1",
		Challenge:    params.Challenge,
		Origin:       testOrigin,
		CeremonyType: CeremonyGet,
		SignCount:    2,
	})
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestService_CounterReplay(t *testing.T) {
	svc, auditRepo := newTestService(t)
	registerCredential(t, svc, 1, "cred-1")

	authenticate := func(signCount uint32) error {
		params, err := svc.BeginAuthentication(1)
		require.NoError(t, err)
		return svc.CompleteAuthentication(1, &CeremonyResponse{
			CredentialID: "cred-1",
			Challenge:    params.Challenge,
			Origin:       testOrigin,
			CeremonyType: CeremonyGet,
			SignCount:    signCount,
		})
	}

	require.NoError(t, authenticate(5))

	// A non-increasing counter is logged, not rejected, and the stored
	// counter does not move.
	require.NoError(t, authenticate(5))
	require.NoError(t, authenticate(3))

	credentials, err := svc.ListCredentials(1)
	require.NoError(t, err)
	require.Len(t, credentials, 1)
	assert.Equal(t, uint32(5), credentials[0].SignCount)

	var warnings int
	for _, e := range auditRepo.Entries() {
		if e.EventType == audit.EventPasskeyCloneWarn {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)

	// The counter resumes advancing once it increases again.
	require.NoError(t, authenticate(6))
	credentials, err = svc.ListCredentials(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), credentials[0].SignCount)
}

func TestService_CompleteAuthentication_ForgedChallenge(t *testing.T) {
	svc, _ := newTestService(t)
	registerCredential(t, svc, 1, "cred-1")

	_, err := svc.BeginAuthentication(1)
	require.NoError(t, err)

	// Valid counter, wrong challenge: rejected with the specific error.
	err = svc.CompleteAuthentication(1, &CeremonyResponse{
		CredentialID: "cred-1",
		Challenge:    "forged",
		Origin:       testOrigin,
		CeremonyType: CeremonyGet,
		SignCount:    10,
	})
	assert.ErrorIs(t, err, ErrChallengeMismatch)

	credentials, err := svc.ListCredentials(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), credentials[0].SignCount)
}

func TestService_CompleteAuthentication_WrongUser(t *testing.T) {
	svc, _ := newTestService(t)
	registerCredential(t, svc, 1, "cred-1")
	registerCredential(t, svc, 2, "cred-2")

	params, err := svc.BeginAuthentication(2)
	require.NoError(t, err)

	err = svc.CompleteAuthentication(2, &CeremonyResponse{
		CredentialID: "cred-1",
		Challenge:    params.Challenge,
		Origin:       testOrigin,
		CeremonyType: CeremonyGet,
		SignCount:    1,
	})
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestService_RemoveCredential(t *testing.T) {
	svc, _ := newTestService(t)
	registerCredential(t, svc, 1, "cred-1")

	require.NoError(t, svc.RemoveCredential(1, "cred-1"))
	assert.ErrorIs(t, svc.RemoveCredential(1, "cred-1"), ErrCredentialNotFound)

	_, err := svc.BeginAuthentication(1)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestService_DuplicateCredentialID(t *testing.T) {
	svc, _ := newTestService(t)
	registerCredential(t, svc, 1, "cred-1")

	params, err := svc.BeginRegistration(2)
	require.NoError(t, err)

	err = svc.CompleteRegistration(2, &CeremonyResponse{
		CredentialID: "cred-1",
		Challenge:    params.Challenge,
		Origin:       testOrigin,
		CeremonyType: CeremonyCreate,
		PublicKey:    []byte("key"),
	})
	assert.ErrorIs(t, err, ErrCredentialExists)
}
