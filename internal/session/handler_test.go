package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knoxlock/authcore/internal/approval"
	"github.com/knoxlock/authcore/internal/credentials"
)

type attemptRecord struct {
	success    bool
	userID     *uint
	externalID string
}

// fakeGate mirrors the credential service's login-path contract: identity
// lookup, lockout enforcement, attempt accounting.
type fakeGate struct {
	mu       sync.Mutex
	user     *credentials.User
	attempts []attemptRecord
}

func (g *fakeGate) GetUserByExternalID(externalID string) (*credentials.User, error) {
	if g.user == nil || g.user.ExternalID != externalID {
		return nil, credentials.ErrUserNotFound
	}
	clone := *g.user
	return &clone, nil
}

func (g *fakeGate) CheckLocked(userID uint) error {
	if g.user != nil && g.user.ID == userID && g.user.Locked(time.Now()) {
		return credentials.ErrAccountLocked
	}
	return nil
}

func (g *fakeGate) RecordLoginAttempt(success bool, userID *uint, externalID string, _ credentials.RequestContext) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts = append(g.attempts, attemptRecord{success: success, userID: userID, externalID: externalID})
	return nil
}

func (g *fakeGate) lastAttempt(t *testing.T) attemptRecord {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.attempts)
	return g.attempts[len(g.attempts)-1]
}

// fakeApprovals accepts exactly one request/code pair, once.
type fakeApprovals struct {
	requestID string
	code      string
	consumed  bool
}

func (a *fakeApprovals) VerifyCode(requestID, code string) error {
	if a.consumed || requestID != a.requestID || code != a.code {
		return approval.ErrCodeInvalid
	}
	a.consumed = true
	return nil
}

func newTestHandler(t *testing.T, user *credentials.User) (*Handler, *mockRepository, *fakeGate, *fakeApprovals) {
	t.Helper()
	svc, repo := newTestService(t)
	gate := &fakeGate{user: user}
	approvals := &fakeApprovals{requestID: "req-42.abc", code: "123456"}
	return NewHandler(svc, gate, approvals, zap.NewNop()), repo, gate, approvals
}

func issueRequest(t *testing.T, handler *Handler, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	router := chi.NewRouter()
	handler.Routes(router)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(payload))
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_IssueWithApprovedCode(t *testing.T) {
	handler, repo, gate, _ := newTestHandler(t, testUser())

	rec := issueRequest(t, handler, map[string]string{
		"external_id":         "chat-1001",
		"fingerprint":         "Firefox on Linux",
		"approval_request_id": "req-42.abc",
		"approval_code":       "123456",
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var issued Issued
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
	assert.NotEmpty(t, issued.SessionToken)
	assert.NotEmpty(t, issued.AccessToken)
	assert.Len(t, repo.sessions, 1)

	attempt := gate.lastAttempt(t)
	assert.True(t, attempt.success)
	require.NotNil(t, attempt.userID)
	assert.Equal(t, uint(7), *attempt.userID)
}

func TestHandler_IssueRejectsLockedAccount(t *testing.T) {
	user := testUser()
	user.FailedLoginCount = 5
	lockedUntil := time.Now().Add(10 * time.Minute)
	user.LockedUntil = &lockedUntil

	handler, repo, gate, approvals := newTestHandler(t, user)

	rec := issueRequest(t, handler, map[string]string{
		"external_id":         "chat-1001",
		"approval_request_id": "req-42.abc",
		"approval_code":       "123456",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, repo.sessions)
	assert.False(t, approvals.consumed)

	attempt := gate.lastAttempt(t)
	assert.False(t, attempt.success)
	require.NotNil(t, attempt.userID)
	assert.Equal(t, uint(7), *attempt.userID)
}

func TestHandler_IssueRejectsWrongApprovalCode(t *testing.T) {
	handler, repo, gate, _ := newTestHandler(t, testUser())

	rec := issueRequest(t, handler, map[string]string{
		"external_id":         "chat-1001",
		"approval_request_id": "req-42.abc",
		"approval_code":       "999999",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, repo.sessions)
	assert.False(t, gate.lastAttempt(t).success)
}

func TestHandler_IssueRequiresApprovalProof(t *testing.T) {
	handler, repo, gate, _ := newTestHandler(t, testUser())

	rec := issueRequest(t, handler, map[string]string{
		"external_id": "chat-1001",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, repo.sessions)

	gate.mu.Lock()
	defer gate.mu.Unlock()
	assert.Empty(t, gate.attempts)
}

func TestHandler_IssueRejectsUnknownIdentity(t *testing.T) {
	handler, repo, gate, _ := newTestHandler(t, testUser())

	rec := issueRequest(t, handler, map[string]string{
		"external_id":         "chat-9999",
		"approval_request_id": "req-42.abc",
		"approval_code":       "123456",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, repo.sessions)

	attempt := gate.lastAttempt(t)
	assert.False(t, attempt.success)
	assert.Nil(t, attempt.userID)
	assert.Equal(t, "chat-9999", attempt.externalID)
}
