package audit

import "time"

// Event types for every security-relevant action in the core.
const (
	EventUserCreated       = "user_created"
	EventUserStatusChanged = "user_status_changed"
	EventLoginAttempt      = "login_attempt"
	EventAccountLocked     = "account_locked"
	EventRateLimited       = "rate_limited"
	EventTOTPSetup         = "totp_setup"
	EventTOTPVerify        = "totp_verify"
	EventBackupCodesIssued = "backup_codes_issued"
	EventBackupCodeUsed    = "backup_code_used"
	EventDeviceTrusted     = "device_trusted"
	EventMethodDeactivated = "mfa_method_deactivated"
	EventVerificationCode  = "verification_code"
	EventPasskeyRegistered = "passkey_registered"
	EventPasskeyAuth       = "passkey_auth"
	EventPasskeyCloneWarn  = "passkey_counter_anomaly"
	EventPasskeyRemoved    = "passkey_removed"
	EventApprovalRequested = "approval_requested"
	EventApprovalApproved  = "approval_approved"
	EventApprovalDenied    = "approval_denied"
	EventApprovalExpired   = "approval_expired"
	EventApprovalCodeUsed  = "approval_code_used"
	EventSessionIssued     = "session_issued"
	EventSessionRevoked    = "session_revoked"
)

// Entry is an append-only security log record. Rows are never updated or
// deleted by normal operation.
type Entry struct {
	ID            uint   `gorm:"primaryKey"`
	UserID        *uint  `gorm:"index"`
	EventType     string `gorm:"index;not null"`
	Success       bool   `gorm:"not null"`
	IPAddress     string
	DeviceInfo    string
	FailureReason string
	Metadata      string
	CreatedAt     time.Time `gorm:"index"`
}

func (Entry) TableName() string {
	return "security_log_entries"
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	UserID    *uint
	EventType string
	Page      int
	PageSize  int
}
