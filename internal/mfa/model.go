package mfa

import "time"

// Method types. At most one method row exists per (user, type).
const (
	MethodTOTP         = "totp"
	MethodPasskey      = "passkey"
	MethodEmail        = "email"
	MethodChatApproval = "chat_approval"
)

// Verification code types.
const (
	CodeTypeEmail       = "email_verification"
	CodeTypeDeviceSetup = "mfa_device_verification"
)

// Method is a registered MFA method. The payload is always encrypted at
// rest. Methods are deactivated, never deleted.
type Method struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     uint   `gorm:"uniqueIndex:idx_mfa_methods_user_type;not null"`
	MethodType string `gorm:"uniqueIndex:idx_mfa_methods_user_type;not null;column:method_type"`
	Payload    []byte
	IsPrimary  bool `gorm:"not null;default:false"`
	IsActive   bool `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Method) TableName() string {
	return "mfa_methods"
}

// TOTPPayload is the JSON stored (encrypted) for a TOTP method.
type TOTPPayload struct {
	Secret    string `json:"secret"`
	Algorithm string `json:"algorithm"`
	Digits    int    `json:"digits"`
	Period    uint   `json:"period"`
}

// BackupCode is a single-use recovery credential. Generating a new batch
// removes every prior code for the user, used or not.
type BackupCode struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index;not null"`
	CodeHash  string `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (BackupCode) TableName() string {
	return "backup_codes"
}

// TrustedDevice marks a device fingerprint the user chose to trust. Expired
// rows are inert but may persist until swept.
type TrustedDevice struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"uniqueIndex:idx_trusted_devices_user_fingerprint;not null"`
	Fingerprint string `gorm:"uniqueIndex:idx_trusted_devices_user_fingerprint;not null"`
	Label       string
	ExpiresAt   time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (TrustedDevice) TableName() string {
	return "trusted_devices"
}

// VerificationCode is a short-lived out-of-band code addressed either to an
// existing user or to a raw external identity during linking.
type VerificationCode struct {
	ID         uint `gorm:"primaryKey"`
	UserID     *uint
	ExternalID string
	CodeHash   string `gorm:"not null"`
	CodeType   string `gorm:"not null"`
	Attempts   int    `gorm:"not null;default:0"`
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

func (VerificationCode) TableName() string {
	return "verification_codes"
}
