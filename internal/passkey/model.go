package passkey

import "time"

// Ceremony types reported by the client.
const (
	CeremonyCreate = "webauthn.create"
	CeremonyGet    = "webauthn.get"
)

// Credential is a registered passkey. The public key blob is encrypted at
// rest; the signature counter is monotonically non-decreasing across
// verified authentications.
type Credential struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       uint   `gorm:"index;not null"`
	CredentialID string `gorm:"uniqueIndex;not null"`
	PublicKey    []byte `gorm:"not null"`
	SignCount    uint32 `gorm:"not null;default:0"`
	DeviceLabel  string
	LastUsedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Credential) TableName() string {
	return "passkey_credentials"
}

// Challenge is a short-lived random value issued at the start of a ceremony,
// keyed to (user, ceremony) and cleared on completion.
type Challenge struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"uniqueIndex:idx_passkey_challenges_user_ceremony;not null"`
	Challenge string `gorm:"not null"`
	Ceremony  string `gorm:"uniqueIndex:idx_passkey_challenges_user_ceremony;not null"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (Challenge) TableName() string {
	return "passkey_challenges"
}

// RegistrationParams are returned by BeginRegistration for the client to
// feed into the authenticator.
type RegistrationParams struct {
	Challenge            string   `json:"challenge"`
	RelyingPartyID       string   `json:"rp_id"`
	ExcludeCredentialIDs []string `json:"exclude_credential_ids"`
}

// AuthenticationParams are returned by BeginAuthentication.
type AuthenticationParams struct {
	Challenge          string   `json:"challenge"`
	RelyingPartyID     string   `json:"rp_id"`
	AllowCredentialIDs []string `json:"allow_credential_ids"`
}

// CeremonyResponse is the client-reported result of either ceremony.
type CeremonyResponse struct {
	CredentialID string `json:"credential_id"`
	Challenge    string `json:"challenge"`
	Origin       string `json:"origin"`
	CeremonyType string `json:"ceremony_type"`
	PublicKey    []byte `json:"public_key,omitempty"`
	SignCount    uint32 `json:"sign_count,omitempty"`
	DeviceLabel  string `json:"device_label,omitempty"`
}
