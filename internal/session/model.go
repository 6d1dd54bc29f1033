package session

import "time"

// Session is a server-side login session. Only the HMAC hash of the session
// token is stored; the refresh token is kept encrypted at rest.
type Session struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         uint   `gorm:"index;not null"`
	TokenHash      string `gorm:"uniqueIndex;not null"`
	RefreshToken   []byte
	Fingerprint    string
	ExpiresAt      time.Time `gorm:"not null"`
	LastActivityAt time.Time `gorm:"not null"`
	RevokedAt      *time.Time
	CreatedAt      time.Time
}

func (Session) TableName() string {
	return "sessions"
}

// Issued is everything handed to the client at login. The session and
// refresh tokens appear in plaintext only here.
type Issued struct {
	SessionToken string    `json:"session_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}
