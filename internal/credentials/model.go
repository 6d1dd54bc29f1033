package credentials

import "time"

// Status of a user account. Transitions are one-way except that suspended
// accounts may be reactivated.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusBanned    Status = "banned"
)

type User struct {
	ID               uint   `gorm:"primaryKey"`
	ExternalID       string `gorm:"uniqueIndex;not null"`
	DisplayName      string
	Status           Status `gorm:"not null;default:pending"`
	Role             string `gorm:"not null;default:member"`
	MFAEnabled       bool   `gorm:"not null;default:false"`
	FailedLoginCount int    `gorm:"not null;default:0"`
	LockedUntil      *time.Time
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (User) TableName() string {
	return "users"
}

// Locked reports whether the account is currently locked out.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// RequestContext carries the network/device context of an attempt, recorded
// in the audit trail and shown to approvers.
type RequestContext struct {
	IPAddress  string
	DeviceInfo string
}
