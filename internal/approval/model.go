package approval

import "time"

// Status of an approval request. pending is the only non-terminal state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Request is one out-of-band approval of a login attempt. The request id is
// opaque and unguessable; the one-time code hash is present iff the request
// was approved and its code has not been consumed yet.
type Request struct {
	ID          uint   `gorm:"primaryKey"`
	RequestID   string `gorm:"uniqueIndex;not null"`
	ExternalID  string `gorm:"not null"`
	UserID      *uint
	IPAddress   string
	DeviceInfo  string
	Status      Status `gorm:"index:idx_mfa_approval_requests_status;not null;default:pending"`
	CodeHash    string
	MessageRef  string
	ExpiresAt   time.Time `gorm:"index:idx_mfa_approval_requests_status"`
	RespondedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Request) TableName() string {
	return "mfa_approval_requests"
}

// RequestContext is the requester's device/network context, recorded for
// display to the approver.
type RequestContext struct {
	IPAddress  string `json:"ip_address"`
	DeviceInfo string `json:"device_info"`
}
