package ratelimit

import "time"

// Window is a sliding-window counter keyed by (identifier, action). A row is
// replaced, not incremented, once its window has elapsed.
type Window struct {
	ID          uint   `gorm:"primaryKey"`
	Identifier  string `gorm:"uniqueIndex:idx_rate_limit_windows_identifier_action;not null"`
	Action      string `gorm:"uniqueIndex:idx_rate_limit_windows_identifier_action;not null"`
	Count       int    `gorm:"not null"`
	WindowStart time.Time
}

func (Window) TableName() string {
	return "rate_limit_windows"
}
