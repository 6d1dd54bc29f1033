package audit

import (
	"go.uber.org/zap"
)

// Logger records security events to the append-only trail. Recording never
// fails the caller's operation: a write error is logged and swallowed, since
// refusing a login because the audit insert failed would turn an
// observability problem into an availability one.
type Logger struct {
	log        *zap.Logger
	repository Repository
}

func NewLogger(log *zap.Logger, repo Repository) *Logger {
	return &Logger{
		log:        log,
		repository: repo,
	}
}

// Record appends one entry to the trail.
func (l *Logger) Record(entry Entry) {
	if err := l.repository.Create(&entry); err != nil {
		l.log.Error("failed to write security log entry",
			zap.String("event_type", entry.EventType),
			zap.Error(err))
		return
	}

	l.log.Debug("security event",
		zap.String("event_type", entry.EventType),
		zap.Bool("success", entry.Success))
}

// Success is a convenience for successful events.
func (l *Logger) Success(eventType string, userID *uint, ip, device string) {
	l.Record(Entry{
		UserID:     userID,
		EventType:  eventType,
		Success:    true,
		IPAddress:  ip,
		DeviceInfo: device,
	})
}

// Failure is a convenience for failed events with a reason.
func (l *Logger) Failure(eventType string, userID *uint, ip, device, reason string) {
	l.Record(Entry{
		UserID:        userID,
		EventType:     eventType,
		Success:       false,
		IPAddress:     ip,
		DeviceInfo:    device,
		FailureReason: reason,
	})
}

// List exposes the paginated export used by external reporting tooling.
func (l *Logger) List(filter Filter) ([]Entry, int64, error) {
	return l.repository.List(filter)
}
