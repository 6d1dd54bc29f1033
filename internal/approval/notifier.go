package approval

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers the approval prompt to the user out of band (chat
// message, push, etc). delivered reports whether the prompt reached a
// channel; a message reference for later edits may be returned alongside.
//
// Delivery runs outside any database transaction: a slow or failing
// transport must never hold row locks, and a request whose prompt was lost
// simply expires on its own.
type Notifier interface {
	DeliverApprovalPrompt(ctx context.Context, externalID, requestID string, reqCtx RequestContext) (delivered bool, messageRef string, err error)
}

// logNotifier is the default transport: it logs the prompt and drops it.
// Deployments plug in a real chat integration via fx.Replace.
type logNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log}
}

func (n *logNotifier) DeliverApprovalPrompt(_ context.Context, externalID, requestID string, reqCtx RequestContext) (bool, string, error) {
	n.log.Info("approval prompt (no transport configured)",
		zap.String("external_id", externalID),
		zap.String("request_id", requestID),
		zap.String("ip_address", reqCtx.IPAddress),
		zap.String("device_info", reqCtx.DeviceInfo))
	return false, "", nil
}
