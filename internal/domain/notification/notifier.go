// Package notification defines the realtime update contract. The notifier is
// optional; when unconfigured a no-op implementation is wired in so callers
// never need nil checks.
package notification

import "context"

// Notifier pushes realtime update events to a user's connected clients.
// Implementations must not propagate failures into callers.
type Notifier interface {
	NotifyTransactionUpdate(ctx context.Context, userID int64, transactionID string)
	BroadcastToUser(ctx context.Context, topic string, userID int64, payload map[string]string)
}

// Topics broadcast by the aggregation core.
const (
	TopicConsentUpdate = "consent.update"
	TopicSyncUpdate    = "sync.update"
)

// Noop is the default Notifier when no push transport is configured.
type Noop struct{}

func (Noop) NotifyTransactionUpdate(ctx context.Context, userID int64, transactionID string) {}

func (Noop) BroadcastToUser(ctx context.Context, topic string, userID int64, payload map[string]string) {
}
