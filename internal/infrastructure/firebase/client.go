package firebase

import (
	"context"
	"fmt"
	"log"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"finlink/internal/domain/notification"
)

const fcmBatchLimit = 500

// TokenProvider resolves the active FCM device tokens for a user. Provided by
// the caller to avoid coupling to the device registry.
type TokenProvider func(ctx context.Context, userID int64) ([]string, error)

// TokenDeactivator is called to mark an invalid FCM token as inactive.
// Provided by the caller (e.g. service layer) to avoid coupling to the repository.
type TokenDeactivator func(ctx context.Context, token string) error

// Notifier implements notification.Notifier using Firebase Cloud Messaging.
// All sends are data-only (no OS notification) and all failures are logged,
// never returned: a push outage must not affect the sync pipeline.
type Notifier struct {
	msgClient   *messaging.Client
	provider    TokenProvider
	deactivator TokenDeactivator
}

var _ notification.Notifier = (*Notifier)(nil)

// NewNotifier initializes a Firebase app and returns an FCM-backed notifier.
// deactivator is called when an invalid/unregistered token is detected; may be nil.
func NewNotifier(ctx context.Context, credentialsFile string, provider TokenProvider, deactivator TokenDeactivator) (*Notifier, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}

	return &Notifier{msgClient: msgClient, provider: provider, deactivator: deactivator}, nil
}

// NotifyTransactionUpdate pushes a silent per-transaction event so connected
// clients can reload.
func (n *Notifier) NotifyTransactionUpdate(ctx context.Context, userID int64, transactionID string) {
	n.BroadcastToUser(ctx, notification.TopicSyncUpdate, userID, map[string]string{
		"transactionId": transactionID,
	})
}

// BroadcastToUser sends a data-only message to every active device of a user.
func (n *Notifier) BroadcastToUser(ctx context.Context, topic string, userID int64, payload map[string]string) {
	tokens, err := n.provider(ctx, userID)
	if err != nil {
		log.Printf("FCM: failed to resolve tokens for user %d: %v", userID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	data := make(map[string]string, len(payload)+2)
	for k, v := range payload {
		data[k] = v
	}
	data["topic"] = topic
	data["userId"] = strconv.FormatInt(userID, 10)

	if err := n.sendDataOnly(ctx, tokens, data); err != nil {
		log.Printf("FCM: broadcast %s to user %d failed: %v", topic, userID, err)
	}
}

// sendDataOnly sends a data-only message (no OS notification) to multiple tokens.
// Automatically batches into chunks of 500 (Firebase API limit).
func (n *Notifier) sendDataOnly(ctx context.Context, tokens []string, data map[string]string) error {
	var totalSuccess, totalFailure int
	for _, batch := range chunkTokens(tokens, fcmBatchLimit) {
		msg := &messaging.MulticastMessage{
			Tokens: batch,
			Data:   data,
		}

		resp, err := n.msgClient.SendEachForMulticast(ctx, msg)
		if err != nil {
			return fmt.Errorf("failed to send FCM data-only multicast: %w", err)
		}

		totalSuccess += resp.SuccessCount
		totalFailure += resp.FailureCount
		if resp.FailureCount > 0 {
			n.handleMulticastFailures(ctx, batch, resp)
		}
	}

	log.Printf("FCM data-only multicast: %d success, %d failure", totalSuccess, totalFailure)
	return nil
}

func (n *Notifier) handleMulticastFailures(ctx context.Context, tokens []string, resp *messaging.BatchResponse) {
	for i, sendResp := range resp.Responses {
		if sendResp.Error == nil {
			continue
		}
		if messaging.IsUnregistered(sendResp.Error) || messaging.IsInvalidArgument(sendResp.Error) {
			log.Printf("Invalid FCM token at index %d (deactivating token=%s): %v", i, tokens[i], sendResp.Error)
			n.deactivateToken(ctx, tokens[i])
		} else {
			log.Printf("FCM send error at index %d: %v", i, sendResp.Error)
		}
	}
}

func (n *Notifier) deactivateToken(ctx context.Context, token string) {
	if n.deactivator == nil {
		return
	}
	if err := n.deactivator(ctx, token); err != nil {
		log.Printf("Failed to deactivate FCM token %s: %v", token, err)
	}
}

func chunkTokens(tokens []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(tokens); i += size {
		end := i + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[i:end])
	}
	return chunks
}
