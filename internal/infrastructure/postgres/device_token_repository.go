package postgres

import (
	"context"
	"fmt"
)

// DeviceTokenRepository stores the FCM device tokens that back realtime
// notifications.
type DeviceTokenRepository struct {
	db *DB
}

// NewDeviceTokenRepository creates a new PostgreSQL device token repository
func NewDeviceTokenRepository(db *DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// Register upserts a device token for a user and reactivates it
func (r *DeviceTokenRepository) Register(ctx context.Context, userID int64, token, deviceType string) error {
	query := `
		INSERT INTO fcm_device_tokens (user_id, token, device_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			device_type = EXCLUDED.device_type,
			is_active = true,
			last_used = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, userID, token, deviceType); err != nil {
		return fmt.Errorf("failed to register device token: %w", err)
	}
	return nil
}

// ListActiveTokens returns the active FCM tokens for a user
func (r *DeviceTokenRepository) ListActiveTokens(ctx context.Context, userID int64) ([]string, error) {
	query := `
		SELECT token
		FROM fcm_device_tokens
		WHERE user_id = $1 AND is_active = true
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device tokens: %w", err)
	}
	return tokens, nil
}

// Deactivate marks a token inactive after FCM rejects it
func (r *DeviceTokenRepository) Deactivate(ctx context.Context, token string) error {
	query := `UPDATE fcm_device_tokens SET is_active = false WHERE token = $1`

	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to deactivate device token: %w", err)
	}
	return nil
}
