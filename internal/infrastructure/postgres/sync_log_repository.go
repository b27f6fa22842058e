package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"finlink/internal/domain/account"
)

// SyncLogRepository implements the account.SyncLogRepository interface for PostgreSQL
type SyncLogRepository struct {
	db *DB
}

var _ account.SyncLogRepository = (*SyncLogRepository)(nil)

// NewSyncLogRepository creates a new PostgreSQL sync log repository
func NewSyncLogRepository(db *DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// Create records the start of a sync attempt
func (r *SyncLogRepository) Create(ctx context.Context, entry *account.SyncLog) (*account.SyncLog, error) {
	query := `
		INSERT INTO sync_logs (id, account_id, sync_type, status, records_imported, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, account_id, sync_type, status, records_imported, error_message, synced_at
	`

	log, err := scanSyncLog(r.db.QueryRowContext(ctx, query,
		entry.ID, entry.AccountID, entry.SyncType, entry.Status, entry.RecordsImported, entry.SyncedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create sync log: %w", err)
	}
	return log, nil
}

// Finalize records the outcome of a sync attempt
func (r *SyncLogRepository) Finalize(ctx context.Context, id string, status account.SyncStatus, recordsImported int, errorMessage string) error {
	query := `
		UPDATE sync_logs
		SET status = $2, records_imported = $3, error_message = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, status, recordsImported, nullString(errorMessage))
	if err != nil {
		return fmt.Errorf("failed to finalize sync log: %w", err)
	}
	return requireRow(result, sql.ErrNoRows)
}

// ListByAccountID returns the most recent sync attempts for an account
func (r *SyncLogRepository) ListByAccountID(ctx context.Context, accountID string, limit int) ([]*account.SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, account_id, sync_type, status, records_imported, error_message, synced_at
		FROM sync_logs
		WHERE account_id = $1
		ORDER BY synced_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*account.SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync logs: %w", err)
	}
	return logs, nil
}

func scanSyncLog(row rowScanner) (*account.SyncLog, error) {
	var log account.SyncLog
	var errorMessage sql.NullString

	err := row.Scan(&log.ID, &log.AccountID, &log.SyncType, &log.Status,
		&log.RecordsImported, &errorMessage, &log.SyncedAt)
	if err != nil {
		return nil, err
	}

	if errorMessage.Valid {
		log.ErrorMessage = errorMessage.String
	}
	return &log, nil
}
