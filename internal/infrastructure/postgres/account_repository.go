package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"finlink/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

var _ account.Repository = (*AccountRepository)(nil)

// NewAccountRepository creates a new PostgreSQL connected-account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, user_id, consent_id, institution_id, external_account_id,
       account_type, account_number, branch_code, holder_name, currency, balance,
       last_synced_at, sync_status, created_at, updated_at`

// Upsert inserts or refreshes an account keyed by (institution, external id).
// The second return value reports whether a new row was created.
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.ConnectedAccount, bool, error) {
	query := `
		INSERT INTO connected_accounts (
			id, user_id, consent_id, institution_id, external_account_id,
			account_type, account_number, branch_code, holder_name, currency, balance, sync_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (institution_id, external_account_id) DO UPDATE SET
			consent_id = EXCLUDED.consent_id,
			account_type = EXCLUDED.account_type,
			account_number = EXCLUDED.account_number,
			branch_code = EXCLUDED.branch_code,
			holder_name = EXCLUDED.holder_name,
			currency = EXCLUDED.currency,
			balance = EXCLUDED.balance,
			updated_at = NOW()
		RETURNING ` + accountColumns + `, (xmax = 0) AS inserted`

	var acc account.ConnectedAccount
	var lastSyncedAt sql.NullTime
	var accountNumber, branchCode, holderName sql.NullString
	var inserted bool

	err := r.db.QueryRowContext(ctx, query,
		params.ID, params.UserID, params.ConsentID, params.InstitutionID, params.ExternalAccountID,
		params.AccountType, nullString(params.AccountNumber), nullString(params.BranchCode),
		nullString(params.HolderName), params.Currency, params.Balance, account.SyncPending,
	).Scan(
		&acc.ID, &acc.UserID, &acc.ConsentID, &acc.InstitutionID, &acc.ExternalAccountID,
		&acc.AccountType, &accountNumber, &branchCode, &holderName, &acc.Currency, &acc.Balance,
		&lastSyncedAt, &acc.SyncStatus, &acc.CreatedAt, &acc.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}

	applyAccountNulls(&acc, accountNumber, branchCode, holderName, lastSyncedAt)
	return &acc, inserted, nil
}

// GetByID retrieves a connected account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM connected_accounts WHERE id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// ListByUserID retrieves all connected accounts for a user
func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*account.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM connected_accounts WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// ListByConsentID retrieves the accounts connected under one consent
func (r *AccountRepository) ListByConsentID(ctx context.Context, consentID string) ([]*account.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM connected_accounts WHERE consent_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, consentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by consent: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// ListDueForSync returns syncable accounts never synced or last synced before
// olderThan. Accounts stuck in SYNCING are excluded so concurrent sweeps do
// not double-sync.
func (r *AccountRepository) ListDueForSync(ctx context.Context, olderThan time.Time) ([]*account.ConnectedAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM connected_accounts
		WHERE sync_status NOT IN ($1, $2)
		  AND (last_synced_at IS NULL OR last_synced_at < $3)
		ORDER BY last_synced_at ASC NULLS FIRST
	`

	rows, err := r.db.QueryContext(ctx, query, account.SyncDisabled, account.SyncSyncing, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts due for sync: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// UpdateSyncStatus sets the account's sync status
func (r *AccountRepository) UpdateSyncStatus(ctx context.Context, id string, status account.SyncStatus) error {
	query := `UPDATE connected_accounts SET sync_status = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return requireRow(result, account.ErrAccountNotFound)
}

// MarkSynced records a successful sync and its timestamp
func (r *AccountRepository) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	query := `
		UPDATE connected_accounts
		SET sync_status = $2, last_synced_at = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, account.SyncSuccess, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to mark account synced: %w", err)
	}
	return requireRow(result, account.ErrAccountNotFound)
}

func scanAccount(row rowScanner) (*account.ConnectedAccount, error) {
	var acc account.ConnectedAccount
	var lastSyncedAt sql.NullTime
	var accountNumber, branchCode, holderName sql.NullString

	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.ConsentID, &acc.InstitutionID, &acc.ExternalAccountID,
		&acc.AccountType, &accountNumber, &branchCode, &holderName, &acc.Currency, &acc.Balance,
		&lastSyncedAt, &acc.SyncStatus, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	applyAccountNulls(&acc, accountNumber, branchCode, holderName, lastSyncedAt)
	return &acc, nil
}

func applyAccountNulls(acc *account.ConnectedAccount, accountNumber, branchCode, holderName sql.NullString, lastSyncedAt sql.NullTime) {
	if accountNumber.Valid {
		acc.AccountNumber = accountNumber.String
	}
	if branchCode.Valid {
		acc.BranchCode = branchCode.String
	}
	if holderName.Valid {
		acc.HolderName = holderName.String
	}
	if lastSyncedAt.Valid {
		acc.LastSyncedAt = &lastSyncedAt.Time
	}
}

func collectAccounts(rows *sql.Rows) ([]*account.ConnectedAccount, error) {
	var accounts []*account.ConnectedAccount
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
