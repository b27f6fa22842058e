package account

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UpsertParams carries the remote account fields refreshed on every
// discovery call. Keyed by (InstitutionID, ExternalAccountID).
type UpsertParams struct {
	ID                string
	UserID            int64
	ConsentID         string
	InstitutionID     string
	ExternalAccountID string
	AccountType       string
	AccountNumber     string
	BranchCode        string
	HolderName        string
	Currency          string
	Balance           decimal.Decimal
}

// Repository persists connected accounts.
type Repository interface {
	// Upsert creates the account in PENDING sync status, or refreshes the
	// mutable fields of the existing row for the same
	// (institution, external account id). Returns the resulting row and
	// whether it was newly created.
	Upsert(ctx context.Context, params UpsertParams) (*ConnectedAccount, bool, error)

	GetByID(ctx context.Context, id string) (*ConnectedAccount, error)
	ListByUserID(ctx context.Context, userID int64) ([]*ConnectedAccount, error)
	ListByConsentID(ctx context.Context, consentID string) ([]*ConnectedAccount, error)

	// ListDueForSync returns syncable accounts whose last successful sync is
	// older than the interval (or that have never synced).
	ListDueForSync(ctx context.Context, olderThan time.Time) ([]*ConnectedAccount, error)

	UpdateSyncStatus(ctx context.Context, id string, status SyncStatus) error

	// MarkSynced sets SUCCESS and stamps lastSyncedAt in one write.
	MarkSynced(ctx context.Context, id string, syncedAt time.Time) error
}

// SyncLogRepository persists sync attempts. Rows are append-only: Finalize
// is called at most once, by the attempt that created the row.
type SyncLogRepository interface {
	Create(ctx context.Context, log *SyncLog) (*SyncLog, error)
	Finalize(ctx context.Context, id string, status SyncStatus, recordsImported int, errorMessage string) error
	ListByAccountID(ctx context.Context, accountID string, limit int) ([]*SyncLog, error)
}
