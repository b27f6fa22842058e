// Package account holds the connected-account domain: one remote bank
// account reachable under a consent, plus its append-only sync log.
package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus is the synchronization state of a connected account.
type SyncStatus string

const (
	SyncPending  SyncStatus = "PENDING"
	SyncSyncing  SyncStatus = "SYNCING"
	SyncSuccess  SyncStatus = "SUCCESS"
	SyncFailed   SyncStatus = "FAILED"
	SyncDisabled SyncStatus = "DISABLED"
)

// Domain errors
var (
	ErrAccountNotFound = errors.New("connected account not found")
	ErrAccountDisabled = errors.New("connected account is disabled")
	ErrForbidden       = errors.New("account does not belong to the requesting user")
)

// ConnectedAccount is one remote account discovered under a consent.
// Uniqueness is on (institution, external account id); accounts are retired
// by setting DISABLED, never deleted.
type ConnectedAccount struct {
	ID                string          `json:"id"`
	UserID            int64           `json:"userId"`
	ConsentID         string          `json:"consentId"`
	InstitutionID     string          `json:"institutionId"`
	ExternalAccountID string          `json:"externalAccountId"`
	AccountType       string          `json:"accountType"`
	AccountNumber     string          `json:"accountNumber"`
	BranchCode        string          `json:"branchCode"`
	HolderName        string          `json:"holderName"`
	Currency          string          `json:"currency"`
	Balance           decimal.Decimal `json:"balance"`
	LastSyncedAt      *time.Time      `json:"lastSyncedAt,omitempty"`
	SyncStatus        SyncStatus      `json:"syncStatus"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Syncable reports whether the account may be synchronized.
func (a *ConnectedAccount) Syncable() bool {
	return a.SyncStatus != SyncDisabled
}

// SyncLog is one append-only record per synchronization attempt. It is
// written in SYNCING state before any remote call and finalized exactly once
// by the attempt that created it.
type SyncLog struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"accountId"`
	SyncType        string     `json:"syncType"`
	Status          SyncStatus `json:"status"`
	RecordsImported int        `json:"recordsImported"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	SyncedAt        time.Time  `json:"syncedAt"`
}

// Sync types recorded in the log.
const (
	SyncTypeTransactions = "TRANSACTIONS"
	SyncTypeScheduled    = "SCHEDULED"
	SyncTypeManual       = "MANUAL"
)
