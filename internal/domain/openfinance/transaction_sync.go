package openfinance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"finlink/internal/domain/account"
	"finlink/internal/domain/consent"
	instdomain "finlink/internal/domain/institution"
	"finlink/internal/domain/ledger"
	"finlink/internal/domain/notification"
	ofclient "finlink/internal/infrastructure/institution"
	"finlink/internal/shared/telemetry"
)

// placeholderDescription is used when the remote transaction carries no
// description.
const placeholderDescription = "Imported transaction"

// SyncResult is the status summary returned by every sync attempt. Batch
// callers inspect it instead of catching errors.
type SyncResult struct {
	AccountID       string             `json:"accountId"`
	Status          account.SyncStatus `json:"status"`
	RecordsImported int                `json:"recordsImported"`
	ErrorMessage    string             `json:"errorMessage,omitempty"`
	SyncedAt        time.Time          `json:"syncedAt"`
}

// Success reports whether the sync completed.
func (r *SyncResult) Success() bool {
	return r.Status == account.SyncSuccess
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	// PageSize is the number of transactions requested per remote page.
	PageSize int
	// DefaultLookback is the window used for an account that has never
	// synced.
	DefaultLookback time.Duration
	// SyncInterval is how stale an account's last sync may be before
	// SyncAllAccounts picks it up again.
	SyncInterval time.Duration
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.DefaultLookback <= 0 {
		c.DefaultLookback = 30 * 24 * time.Hour
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 6 * time.Hour
	}
	return c
}

// SyncEngine pulls transactions for connected accounts page by page,
// deduplicates against the ledger, and records an outcome per attempt.
type SyncEngine struct {
	accounts     account.Repository
	syncLogs     account.SyncLogRepository
	consents     *consent.Service
	institutions instdomain.Repository
	client       ofclient.ClientInterface
	ledger       ledger.Ledger
	notifier     notification.Notifier
	recorder     *telemetry.Recorder
	cfg          SyncConfig
}

// NewSyncEngine creates a transaction synchronization engine.
func NewSyncEngine(
	accounts account.Repository,
	syncLogs account.SyncLogRepository,
	consents *consent.Service,
	institutions instdomain.Repository,
	client ofclient.ClientInterface,
	ledgerRepo ledger.Ledger,
	notifier notification.Notifier,
	recorder *telemetry.Recorder,
	cfg SyncConfig,
) *SyncEngine {
	if notifier == nil {
		notifier = notification.Noop{}
	}
	return &SyncEngine{
		accounts:     accounts,
		syncLogs:     syncLogs,
		consents:     consents,
		institutions: institutions,
		client:       client,
		ledger:       ledgerRepo,
		notifier:     notifier,
		recorder:     recorder,
		cfg:          cfg.withDefaults(),
	}
}

// SyncTransactions synchronizes one account for the given window. A nil from
// defaults to the last successful sync (or the default lookback); a nil to
// defaults to now. Remote failures after the attempt has started are
// swallowed into the returned status; only a missing or non-syncable account
// is reported as an error.
func (s *SyncEngine) SyncTransactions(ctx context.Context, accountID string, from, to *time.Time) (*SyncResult, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acc.Syncable() {
		return nil, account.ErrAccountDisabled
	}

	now := time.Now()
	fromDate := now.Add(-s.cfg.DefaultLookback)
	if from != nil {
		fromDate = *from
	} else if acc.LastSyncedAt != nil {
		fromDate = *acc.LastSyncedAt
	}
	toDate := now
	if to != nil {
		toDate = *to
	}

	// The log row is written before any remote call so a crash mid-sync
	// leaves forensic evidence.
	syncLog, err := s.syncLogs.Create(ctx, &account.SyncLog{
		ID:        uuid.NewString(),
		AccountID: accountID,
		SyncType:  account.SyncTypeTransactions,
		Status:    account.SyncSyncing,
		SyncedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sync log: %w", err)
	}

	if err := s.accounts.UpdateSyncStatus(ctx, accountID, account.SyncSyncing); err != nil {
		return nil, fmt.Errorf("failed to mark account syncing: %w", err)
	}

	result := &SyncResult{AccountID: accountID, SyncedAt: now}

	imported, err := s.importWindow(ctx, acc, fromDate, toDate)
	result.RecordsImported = imported

	if err != nil {
		result.Status = account.SyncFailed
		result.ErrorMessage = err.Error()

		log.Printf("Account %s: sync failed after %d imports: %v", accountID, imported, err)
		if stErr := s.accounts.UpdateSyncStatus(ctx, accountID, account.SyncFailed); stErr != nil {
			log.Printf("Account %s: failed to record FAILED status: %v", accountID, stErr)
		}
		if logErr := s.syncLogs.Finalize(ctx, syncLog.ID, account.SyncFailed, imported, err.Error()); logErr != nil {
			log.Printf("Account %s: failed to finalize sync log: %v", accountID, logErr)
		}
		if s.recorder != nil {
			s.recorder.RecordSyncFailure(ctx)
		}
		return result, nil
	}

	result.Status = account.SyncSuccess

	if err := s.accounts.MarkSynced(ctx, accountID, now); err != nil {
		log.Printf("Account %s: failed to record SUCCESS status: %v", accountID, err)
	}
	if err := s.syncLogs.Finalize(ctx, syncLog.ID, account.SyncSuccess, imported, ""); err != nil {
		log.Printf("Account %s: failed to finalize sync log: %v", accountID, err)
	}
	if s.recorder != nil {
		s.recorder.RecordSyncSuccess(ctx)
	}

	log.Printf("Account %s: sync complete, %d records imported", accountID, imported)
	return result, nil
}

// SyncAllAccounts synchronizes every account due for sync. One account's
// failure is isolated and never stops the batch.
func (s *SyncEngine) SyncAllAccounts(ctx context.Context) []*SyncResult {
	due, err := s.accounts.ListDueForSync(ctx, time.Now().Add(-s.cfg.SyncInterval))
	if err != nil {
		log.Printf("Sync sweep: failed to list due accounts: %v", err)
		return nil
	}

	log.Printf("Sync sweep: %d accounts due", len(due))

	results := make([]*SyncResult, 0, len(due))
	for _, acc := range due {
		result, err := s.SyncTransactions(ctx, acc.ID, nil, nil)
		if err != nil {
			log.Printf("Sync sweep: account %s rejected: %v", acc.ID, err)
			results = append(results, &SyncResult{
				AccountID:    acc.ID,
				Status:       account.SyncFailed,
				ErrorMessage: err.Error(),
				SyncedAt:     time.Now(),
			})
			continue
		}
		results = append(results, result)
	}

	return results
}

// importWindow fetches pages sequentially and imports each record. The
// returned count reflects records committed so far even when an error cuts
// the window short.
func (s *SyncEngine) importWindow(ctx context.Context, acc *account.ConnectedAccount, from, to time.Time) (int, error) {
	accessToken, err := s.consents.GetAccessToken(ctx, acc.ConsentID)
	if err != nil {
		return 0, fmt.Errorf("access token unavailable: %w", err)
	}

	inst, err := s.institutions.GetByID(ctx, acc.InstitutionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load institution: %w", err)
	}

	category, err := s.ledger.FindOrCreateCategory(ctx, ledger.DefaultCategory)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve category: %w", err)
	}

	entity, err := s.ledger.FindOrCreateSourceEntity(ctx, sourceEntityName(inst, acc), acc.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve source entity: %w", err)
	}

	imported := 0
	totalPages := 1
	for page := 1; page <= totalPages; page++ {
		remote, err := s.client.ListTransactions(ctx, inst, accessToken, acc.ExternalAccountID, from, to, page, s.cfg.PageSize)
		if err != nil {
			return imported, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		if remote.TotalPages > totalPages {
			totalPages = remote.TotalPages
		}

		for i := range remote.Transactions {
			ok, err := s.importRecord(ctx, acc, inst, category, entity, &remote.Transactions[i])
			if err != nil {
				// Per-record failures only exclude that record.
				log.Printf("Account %s: skipping transaction %s: %v", acc.ID, remote.Transactions[i].ID, err)
				continue
			}
			if ok {
				imported++
			}
		}
	}

	return imported, nil
}

// importRecord maps and commits a single remote transaction. Returns false
// without error when the record is already present in the ledger.
func (s *SyncEngine) importRecord(ctx context.Context, acc *account.ConnectedAccount, inst *instdomain.Institution, category *ledger.Category, entity *ledger.SourceEntity, tx *ofclient.RemoteTransaction) (bool, error) {
	exists, err := s.ledger.ExistsByUserAndExternalReference(ctx, acc.UserID, tx.ID)
	if err != nil {
		return false, fmt.Errorf("duplicate check failed: %w", err)
	}
	if exists {
		return false, nil
	}

	amount, err := tx.GetAmount()
	if err != nil {
		return false, err
	}
	date, err := tx.GetDate()
	if err != nil {
		return false, err
	}

	description := tx.Description
	if description == "" {
		description = placeholderDescription
	}

	dto := ledger.TransactionDTO{
		UserID:            acc.UserID,
		Type:              ledgerType(tx.CreditDebitIndicator),
		Subtype:           ledger.SubtypeVariable,
		Source:            sourceTag(acc.AccountType),
		Description:       description,
		Amount:            amount,
		Date:              date,
		CategoryID:        category.ID,
		SourceEntityID:    entity.ID,
		ExternalReference: tx.ID,
		BankReference:     tx.ID,
	}

	transactionID, err := s.ledger.CreateTransaction(ctx, dto)
	if err != nil {
		return false, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	s.notifier.NotifyTransactionUpdate(ctx, acc.UserID, transactionID)
	if s.recorder != nil {
		s.recorder.RecordImportedRecord(ctx)
	}
	return true, nil
}

// ledgerType maps the remote credit/debit indicator to a ledger type.
func ledgerType(indicator string) string {
	if strings.EqualFold(indicator, "CREDIT") {
		return ledger.TypeIncome
	}
	return ledger.TypeExpense
}

// sourceTag selects the ledger source from the remote account type.
func sourceTag(accountType string) string {
	switch strings.ToUpper(accountType) {
	case "CHECKING", "CHECKING_ACCOUNT", "SAVINGS", "SAVINGS_ACCOUNT":
		return ledger.SourceBankTransfer
	case "CREDIT_CARD":
		return ledger.SourceCreditCard
	case "DEBIT_CARD":
		return ledger.SourceDebitCard
	default:
		return ledger.SourceOther
	}
}

// sourceEntityName builds the per-account entity name
// "{institution} - {accountNumber or externalId}".
func sourceEntityName(inst *instdomain.Institution, acc *account.ConnectedAccount) string {
	identifier := acc.AccountNumber
	if identifier == "" {
		identifier = acc.ExternalAccountID
	}
	return fmt.Sprintf("%s - %s", inst.Name, identifier)
}
