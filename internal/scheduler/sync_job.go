package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"finlink/internal/domain/account"
	"finlink/internal/domain/consent"
	"finlink/internal/domain/openfinance"
)

// AccountSyncJob synchronizes the transactions of one connected account.
type AccountSyncJob struct {
	engine    *openfinance.SyncEngine
	accountID string
}

var _ Job = (*AccountSyncJob)(nil)

// NewAccountSyncJob creates a sync job for a single account.
func NewAccountSyncJob(engine *openfinance.SyncEngine, accountID string) *AccountSyncJob {
	return &AccountSyncJob{engine: engine, accountID: accountID}
}

func (j *AccountSyncJob) Execute(ctx context.Context) error {
	result, err := j.engine.SyncTransactions(ctx, j.accountID, nil, nil)
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("sync failed: %s", result.ErrorMessage)
	}
	log.Printf("Account %s: scheduled sync imported %d records", j.accountID, result.RecordsImported)
	return nil
}

func (j *AccountSyncJob) Key() string { return j.accountID }

func (j *AccountSyncJob) Description() string { return "account transaction sync" }

// TokenRefreshJob sweeps consents with tokens close to expiry and refreshes
// them ahead of the sync runs.
type TokenRefreshJob struct {
	consents *consent.Service
}

var _ Job = (*TokenRefreshJob)(nil)

// NewTokenRefreshJob creates the consent token refresh sweep job.
func NewTokenRefreshJob(consents *consent.Service) *TokenRefreshJob {
	return &TokenRefreshJob{consents: consents}
}

func (j *TokenRefreshJob) Execute(ctx context.Context) error {
	refreshed, err := j.consents.RefreshExpiringTokens(ctx)
	if err != nil {
		return err
	}
	log.Printf("Token refresh job: %d consents refreshed", refreshed)
	return nil
}

func (j *TokenRefreshJob) Key() string { return "expiring-consents" }

func (j *TokenRefreshJob) Description() string { return "consent token refresh sweep" }

// SyncJobProvider builds the job batch for one scheduler run: the token
// refresh sweep first, then one sync job per account due for sync.
func SyncJobProvider(consents *consent.Service, accounts account.Repository, engine *openfinance.SyncEngine, syncInterval time.Duration) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		jobs := []Job{NewTokenRefreshJob(consents)}

		due, err := accounts.ListDueForSync(ctx, time.Now().Add(-syncInterval))
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts due for sync: %w", err)
		}
		for _, acc := range due {
			jobs = append(jobs, NewAccountSyncJob(engine, acc.ID))
		}

		return jobs, nil
	}
}
