// Package openfinance provides the aggregation services that pull remote
// account and transaction data into the local ledger.
package openfinance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"finlink/internal/domain/account"
	"finlink/internal/domain/consent"
	instdomain "finlink/internal/domain/institution"
	ofclient "finlink/internal/infrastructure/institution"
)

// DiscoveryService lists remote accounts under an authorized consent and
// upserts local connected-account records. Discovery is idempotent: repeated
// calls against an unchanged remote set produce no duplicates and no
// spurious state changes.
type DiscoveryService struct {
	consents     *consent.Service
	institutions instdomain.Repository
	client       ofclient.ClientInterface
	accounts     account.Repository
}

// NewDiscoveryService creates an account discovery service.
func NewDiscoveryService(
	consents *consent.Service,
	institutions instdomain.Repository,
	client ofclient.ClientInterface,
	accounts account.Repository,
) *DiscoveryService {
	return &DiscoveryService{
		consents:     consents,
		institutions: institutions,
		client:       client,
		accounts:     accounts,
	}
}

// DiscoverAccounts lists the remote accounts reachable under the consent and
// upserts each by (institution, external account id). New accounts start in
// PENDING sync status; existing ones get their mutable fields refreshed.
func (s *DiscoveryService) DiscoverAccounts(ctx context.Context, userID int64, consentID string) ([]*account.ConnectedAccount, error) {
	c, err := s.consents.GetConsent(ctx, userID, consentID)
	if err != nil {
		return nil, err
	}
	if !c.IsActive(time.Now()) {
		return nil, consent.ErrConsentNotActive
	}

	accessToken, err := s.consents.GetAccessToken(ctx, consentID)
	if err != nil {
		return nil, err
	}

	inst, err := s.institutions.GetByID(ctx, c.InstitutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load institution: %w", err)
	}

	infos, err := s.client.ListAccounts(ctx, inst, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote accounts: %w", err)
	}

	log.Printf("Consent %s: discovered %d remote accounts at %s", consentID, len(infos), inst.Name)

	result := make([]*account.ConnectedAccount, 0, len(infos))
	created := 0
	for _, info := range infos {
		acc, isNew, err := s.upsertAccount(ctx, c, inst, accessToken, info)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert account %s: %w", info.ExternalID, err)
		}
		if isNew {
			created++
		}
		result = append(result, acc)
	}

	log.Printf("Consent %s: discovery complete - %d accounts (%d new)", consentID, len(result), created)
	return result, nil
}

// upsertAccount refreshes one remote account into the local store. The
// listed balance is used as a fallback when the balance endpoint fails.
func (s *DiscoveryService) upsertAccount(ctx context.Context, c *consent.Consent, inst *instdomain.Institution, accessToken string, info ofclient.AccountInfo) (*account.ConnectedAccount, bool, error) {
	balance, err := info.GetBalance()
	if err != nil {
		return nil, false, err
	}
	currency := info.Currency

	if fresh, balErr := s.client.GetBalance(ctx, inst, accessToken, info.ExternalID); balErr != nil {
		log.Printf("Account %s: balance fetch failed, using listed balance: %v", info.ExternalID, balErr)
	} else if parsed, parseErr := fresh.GetBalance(); parseErr == nil {
		balance = parsed
		if fresh.Currency != "" {
			currency = fresh.Currency
		}
	}

	return s.accounts.Upsert(ctx, account.UpsertParams{
		ID:                uuid.NewString(),
		UserID:            c.UserID,
		ConsentID:         c.ID,
		InstitutionID:     c.InstitutionID,
		ExternalAccountID: info.ExternalID,
		AccountType:       info.Type,
		AccountNumber:     info.Number,
		BranchCode:        info.BranchCode,
		HolderName:        info.HolderName,
		Currency:          currency,
		Balance:           balance,
	})
}
