package openfinance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/domain/consent"
	instdomain "finlink/internal/domain/institution"
	"finlink/internal/infrastructure/crypto"
	ofclient "finlink/internal/infrastructure/institution"
)

// Mocks shared by the discovery and sync tests

type MockConsentRepo struct {
	GetByIDFunc func(ctx context.Context, id string) (*consent.Consent, error)
}

func (m *MockConsentRepo) Create(ctx context.Context, params consent.CreateParams) (*consent.Consent, error) {
	return nil, nil
}
func (m *MockConsentRepo) GetByID(ctx context.Context, id string) (*consent.Consent, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, consent.ErrConsentNotFound
}
func (m *MockConsentRepo) FindActive(ctx context.Context, userID int64, institutionID string, now time.Time) (*consent.Consent, error) {
	return nil, nil
}
func (m *MockConsentRepo) ListByUserID(ctx context.Context, userID int64) ([]*consent.Consent, error) {
	return nil, nil
}
func (m *MockConsentRepo) ListExpiringBetween(ctx context.Context, from, until time.Time) ([]*consent.Consent, error) {
	return nil, nil
}
func (m *MockConsentRepo) MarkAuthorized(ctx context.Context, id string, tokens consent.TokenUpdate, authorizedAt time.Time) error {
	return nil
}
func (m *MockConsentRepo) UpdateTokens(ctx context.Context, id string, tokens consent.TokenUpdate) error {
	return nil
}
func (m *MockConsentRepo) MarkRevoked(ctx context.Context, id string, revokedAt time.Time) error {
	return nil
}

type MockInstitutionRepo struct {
	GetByIDFunc func(ctx context.Context, id string) (*instdomain.Institution, error)
}

func (m *MockInstitutionRepo) GetByID(ctx context.Context, id string) (*instdomain.Institution, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return &instdomain.Institution{ID: id, Name: "Test Bank"}, nil
}
func (m *MockInstitutionRepo) List(ctx context.Context) ([]*instdomain.Institution, error) {
	return nil, nil
}

type MockClient struct {
	ListAccountsFunc     func(ctx context.Context, inst *instdomain.Institution, accessToken string) ([]ofclient.AccountInfo, error)
	ListTransactionsFunc func(ctx context.Context, inst *instdomain.Institution, accessToken, externalAccountID string, from, to time.Time, page, pageSize int) (*ofclient.TransactionPage, error)
	GetBalanceFunc       func(ctx context.Context, inst *instdomain.Institution, accessToken, externalAccountID string) (*ofclient.BalanceInfo, error)
}

func (m *MockClient) AuthorizeURL(inst *instdomain.Institution, userID int64, state string, scopes []string) string {
	return ""
}
func (m *MockClient) ExchangeCode(ctx context.Context, inst *instdomain.Institution, code, redirectURI string) (*ofclient.TokenResponse, error) {
	return nil, nil
}
func (m *MockClient) Refresh(ctx context.Context, inst *instdomain.Institution, refreshToken string) (*ofclient.TokenResponse, error) {
	return nil, nil
}
func (m *MockClient) Revoke(ctx context.Context, inst *instdomain.Institution, token, tokenType string) error {
	return nil
}
func (m *MockClient) ListAccounts(ctx context.Context, inst *instdomain.Institution, accessToken string) ([]ofclient.AccountInfo, error) {
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx, inst, accessToken)
	}
	return nil, nil
}
func (m *MockClient) ListTransactions(ctx context.Context, inst *instdomain.Institution, accessToken, externalAccountID string, from, to time.Time, page, pageSize int) (*ofclient.TransactionPage, error) {
	if m.ListTransactionsFunc != nil {
		return m.ListTransactionsFunc(ctx, inst, accessToken, externalAccountID, from, to, page, pageSize)
	}
	return &ofclient.TransactionPage{Page: page, TotalPages: 1}, nil
}
func (m *MockClient) GetBalance(ctx context.Context, inst *instdomain.Institution, accessToken, externalAccountID string) (*ofclient.BalanceInfo, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, inst, accessToken, externalAccountID)
	}
	return nil, errors.New("balance endpoint unavailable")
}

// MockAccountRepo keeps an in-memory store keyed the way the unique index is,
// so upsert idempotence can be asserted.
type MockAccountRepo struct {
	store map[string]*account.ConnectedAccount

	GetByIDFunc          func(ctx context.Context, id string) (*account.ConnectedAccount, error)
	ListDueForSyncFunc   func(ctx context.Context, olderThan time.Time) ([]*account.ConnectedAccount, error)
	UpdateSyncStatusFunc func(ctx context.Context, id string, status account.SyncStatus) error
	MarkSyncedFunc       func(ctx context.Context, id string, syncedAt time.Time) error
}

func NewMockAccountRepo() *MockAccountRepo {
	return &MockAccountRepo{store: make(map[string]*account.ConnectedAccount)}
}

func upsertKey(institutionID, externalAccountID string) string {
	return institutionID + "/" + externalAccountID
}

func (m *MockAccountRepo) Upsert(ctx context.Context, params account.UpsertParams) (*account.ConnectedAccount, bool, error) {
	key := upsertKey(params.InstitutionID, params.ExternalAccountID)
	if existing, ok := m.store[key]; ok {
		existing.ConsentID = params.ConsentID
		existing.AccountType = params.AccountType
		existing.AccountNumber = params.AccountNumber
		existing.BranchCode = params.BranchCode
		existing.HolderName = params.HolderName
		existing.Currency = params.Currency
		existing.Balance = params.Balance
		existing.UpdatedAt = time.Now()
		return existing, false, nil
	}

	acc := &account.ConnectedAccount{
		ID:                params.ID,
		UserID:            params.UserID,
		ConsentID:         params.ConsentID,
		InstitutionID:     params.InstitutionID,
		ExternalAccountID: params.ExternalAccountID,
		AccountType:       params.AccountType,
		AccountNumber:     params.AccountNumber,
		BranchCode:        params.BranchCode,
		HolderName:        params.HolderName,
		Currency:          params.Currency,
		Balance:           params.Balance,
		SyncStatus:        account.SyncPending,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	m.store[key] = acc
	return acc, true, nil
}

func (m *MockAccountRepo) GetByID(ctx context.Context, id string) (*account.ConnectedAccount, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	for _, acc := range m.store {
		if acc.ID == id {
			return acc, nil
		}
	}
	return nil, account.ErrAccountNotFound
}
func (m *MockAccountRepo) ListByUserID(ctx context.Context, userID int64) ([]*account.ConnectedAccount, error) {
	return nil, nil
}
func (m *MockAccountRepo) ListByConsentID(ctx context.Context, consentID string) ([]*account.ConnectedAccount, error) {
	return nil, nil
}
func (m *MockAccountRepo) ListDueForSync(ctx context.Context, olderThan time.Time) ([]*account.ConnectedAccount, error) {
	if m.ListDueForSyncFunc != nil {
		return m.ListDueForSyncFunc(ctx, olderThan)
	}
	return nil, nil
}
func (m *MockAccountRepo) UpdateSyncStatus(ctx context.Context, id string, status account.SyncStatus) error {
	if m.UpdateSyncStatusFunc != nil {
		return m.UpdateSyncStatusFunc(ctx, id, status)
	}
	return nil
}
func (m *MockAccountRepo) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	if m.MarkSyncedFunc != nil {
		return m.MarkSyncedFunc(ctx, id, syncedAt)
	}
	for _, acc := range m.store {
		if acc.ID == id {
			acc.SyncStatus = account.SyncSuccess
			acc.LastSyncedAt = &syncedAt
		}
	}
	return nil
}

// Test fixtures

func newTestVault(t *testing.T) *consent.Vault {
	t.Helper()
	encryptor, err := crypto.NewEncryptor("01234567890123456789012345678901")
	if err != nil {
		t.Fatalf("NewEncryptor() failed: %v", err)
	}
	return consent.NewVault(encryptor)
}

func activeConsent(t *testing.T, vault *consent.Vault) *consent.Consent {
	t.Helper()
	accessCipher, err := vault.Encrypt("access-token")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	expiresAt := time.Now().Add(time.Hour)
	return &consent.Consent{
		ID:                "consent-1",
		UserID:            1,
		InstitutionID:     "inst-1",
		Status:            consent.StatusAuthorized,
		AccessTokenCipher: accessCipher,
		ExpiresAt:         &expiresAt,
	}
}

func newConsentService(t *testing.T, vault *consent.Vault, c *consent.Consent, client ofclient.ClientInterface) *consent.Service {
	t.Helper()
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*consent.Consent, error) {
			if c != nil && id == c.ID {
				return c, nil
			}
			return nil, consent.ErrConsentNotFound
		},
	}
	return consent.NewService(repo, &MockInstitutionRepo{}, client, vault, nil, nil, consent.ServiceConfig{})
}

// Tests

func TestDiscoverAccounts(t *testing.T) {
	vault := newTestVault(t)
	c := activeConsent(t, vault)

	client := &MockClient{
		ListAccountsFunc: func(ctx context.Context, inst *instdomain.Institution, accessToken string) ([]ofclient.AccountInfo, error) {
			if accessToken != "access-token" {
				t.Errorf("ListAccounts called with token %q", accessToken)
			}
			return []ofclient.AccountInfo{
				{ExternalID: "ext-1", Type: "CHECKING", Number: "12345-6", Currency: "BRL", BalanceString: "100.50"},
				{ExternalID: "ext-2", Type: "SAVINGS", Number: "54321-0", Currency: "BRL", BalanceString: "20.00"},
			}, nil
		},
	}
	accounts := NewMockAccountRepo()
	svc := NewDiscoveryService(newConsentService(t, vault, c, client), &MockInstitutionRepo{}, client, accounts)

	discovered, err := svc.DiscoverAccounts(context.Background(), 1, "consent-1")
	if err != nil {
		t.Fatalf("DiscoverAccounts() failed: %v", err)
	}

	if len(discovered) != 2 {
		t.Fatalf("discovered %d accounts, want 2", len(discovered))
	}
	if discovered[0].SyncStatus != account.SyncPending {
		t.Errorf("new account SyncStatus = %s, want PENDING", discovered[0].SyncStatus)
	}
	if !discovered[0].Balance.Equal(decimal.RequireFromString("100.50")) {
		t.Errorf("Balance = %s, want 100.50", discovered[0].Balance)
	}
}

func TestDiscoverAccounts_Idempotent(t *testing.T) {
	vault := newTestVault(t)
	c := activeConsent(t, vault)

	balance := "100.50"
	client := &MockClient{
		ListAccountsFunc: func(ctx context.Context, inst *instdomain.Institution, accessToken string) ([]ofclient.AccountInfo, error) {
			return []ofclient.AccountInfo{
				{ExternalID: "ext-1", Type: "CHECKING", Number: "12345-6", Currency: "BRL", BalanceString: balance},
			}, nil
		},
	}
	accounts := NewMockAccountRepo()
	svc := NewDiscoveryService(newConsentService(t, vault, c, client), &MockInstitutionRepo{}, client, accounts)

	first, err := svc.DiscoverAccounts(context.Background(), 1, "consent-1")
	if err != nil {
		t.Fatalf("first DiscoverAccounts() failed: %v", err)
	}

	balance = "200.00"
	second, err := svc.DiscoverAccounts(context.Background(), 1, "consent-1")
	if err != nil {
		t.Fatalf("second DiscoverAccounts() failed: %v", err)
	}

	if len(accounts.store) != 1 {
		t.Fatalf("store has %d accounts after repeated discovery, want 1", len(accounts.store))
	}
	if first[0].ID != second[0].ID {
		t.Error("repeated discovery must keep the local account identity")
	}
	if !second[0].Balance.Equal(decimal.RequireFromString("200.00")) {
		t.Errorf("Balance = %s, want refreshed 200.00", second[0].Balance)
	}
}

func TestDiscoverAccounts_FreshBalancePreferred(t *testing.T) {
	vault := newTestVault(t)
	c := activeConsent(t, vault)

	client := &MockClient{
		ListAccountsFunc: func(ctx context.Context, inst *instdomain.Institution, accessToken string) ([]ofclient.AccountInfo, error) {
			return []ofclient.AccountInfo{
				{ExternalID: "ext-1", Type: "CHECKING", Currency: "BRL", BalanceString: "100.00"},
			}, nil
		},
		GetBalanceFunc: func(ctx context.Context, inst *instdomain.Institution, accessToken, externalAccountID string) (*ofclient.BalanceInfo, error) {
			return &ofclient.BalanceInfo{BalanceString: "150.00", Currency: "BRL"}, nil
		},
	}
	accounts := NewMockAccountRepo()
	svc := NewDiscoveryService(newConsentService(t, vault, c, client), &MockInstitutionRepo{}, client, accounts)

	discovered, err := svc.DiscoverAccounts(context.Background(), 1, "consent-1")
	if err != nil {
		t.Fatalf("DiscoverAccounts() failed: %v", err)
	}
	if !discovered[0].Balance.Equal(decimal.RequireFromString("150.00")) {
		t.Errorf("Balance = %s, want fresh 150.00", discovered[0].Balance)
	}
}

func TestDiscoverAccounts_WrongUser(t *testing.T) {
	vault := newTestVault(t)
	c := activeConsent(t, vault)

	client := &MockClient{}
	svc := NewDiscoveryService(newConsentService(t, vault, c, client), &MockInstitutionRepo{}, client, NewMockAccountRepo())

	_, err := svc.DiscoverAccounts(context.Background(), 99, "consent-1")
	if !errors.Is(err, consent.ErrAccessDenied) {
		t.Errorf("DiscoverAccounts() error = %v, want ErrAccessDenied", err)
	}
}

func TestDiscoverAccounts_InactiveConsent(t *testing.T) {
	vault := newTestVault(t)
	c := activeConsent(t, vault)
	now := time.Now()
	c.RevokedAt = &now
	c.Status = consent.StatusRevoked

	client := &MockClient{
		ListAccountsFunc: func(ctx context.Context, inst *instdomain.Institution, accessToken string) ([]ofclient.AccountInfo, error) {
			t.Error("ListAccounts should not be called for an inactive consent")
			return nil, nil
		},
	}
	svc := NewDiscoveryService(newConsentService(t, vault, c, client), &MockInstitutionRepo{}, client, NewMockAccountRepo())

	_, err := svc.DiscoverAccounts(context.Background(), 1, "consent-1")
	if !errors.Is(err, consent.ErrConsentNotActive) {
		t.Errorf("DiscoverAccounts() error = %v, want ErrConsentNotActive", err)
	}
}

func TestDiscoverAccounts_RemoteFailure(t *testing.T) {
	vault := newTestVault(t)
	c := activeConsent(t, vault)

	client := &MockClient{
		ListAccountsFunc: func(ctx context.Context, inst *instdomain.Institution, accessToken string) ([]ofclient.AccountInfo, error) {
			return nil, fmt.Errorf("institution unreachable")
		},
	}
	accounts := NewMockAccountRepo()
	svc := NewDiscoveryService(newConsentService(t, vault, c, client), &MockInstitutionRepo{}, client, accounts)

	if _, err := svc.DiscoverAccounts(context.Background(), 1, "consent-1"); err == nil {
		t.Error("DiscoverAccounts() should fail when the remote listing fails")
	}
	if len(accounts.store) != 0 {
		t.Errorf("store has %d accounts after a failed discovery, want 0", len(accounts.store))
	}
}
