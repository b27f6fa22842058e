package consent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	instdomain "finlink/internal/domain/institution"
	"finlink/internal/infrastructure/crypto"
	ofclient "finlink/internal/infrastructure/institution"
)

// Mocks

type MockConsentRepo struct {
	CreateFunc              func(ctx context.Context, params CreateParams) (*Consent, error)
	GetByIDFunc             func(ctx context.Context, id string) (*Consent, error)
	FindActiveFunc          func(ctx context.Context, userID int64, institutionID string, now time.Time) (*Consent, error)
	ListByUserIDFunc        func(ctx context.Context, userID int64) ([]*Consent, error)
	ListExpiringBetweenFunc func(ctx context.Context, from, until time.Time) ([]*Consent, error)
	MarkAuthorizedFunc      func(ctx context.Context, id string, tokens TokenUpdate, authorizedAt time.Time) error
	UpdateTokensFunc        func(ctx context.Context, id string, tokens TokenUpdate) error
	MarkRevokedFunc         func(ctx context.Context, id string, revokedAt time.Time) error
}

func (m *MockConsentRepo) Create(ctx context.Context, params CreateParams) (*Consent, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	return &Consent{
		ID:            params.ID,
		UserID:        params.UserID,
		InstitutionID: params.InstitutionID,
		Status:        StatusPending,
		Scopes:        params.Scopes,
		StateToken:    params.StateToken,
		CreatedAt:     time.Now(),
	}, nil
}
func (m *MockConsentRepo) GetByID(ctx context.Context, id string) (*Consent, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, ErrConsentNotFound
}
func (m *MockConsentRepo) FindActive(ctx context.Context, userID int64, institutionID string, now time.Time) (*Consent, error) {
	if m.FindActiveFunc != nil {
		return m.FindActiveFunc(ctx, userID, institutionID, now)
	}
	return nil, nil
}
func (m *MockConsentRepo) ListByUserID(ctx context.Context, userID int64) ([]*Consent, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}
func (m *MockConsentRepo) ListExpiringBetween(ctx context.Context, from, until time.Time) ([]*Consent, error) {
	if m.ListExpiringBetweenFunc != nil {
		return m.ListExpiringBetweenFunc(ctx, from, until)
	}
	return nil, nil
}
func (m *MockConsentRepo) MarkAuthorized(ctx context.Context, id string, tokens TokenUpdate, authorizedAt time.Time) error {
	if m.MarkAuthorizedFunc != nil {
		return m.MarkAuthorizedFunc(ctx, id, tokens, authorizedAt)
	}
	return nil
}
func (m *MockConsentRepo) UpdateTokens(ctx context.Context, id string, tokens TokenUpdate) error {
	if m.UpdateTokensFunc != nil {
		return m.UpdateTokensFunc(ctx, id, tokens)
	}
	return nil
}
func (m *MockConsentRepo) MarkRevoked(ctx context.Context, id string, revokedAt time.Time) error {
	if m.MarkRevokedFunc != nil {
		return m.MarkRevokedFunc(ctx, id, revokedAt)
	}
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
	AuthorizeURLFunc     func(inst *instdomain.Institution, userID int64, state string, scopes []string) string
	ExchangeCodeFunc     func(ctx context.Context, inst *instdomain.Institution, code, redirectURI string) (*ofclient.TokenResponse, error)
	RefreshFunc          func(ctx context.Context, inst *instdomain.Institution, refreshToken string) (*ofclient.TokenResponse, error)
	RevokeFunc           func(ctx context.Context, inst *instdomain.Institution, token, tokenType string) error
	ListAccountsFunc     func(ctx context.Context, inst *instdomain.Institution, accessToken string) ([]ofclient.AccountInfo, error)
	ListTransactionsFunc func(ctx context.Context, inst *instdomain.Institution, accessToken, externalAccountID string, from, to time.Time, page, pageSize int) (*ofclient.TransactionPage, error)
	GetBalanceFunc       func(ctx context.Context, inst *instdomain.Institution, accessToken, externalAccountID string) (*ofclient.BalanceInfo, error)
}

func (m *MockClient) AuthorizeURL(inst *instdomain.Institution, userID int64, state string, scopes []string) string {
	if m.AuthorizeURLFunc != nil {
		return m.AuthorizeURLFunc(inst, userID, state, scopes)
	}
	return "https://bank.example.com/authorize?state=" + state
}
func (m *MockClient) ExchangeCode(ctx context.Context, inst *instdomain.Institution, code, redirectURI string) (*ofclient.TokenResponse, error) {
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, inst, code, redirectURI)
	}
	return &ofclient.TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600}, nil
}
func (m *MockClient) Refresh(ctx context.Context, inst *instdomain.Institution, refreshToken string) (*ofclient.TokenResponse, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, inst, refreshToken)
	}
	return &ofclient.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600}, nil
}
func (m *MockClient) Revoke(ctx context.Context, inst *instdomain.Institution, token, tokenType string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, inst, token, tokenType)
	}
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
	return nil, errors.New("not implemented")
}

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	encryptor, err := crypto.NewEncryptor("01234567890123456789012345678901")
	if err != nil {
		t.Fatalf("NewEncryptor() failed: %v", err)
	}
	return NewVault(encryptor)
}

func newTestService(repo *MockConsentRepo, client *MockClient, vault *Vault) *Service {
	return NewService(repo, &MockInstitutionRepo{}, client, vault, nil, nil, ServiceConfig{
		RedirectURI: "https://app.example.com/callback",
	})
}

func authorizedConsent(vault *Vault, expiresAt time.Time) *Consent {
	accessCipher, _ := vault.Encrypt("stored-access")
	refreshCipher, _ := vault.Encrypt("stored-refresh")
	return &Consent{
		ID:                 "consent-1",
		UserID:             1,
		InstitutionID:      "inst-1",
		Status:             StatusAuthorized,
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: refreshCipher,
		ExpiresAt:          &expiresAt,
		CreatedAt:          time.Now().Add(-time.Hour),
	}
}

func TestInitiateConsent(t *testing.T) {
	repo := &MockConsentRepo{}
	svc := newTestService(repo, &MockClient{}, newTestVault(t))

	initiation, err := svc.InitiateConsent(context.Background(), 1, "inst-1", []string{"accounts", "transactions"})
	if err != nil {
		t.Fatalf("InitiateConsent() failed: %v", err)
	}

	if initiation.Consent.Status != StatusPending {
		t.Errorf("Status = %s, want PENDING", initiation.Consent.Status)
	}
	if initiation.State == "" {
		t.Error("State token should not be empty")
	}
	if !strings.Contains(initiation.AuthorizeURL, initiation.State) {
		t.Errorf("AuthorizeURL %q does not carry state %q", initiation.AuthorizeURL, initiation.State)
	}
}

func TestInitiateConsent_ActiveConsentExists(t *testing.T) {
	vault := newTestVault(t)
	repo := &MockConsentRepo{
		FindActiveFunc: func(ctx context.Context, userID int64, institutionID string, now time.Time) (*Consent, error) {
			return authorizedConsent(vault, now.Add(time.Hour)), nil
		},
	}
	svc := newTestService(repo, &MockClient{}, vault)

	_, err := svc.InitiateConsent(context.Background(), 1, "inst-1", nil)
	if !errors.Is(err, ErrActiveConsentExists) {
		t.Errorf("InitiateConsent() error = %v, want ErrActiveConsentExists", err)
	}
}

func TestHandleCallback(t *testing.T) {
	vault := newTestVault(t)
	pending := &Consent{
		ID:            "consent-1",
		UserID:        1,
		InstitutionID: "inst-1",
		Status:        StatusPending,
		StateToken:    "state-1",
	}

	var stored TokenUpdate
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return pending, nil
		},
		MarkAuthorizedFunc: func(ctx context.Context, id string, tokens TokenUpdate, authorizedAt time.Time) error {
			stored = tokens
			pending.Status = StatusAuthorized
			pending.AccessTokenCipher = tokens.AccessTokenCipher
			pending.RefreshTokenCipher = tokens.RefreshTokenCipher
			pending.ExpiresAt = &tokens.ExpiresAt
			pending.AuthorizedAt = &authorizedAt
			return nil
		},
	}
	svc := newTestService(repo, &MockClient{}, vault)

	c, err := svc.HandleCallback(context.Background(), "consent-1", "auth-code", "state-1")
	if err != nil {
		t.Fatalf("HandleCallback() failed: %v", err)
	}

	if c.Status != StatusAuthorized {
		t.Errorf("Status = %s, want AUTHORIZED", c.Status)
	}
	if got := vault.Decrypt(stored.AccessTokenCipher); got != "access-1" {
		t.Errorf("stored access token = %q, want %q", got, "access-1")
	}
	if got := vault.Decrypt(stored.RefreshTokenCipher); got != "refresh-1" {
		t.Errorf("stored refresh token = %q, want %q", got, "refresh-1")
	}
	if !stored.ExpiresAt.After(time.Now()) {
		t.Error("token expiry should be in the future")
	}
}

func TestHandleCallback_StateMismatch(t *testing.T) {
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return &Consent{ID: id, Status: StatusPending, StateToken: "expected-state"}, nil
		},
	}
	svc := newTestService(repo, &MockClient{}, newTestVault(t))

	_, err := svc.HandleCallback(context.Background(), "consent-1", "auth-code", "wrong-state")
	if !errors.Is(err, ErrInvalidStateToken) {
		t.Errorf("HandleCallback() error = %v, want ErrInvalidStateToken", err)
	}
}

func TestHandleCallback_NotPending(t *testing.T) {
	vault := newTestVault(t)
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return authorizedConsent(vault, time.Now().Add(time.Hour)), nil
		},
	}
	svc := newTestService(repo, &MockClient{}, vault)

	_, err := svc.HandleCallback(context.Background(), "consent-1", "auth-code", "state-1")
	if !errors.Is(err, ErrConsentNotPending) {
		t.Errorf("HandleCallback() error = %v, want ErrConsentNotPending", err)
	}
}

func TestRefreshToken_RotatesTokens(t *testing.T) {
	vault := newTestVault(t)
	existing := authorizedConsent(vault, time.Now().Add(10*time.Minute))

	var updated TokenUpdate
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return existing, nil
		},
		UpdateTokensFunc: func(ctx context.Context, id string, tokens TokenUpdate) error {
			updated = tokens
			return nil
		},
	}

	var refreshedWith string
	client := &MockClient{
		RefreshFunc: func(ctx context.Context, inst *instdomain.Institution, refreshToken string) (*ofclient.TokenResponse, error) {
			refreshedWith = refreshToken
			return &ofclient.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600}, nil
		},
	}
	svc := newTestService(repo, client, vault)

	if err := svc.RefreshToken(context.Background(), "consent-1"); err != nil {
		t.Fatalf("RefreshToken() failed: %v", err)
	}

	if refreshedWith != "stored-refresh" {
		t.Errorf("Refresh called with %q, want stored refresh token", refreshedWith)
	}
	if got := vault.Decrypt(updated.AccessTokenCipher); got != "access-2" {
		t.Errorf("updated access token = %q, want %q", got, "access-2")
	}
	if got := vault.Decrypt(updated.RefreshTokenCipher); got != "refresh-2" {
		t.Errorf("updated refresh token = %q, want %q", got, "refresh-2")
	}
}

func TestRefreshToken_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	vault := newTestVault(t)
	existing := authorizedConsent(vault, time.Now().Add(10*time.Minute))

	var updated TokenUpdate
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return existing, nil
		},
		UpdateTokensFunc: func(ctx context.Context, id string, tokens TokenUpdate) error {
			updated = tokens
			return nil
		},
	}
	client := &MockClient{
		RefreshFunc: func(ctx context.Context, inst *instdomain.Institution, refreshToken string) (*ofclient.TokenResponse, error) {
			return &ofclient.TokenResponse{AccessToken: "access-2", ExpiresIn: 3600}, nil
		},
	}
	svc := newTestService(repo, client, vault)

	if err := svc.RefreshToken(context.Background(), "consent-1"); err != nil {
		t.Fatalf("RefreshToken() failed: %v", err)
	}

	if updated.RefreshTokenCipher != existing.RefreshTokenCipher {
		t.Error("refresh token cipher should be carried forward when the institution does not rotate it")
	}
}

func TestRefreshToken_Undecryptable(t *testing.T) {
	vault := newTestVault(t)
	existing := authorizedConsent(vault, time.Now().Add(10*time.Minute))
	existing.RefreshTokenCipher = "not-a-valid-ciphertext"

	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return existing, nil
		},
	}
	svc := newTestService(repo, &MockClient{}, vault)

	err := svc.RefreshToken(context.Background(), "consent-1")
	if !errors.Is(err, ErrTokenUnavailable) {
		t.Errorf("RefreshToken() error = %v, want ErrTokenUnavailable", err)
	}
}

func TestRevokeConsent(t *testing.T) {
	vault := newTestVault(t)
	existing := authorizedConsent(vault, time.Now().Add(time.Hour))

	revoked := false
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return existing, nil
		},
		MarkRevokedFunc: func(ctx context.Context, id string, revokedAt time.Time) error {
			revoked = true
			return nil
		},
	}
	svc := newTestService(repo, &MockClient{}, vault)

	if err := svc.RevokeConsent(context.Background(), 1, "consent-1"); err != nil {
		t.Fatalf("RevokeConsent() failed: %v", err)
	}
	if !revoked {
		t.Error("MarkRevoked was not called")
	}
}

func TestRevokeConsent_RemoteFailureStillRevokes(t *testing.T) {
	vault := newTestVault(t)
	existing := authorizedConsent(vault, time.Now().Add(time.Hour))

	revoked := false
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return existing, nil
		},
		MarkRevokedFunc: func(ctx context.Context, id string, revokedAt time.Time) error {
			revoked = true
			return nil
		},
	}
	client := &MockClient{
		RevokeFunc: func(ctx context.Context, inst *instdomain.Institution, token, tokenType string) error {
			return errors.New("institution unreachable")
		},
	}
	svc := newTestService(repo, client, vault)

	if err := svc.RevokeConsent(context.Background(), 1, "consent-1"); err != nil {
		t.Fatalf("RevokeConsent() failed: %v", err)
	}
	if !revoked {
		t.Error("consent should be revoked locally even when the remote revoke fails")
	}
}

func TestRevokeConsent_AccessDenied(t *testing.T) {
	vault := newTestVault(t)
	existing := authorizedConsent(vault, time.Now().Add(time.Hour))

	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return existing, nil
		},
	}
	svc := newTestService(repo, &MockClient{}, vault)

	err := svc.RevokeConsent(context.Background(), 99, "consent-1")
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("RevokeConsent() error = %v, want ErrAccessDenied", err)
	}
}

func TestRevokeConsent_Idempotent(t *testing.T) {
	now := time.Now()
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return &Consent{ID: id, UserID: 1, Status: StatusRevoked, RevokedAt: &now}, nil
		},
		MarkRevokedFunc: func(ctx context.Context, id string, revokedAt time.Time) error {
			t.Error("MarkRevoked should not be called for an already revoked consent")
			return nil
		},
	}
	svc := newTestService(repo, &MockClient{}, newTestVault(t))

	if err := svc.RevokeConsent(context.Background(), 1, "consent-1"); err != nil {
		t.Fatalf("RevokeConsent() failed: %v", err)
	}
}

func TestGetAccessToken_Expired(t *testing.T) {
	vault := newTestVault(t)
	existing := authorizedConsent(vault, time.Now().Add(-time.Minute))

	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return existing, nil
		},
	}
	svc := newTestService(repo, &MockClient{}, vault)

	_, err := svc.GetAccessToken(context.Background(), "consent-1")
	if !errors.Is(err, ErrConsentNotActive) {
		t.Errorf("GetAccessToken() error = %v, want ErrConsentNotActive", err)
	}
}

func TestGetAccessToken_Undecryptable(t *testing.T) {
	vault := newTestVault(t)
	existing := authorizedConsent(vault, time.Now().Add(time.Hour))
	existing.AccessTokenCipher = "garbage"

	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return existing, nil
		},
	}
	svc := newTestService(repo, &MockClient{}, vault)

	_, err := svc.GetAccessToken(context.Background(), "consent-1")
	if !errors.Is(err, ErrTokenUnavailable) {
		t.Errorf("GetAccessToken() error = %v, want ErrTokenUnavailable", err)
	}
}

func TestRefreshExpiringTokens_IsolatesFailures(t *testing.T) {
	vault := newTestVault(t)
	first := authorizedConsent(vault, time.Now().Add(10*time.Minute))
	first.ID = "consent-1"
	second := authorizedConsent(vault, time.Now().Add(15*time.Minute))
	second.ID = "consent-2"

	byID := map[string]*Consent{first.ID: first, second.ID: second}
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return byID[id], nil
		},
		ListExpiringBetweenFunc: func(ctx context.Context, from, until time.Time) ([]*Consent, error) {
			return []*Consent{first, second}, nil
		},
	}
	client := &MockClient{
		RefreshFunc: func(ctx context.Context, inst *instdomain.Institution, refreshToken string) (*ofclient.TokenResponse, error) {
			return nil, errors.New("institution unreachable")
		},
	}
	// First pass: every refresh fails, sweep still completes.
	svc := newTestService(repo, client, vault)

	refreshed, err := svc.RefreshExpiringTokens(context.Background())
	if err != nil {
		t.Fatalf("RefreshExpiringTokens() failed: %v", err)
	}
	if refreshed != 0 {
		t.Errorf("refreshed = %d, want 0", refreshed)
	}

	// Second pass: refreshes succeed.
	client.RefreshFunc = nil
	refreshed, err = svc.RefreshExpiringTokens(context.Background())
	if err != nil {
		t.Fatalf("RefreshExpiringTokens() failed: %v", err)
	}
	if refreshed != 2 {
		t.Errorf("refreshed = %d, want 2", refreshed)
	}
}

func TestRefreshExpiringTokens_SkipsAlreadyExpired(t *testing.T) {
	vault := newTestVault(t)
	expired := authorizedConsent(vault, time.Now().Add(-time.Hour))
	expired.ID = "consent-expired"
	expiring := authorizedConsent(vault, time.Now().Add(10*time.Minute))
	expiring.ID = "consent-expiring"

	byID := map[string]*Consent{expired.ID: expired, expiring.ID: expiring}
	repo := &MockConsentRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*Consent, error) {
			return byID[id], nil
		},
		ListExpiringBetweenFunc: func(ctx context.Context, from, until time.Time) ([]*Consent, error) {
			if from.IsZero() || !from.Before(until) {
				t.Errorf("window (%s, %s] is not a forward-looking range", from, until)
			}
			// Answer per the repository contract: only rows whose expiry
			// falls inside the window.
			var matches []*Consent
			for _, c := range byID {
				if c.ExpiresAt.After(from) && !c.ExpiresAt.After(until) {
					matches = append(matches, c)
				}
			}
			return matches, nil
		},
	}

	refreshCalls := 0
	client := &MockClient{
		RefreshFunc: func(ctx context.Context, inst *instdomain.Institution, refreshToken string) (*ofclient.TokenResponse, error) {
			refreshCalls++
			return &ofclient.TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600}, nil
		},
	}
	svc := newTestService(repo, client, vault)

	refreshed, err := svc.RefreshExpiringTokens(context.Background())
	if err != nil {
		t.Fatalf("RefreshExpiringTokens() failed: %v", err)
	}
	if refreshed != 1 {
		t.Errorf("refreshed = %d, want 1 (expired consent must not be swept)", refreshed)
	}
	if refreshCalls != 1 {
		t.Errorf("Refresh called %d times, want 1", refreshCalls)
	}
}
