package institution

import (
	"context"
	"time"

	domain "finlink/internal/domain/institution"
)

// ClientInterface abstracts the institution API so domain services can be
// tested with mocks. Institution-specific payload quirks stay behind this
// boundary.
type ClientInterface interface {
	AuthorizeURL(inst *domain.Institution, userID int64, state string, scopes []string) string
	ExchangeCode(ctx context.Context, inst *domain.Institution, code, redirectURI string) (*TokenResponse, error)
	Refresh(ctx context.Context, inst *domain.Institution, refreshToken string) (*TokenResponse, error)
	Revoke(ctx context.Context, inst *domain.Institution, token, tokenType string) error
	ListAccounts(ctx context.Context, inst *domain.Institution, accessToken string) ([]AccountInfo, error)
	ListTransactions(ctx context.Context, inst *domain.Institution, accessToken, externalAccountID string, from, to time.Time, page, pageSize int) (*TransactionPage, error)
	GetBalance(ctx context.Context, inst *domain.Institution, accessToken, externalAccountID string) (*BalanceInfo, error)
}
