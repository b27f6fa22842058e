package consent

import (
	"context"
	"time"
)

// CreateParams contains parameters for creating a new PENDING consent.
type CreateParams struct {
	ID            string
	UserID        int64
	InstitutionID string
	Scopes        []string
	StateToken    string
}

// TokenUpdate carries re-encrypted token material for a consent.
type TokenUpdate struct {
	AccessTokenCipher  string
	RefreshTokenCipher string
	ExpiresAt          time.Time
}

// Repository persists consents.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Consent, error)
	GetByID(ctx context.Context, id string) (*Consent, error)

	// FindActive returns the active consent for a (user, institution) pair,
	// or nil when none exists.
	FindActive(ctx context.Context, userID int64, institutionID string, now time.Time) (*Consent, error)

	ListByUserID(ctx context.Context, userID int64) ([]*Consent, error)

	// ListExpiringBetween returns authorized, unrevoked consents whose token
	// expiry falls inside (from, until]. Rows already expired at from are
	// excluded; they need re-authorization, not a refresh.
	ListExpiringBetween(ctx context.Context, from, until time.Time) ([]*Consent, error)

	// MarkAuthorized transitions a consent to AUTHORIZED and stores its
	// first token pair.
	MarkAuthorized(ctx context.Context, id string, tokens TokenUpdate, authorizedAt time.Time) error

	// UpdateTokens replaces token material in place (refresh); the consent
	// identity and status are unchanged.
	UpdateTokens(ctx context.Context, id string, tokens TokenUpdate) error

	// MarkRevoked transitions a consent to REVOKED. Terminal.
	MarkRevoked(ctx context.Context, id string, revokedAt time.Time) error
}
