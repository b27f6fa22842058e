// Package consent implements the Open Finance consent lifecycle: a consent is
// the delegated authority from one user to read data at one institution.
package consent

import (
	"errors"
	"time"
)

// Status is the stored lifecycle state of a consent. EXPIRED is not stored;
// it is derived lazily from ExpiresAt.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusRevoked    Status = "REVOKED"
)

// Domain errors
var (
	ErrConsentNotFound     = errors.New("consent not found")
	ErrConsentNotPending   = errors.New("consent is not pending authorization")
	ErrConsentNotActive    = errors.New("consent is not active")
	ErrActiveConsentExists = errors.New("an active consent already exists for this institution")
	ErrNoRefreshToken      = errors.New("consent has no refresh token")
	ErrTokenUnavailable    = errors.New("stored token could not be decrypted, re-authorization required")
	ErrAccessDenied        = errors.New("consent does not belong to the requesting user")
	ErrInvalidStateToken   = errors.New("state token mismatch")
)

// Consent is an audit record: it is never deleted, only revoked.
type Consent struct {
	ID                 string     `json:"id"`
	UserID             int64      `json:"userId"`
	InstitutionID      string     `json:"institutionId"`
	Status             Status     `json:"status"`
	Scopes             []string   `json:"scopes"`
	StateToken         string     `json:"-"`
	AccessTokenCipher  string     `json:"-"`
	RefreshTokenCipher string     `json:"-"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	AuthorizedAt       *time.Time `json:"authorizedAt,omitempty"`
	RevokedAt          *time.Time `json:"revokedAt,omitempty"`
}

// IsActive reports whether the consent is AUTHORIZED, not revoked, and not
// past its token expiry at the given instant.
func (c *Consent) IsActive(now time.Time) bool {
	if c.Status != StatusAuthorized {
		return false
	}
	if c.RevokedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// IsExpired reports the lazy EXPIRED state: authorized but past expiry.
func (c *Consent) IsExpired(now time.Time) bool {
	return c.Status == StatusAuthorized && c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
