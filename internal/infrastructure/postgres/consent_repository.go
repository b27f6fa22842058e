package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"finlink/internal/domain/consent"
)

// ConsentRepository implements the consent.Repository interface for PostgreSQL
type ConsentRepository struct {
	db *DB
}

var _ consent.Repository = (*ConsentRepository)(nil)

// NewConsentRepository creates a new PostgreSQL consent repository
func NewConsentRepository(db *DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

const consentColumns = `id, user_id, institution_id, status, scopes, state_token,
       access_token_cipher, refresh_token_cipher, expires_at, created_at, authorized_at, revoked_at`

// Create inserts a new PENDING consent
func (r *ConsentRepository) Create(ctx context.Context, params consent.CreateParams) (*consent.Consent, error) {
	query := `
		INSERT INTO consents (id, user_id, institution_id, status, scopes, state_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + consentColumns

	row := r.db.QueryRowContext(ctx, query,
		params.ID, params.UserID, params.InstitutionID, consent.StatusPending,
		pq.Array(params.Scopes), params.StateToken,
	)

	c, err := scanConsent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create consent: %w", err)
	}
	return c, nil
}

// GetByID retrieves a consent by its ID
func (r *ConsentRepository) GetByID(ctx context.Context, id string) (*consent.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1`

	c, err := scanConsent(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, consent.ErrConsentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}
	return c, nil
}

// FindActive returns the active consent for (user, institution), or nil.
func (r *ConsentRepository) FindActive(ctx context.Context, userID int64, institutionID string, now time.Time) (*consent.Consent, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE user_id = $1 AND institution_id = $2
		  AND status = $3 AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $4)
		LIMIT 1
	`

	c, err := scanConsent(r.db.QueryRowContext(ctx, query, userID, institutionID, consent.StatusAuthorized, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active consent: %w", err)
	}
	return c, nil
}

// ListByUserID retrieves all consents for a user, newest first
func (r *ConsentRepository) ListByUserID(ctx context.Context, userID int64) ([]*consent.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer rows.Close()

	return collectConsents(rows)
}

// ListExpiringBetween returns authorized, unrevoked consents expiring inside
// (from, until]. Already-expired rows are excluded so the refresh sweep never
// picks up consents that can only be re-authorized.
func (r *ConsentRepository) ListExpiringBetween(ctx context.Context, from, until time.Time) ([]*consent.Consent, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE status = $1 AND revoked_at IS NULL
		  AND expires_at > $2 AND expires_at <= $3
		ORDER BY expires_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, consent.StatusAuthorized, from, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring consents: %w", err)
	}
	defer rows.Close()

	return collectConsents(rows)
}

// MarkAuthorized transitions a consent to AUTHORIZED with its first tokens
func (r *ConsentRepository) MarkAuthorized(ctx context.Context, id string, tokens consent.TokenUpdate, authorizedAt time.Time) error {
	query := `
		UPDATE consents
		SET status = $2, access_token_cipher = $3, refresh_token_cipher = $4,
		    expires_at = $5, authorized_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, consent.StatusAuthorized,
		tokens.AccessTokenCipher, tokens.RefreshTokenCipher, tokens.ExpiresAt, authorizedAt)
	if err != nil {
		return fmt.Errorf("failed to mark consent authorized: %w", err)
	}
	return requireRow(result, consent.ErrConsentNotFound)
}

// UpdateTokens replaces token material in place
func (r *ConsentRepository) UpdateTokens(ctx context.Context, id string, tokens consent.TokenUpdate) error {
	query := `
		UPDATE consents
		SET access_token_cipher = $2, refresh_token_cipher = $3, expires_at = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id,
		tokens.AccessTokenCipher, tokens.RefreshTokenCipher, tokens.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to update consent tokens: %w", err)
	}
	return requireRow(result, consent.ErrConsentNotFound)
}

// MarkRevoked transitions a consent to REVOKED. Terminal.
func (r *ConsentRepository) MarkRevoked(ctx context.Context, id string, revokedAt time.Time) error {
	query := `UPDATE consents SET status = $2, revoked_at = $3 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, consent.StatusRevoked, revokedAt)
	if err != nil {
		return fmt.Errorf("failed to mark consent revoked: %w", err)
	}
	return requireRow(result, consent.ErrConsentNotFound)
}

// rowScanner covers both *sql.Row wrappers and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*consent.Consent, error) {
	var c consent.Consent
	var scopes pq.StringArray
	var accessCipher, refreshCipher sql.NullString
	var expiresAt, authorizedAt, revokedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.UserID, &c.InstitutionID, &c.Status, &scopes, &c.StateToken,
		&accessCipher, &refreshCipher, &expiresAt, &c.CreatedAt, &authorizedAt, &revokedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Scopes = scopes
	if accessCipher.Valid {
		c.AccessTokenCipher = accessCipher.String
	}
	if refreshCipher.Valid {
		c.RefreshTokenCipher = refreshCipher.String
	}
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	if authorizedAt.Valid {
		c.AuthorizedAt = &authorizedAt.Time
	}
	if revokedAt.Valid {
		c.RevokedAt = &revokedAt.Time
	}

	return &c, nil
}

func collectConsents(rows *sql.Rows) ([]*consent.Consent, error) {
	var consents []*consent.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consent: %w", err)
		}
		consents = append(consents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consents: %w", err)
	}
	return consents, nil
}

// requireRow converts a zero-row update into the given domain error.
func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
