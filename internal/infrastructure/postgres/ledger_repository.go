package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"finlink/internal/domain/ledger"
)

// LedgerRepository implements the ledger.Ledger interface for PostgreSQL
type LedgerRepository struct {
	db *DB
}

var _ ledger.Ledger = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// CreateTransaction inserts a mapped transaction and returns its ID
func (r *LedgerRepository) CreateTransaction(ctx context.Context, dto ledger.TransactionDTO) (string, error) {
	query := `
		INSERT INTO transactions (
			id, user_id, type, subtype, source, description, amount, date,
			category_id, source_entity_id, external_reference, bank_reference
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		uuid.NewString(), dto.UserID, dto.Type, dto.Subtype, dto.Source, dto.Description,
		dto.Amount, dto.Date, dto.CategoryID, dto.SourceEntityID,
		dto.ExternalReference, nullString(dto.BankReference),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}
	return id, nil
}

// ExistsByUserAndExternalReference reports whether the user already has a
// transaction with this external reference
func (r *LedgerRepository) ExistsByUserAndExternalReference(ctx context.Context, userID int64, externalReference string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE user_id = $1 AND external_reference = $2
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, externalReference).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check for duplicate transaction: %w", err)
	}
	return exists, nil
}

// FindOrCreateCategory resolves a category by name, creating it on first use
func (r *LedgerRepository) FindOrCreateCategory(ctx context.Context, name string) (*ledger.Category, error) {
	var c ledger.Category

	query := `SELECT id, name FROM categories WHERE name = $1`
	err := r.db.QueryRowContext(ctx, query, name).Scan(&c.ID, &c.Name)
	if err == nil {
		return &c, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to find category: %w", err)
	}

	// Concurrent first use races on the unique name; the conflict clause
	// resolves it to the winning row.
	insert := `
		INSERT INTO categories (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`
	if err := r.db.QueryRowContext(ctx, insert, uuid.NewString(), name).Scan(&c.ID, &c.Name); err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return &c, nil
}

// FindOrCreateSourceEntity resolves a user's source entity by name, creating
// it on first use
func (r *LedgerRepository) FindOrCreateSourceEntity(ctx context.Context, name string, userID int64) (*ledger.SourceEntity, error) {
	var e ledger.SourceEntity

	query := `SELECT id, user_id, name FROM source_entities WHERE user_id = $1 AND name = $2`
	err := r.db.QueryRowContext(ctx, query, userID, name).Scan(&e.ID, &e.UserID, &e.Name)
	if err == nil {
		return &e, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to find source entity: %w", err)
	}

	insert := `
		INSERT INTO source_entities (id, user_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, user_id, name
	`
	if err := r.db.QueryRowContext(ctx, insert, uuid.NewString(), userID, name).Scan(&e.ID, &e.UserID, &e.Name); err != nil {
		return nil, fmt.Errorf("failed to create source entity: %w", err)
	}
	return &e, nil
}
