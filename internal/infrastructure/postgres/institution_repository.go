package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"finlink/internal/domain/institution"
)

// InstitutionRepository implements the institution.Repository interface for PostgreSQL
type InstitutionRepository struct {
	db *DB
}

var _ institution.Repository = (*InstitutionRepository)(nil)

// NewInstitutionRepository creates a new PostgreSQL institution repository
func NewInstitutionRepository(db *DB) *InstitutionRepository {
	return &InstitutionRepository{db: db}
}

const institutionColumns = `id, name, authorize_endpoint, token_endpoint, revoke_endpoint, api_base_url, requires_mtls`

// GetByID retrieves an institution from the registry
func (r *InstitutionRepository) GetByID(ctx context.Context, id string) (*institution.Institution, error) {
	query := `SELECT ` + institutionColumns + ` FROM institutions WHERE id = $1`

	inst, err := scanInstitution(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, institution.ErrInstitutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get institution: %w", err)
	}
	return inst, nil
}

// List returns every registered institution
func (r *InstitutionRepository) List(ctx context.Context) ([]*institution.Institution, error) {
	query := `SELECT ` + institutionColumns + ` FROM institutions ORDER BY name ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}
	defer rows.Close()

	var institutions []*institution.Institution
	for rows.Next() {
		inst, err := scanInstitution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan institution: %w", err)
		}
		institutions = append(institutions, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate institutions: %w", err)
	}
	return institutions, nil
}

func scanInstitution(row rowScanner) (*institution.Institution, error) {
	var inst institution.Institution
	var revokeEndpoint sql.NullString

	err := row.Scan(&inst.ID, &inst.Name, &inst.AuthorizeEndpoint, &inst.TokenEndpoint,
		&revokeEndpoint, &inst.APIBaseURL, &inst.RequiresMTLS)
	if err != nil {
		return nil, err
	}

	if revokeEndpoint.Valid {
		inst.RevokeEndpoint = revokeEndpoint.String
	}
	return &inst, nil
}
