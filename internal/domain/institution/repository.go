package institution

import "context"

// Repository provides read access to institution reference data.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Institution, error)
	List(ctx context.Context) ([]*Institution, error)
}
