package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Samurai315/themis/internal/models"
)

// InstitutionRepository reads institution rows.
type InstitutionRepository struct {
	db *sqlx.DB
}

// NewInstitutionRepository constructs the repository.
func NewInstitutionRepository(db *sqlx.DB) *InstitutionRepository {
	return &InstitutionRepository{db: db}
}

// GetByID loads an institution by identifier.
func (r *InstitutionRepository) GetByID(ctx context.Context, id string) (*models.Institution, error) {
	const query = `SELECT id, name, type, working_days, time_slots, created_at, updated_at
FROM institutions WHERE id = $1`
	var institution models.Institution
	if err := r.db.GetContext(ctx, &institution, query, id); err != nil {
		return nil, fmt.Errorf("get institution: %w", err)
	}
	return &institution, nil
}
