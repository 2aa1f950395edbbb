package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Samurai315/themis/internal/models"
)

// FacultyRepository reads faculty rows and their availability rules.
type FacultyRepository struct {
	db *sqlx.DB
}

// NewFacultyRepository constructs the repository.
func NewFacultyRepository(db *sqlx.DB) *FacultyRepository {
	return &FacultyRepository{db: db}
}

const facultyColumns = `id, institution_id, name, email, max_hours_per_day, unavailable_slots, preferred_slots, created_at, updated_at`

// GetByID loads a faculty member by identifier.
func (r *FacultyRepository) GetByID(ctx context.Context, id string) (*models.Faculty, error) {
	const query = `SELECT ` + facultyColumns + ` FROM faculty WHERE id = $1`
	var faculty models.Faculty
	if err := r.db.GetContext(ctx, &faculty, query, id); err != nil {
		return nil, fmt.Errorf("get faculty: %w", err)
	}
	return &faculty, nil
}

// ListByIDs returns faculty rows for the given identifiers.
func (r *FacultyRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Faculty, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT ` + facultyColumns + ` FROM faculty WHERE id = ANY($1)`
	var faculty []models.Faculty
	if err := r.db.SelectContext(ctx, &faculty, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list faculty by ids: %w", err)
	}
	return faculty, nil
}
