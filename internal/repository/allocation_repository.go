package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Samurai315/themis/internal/models"
)

// AllocationRepository reads subject allocations for dataset construction.
type AllocationRepository struct {
	db *sqlx.DB
}

// NewAllocationRepository constructs the repository.
func NewAllocationRepository(db *sqlx.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// ListDetailsByTerm returns allocations for a term joined with subject,
// faculty and batch columns, in submission order so entity IDs stay stable
// between runs.
func (r *AllocationRepository) ListDetailsByTerm(ctx context.Context, termID string) ([]models.AllocationDetail, error) {
	const query = `SELECT a.id, a.term_id, a.subject_id, a.faculty_id, a.batch_id, a.created_at,
       s.code AS subject_code, s.name AS subject_name, s.theory_hours, s.lab_hours, s.preferred_lab_id,
       f.name AS faculty_name, b.name AS batch_name, b.student_count
FROM subject_allocations a
JOIN subjects s ON s.id = a.subject_id
JOIN faculty f ON f.id = a.faculty_id
JOIN batches b ON b.id = a.batch_id
WHERE a.term_id = $1
ORDER BY a.created_at ASC, a.id ASC`
	var details []models.AllocationDetail
	if err := r.db.SelectContext(ctx, &details, query, termID); err != nil {
		return nil, fmt.Errorf("list allocation details: %w", err)
	}
	return details, nil
}
