package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Samurai315/themis/internal/models"
)

// RoomRepository reads schedulable rooms.
type RoomRepository struct {
	db *sqlx.DB
}

// NewRoomRepository constructs the repository.
func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// ListByInstitution returns all rooms of an institution in name order.
func (r *RoomRepository) ListByInstitution(ctx context.Context, institutionID string) ([]models.Room, error) {
	const query = `SELECT id, institution_id, name, type, capacity, created_at, updated_at
FROM rooms WHERE institution_id = $1 ORDER BY name ASC`
	var rooms []models.Room
	if err := r.db.SelectContext(ctx, &rooms, query, institutionID); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}
