package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Institution models a school or college and its scheduling defaults.
// WorkingDays and TimeSlots hold JSON arrays of strings, used when an
// optimization request does not override the grid.
type Institution struct {
	ID          string         `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Type        string         `db:"type" json:"type"`
	WorkingDays types.JSONText `db:"working_days" json:"working_days"`
	TimeSlots   types.JSONText `db:"time_slots" json:"time_slots"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}
