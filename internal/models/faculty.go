package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// FacultySlot references one weekly grid slot in availability rules.
type FacultySlot struct {
	Day  string `json:"day"`
	Time string `json:"time"`
}

// Faculty models a teaching staff member with availability rules.
// UnavailableSlots and PreferredSlots hold JSON arrays of FacultySlot.
type Faculty struct {
	ID               string         `db:"id" json:"id"`
	InstitutionID    string         `db:"institution_id" json:"institution_id"`
	Name             string         `db:"name" json:"name"`
	Email            string         `db:"email" json:"email"`
	MaxHoursPerDay   int            `db:"max_hours_per_day" json:"max_hours_per_day"`
	UnavailableSlots types.JSONText `db:"unavailable_slots" json:"unavailable_slots"`
	PreferredSlots   types.JSONText `db:"preferred_slots" json:"preferred_slots"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}
