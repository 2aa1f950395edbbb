package models

import "time"

// RoomType distinguishes regular classrooms from lab rooms.
type RoomType string

const (
	RoomTypeClassroom RoomType = "CLASSROOM"
	RoomTypeLab       RoomType = "LAB"
)

// Room models a schedulable room.
type Room struct {
	ID            string    `db:"id" json:"id"`
	InstitutionID string    `db:"institution_id" json:"institution_id"`
	Name          string    `db:"name" json:"name"`
	Type          RoomType  `db:"type" json:"type"`
	Capacity      int       `db:"capacity" json:"capacity"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
