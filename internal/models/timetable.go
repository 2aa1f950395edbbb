package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TimetableStatus represents lifecycle phases for stored timetables.
type TimetableStatus string

const (
	TimetableStatusDraft     TimetableStatus = "DRAFT"
	TimetableStatusFinalized TimetableStatus = "FINALIZED"
	TimetableStatusArchived  TimetableStatus = "ARCHIVED"
)

// Timetable captures a versioned timetable assembled from an optimization
// run for one term.
type Timetable struct {
	ID        string          `db:"id" json:"id"`
	TermID    string          `db:"term_id" json:"term_id"`
	RunID     *string         `db:"run_id" json:"run_id,omitempty"`
	Version   int             `db:"version" json:"version"`
	Status    TimetableStatus `db:"status" json:"status"`
	Meta      types.JSONText  `db:"meta" json:"meta"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// TimetableMeta is the JSON payload stored in the meta column.
type TimetableMeta struct {
	Method          string            `json:"method"`
	Fitness         *float64          `json:"fitness,omitempty"`
	SessionsCreated int               `json:"sessions_created"`
	SessionsSkipped int               `json:"sessions_skipped"`
	Conflicts       []SessionConflict `json:"conflicts,omitempty"`
}

// TimetableSession is a concrete scheduled session inside a timetable.
// Day and slot indexes follow the resource grid order used by the run, so
// sessions sort into weekly order without re-parsing labels.
type TimetableSession struct {
	ID          string    `db:"id" json:"id"`
	TimetableID string    `db:"timetable_id" json:"timetable_id"`
	EntityID    string    `db:"entity_id" json:"entity_id"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	BatchID     string    `db:"batch_id" json:"batch_id"`
	FacultyID   string    `db:"faculty_id" json:"faculty_id"`
	RoomID      string    `db:"room_id" json:"room_id"`
	Day         string    `db:"day" json:"day"`
	DayIndex    int       `db:"day_index" json:"day_index"`
	TimeSlot    string    `db:"time_slot" json:"time_slot"`
	SlotIndex   int       `db:"slot_index" json:"slot_index"`
	Duration    int       `db:"duration" json:"duration"`
	SessionType string    `db:"session_type" json:"session_type"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TimetableSessionDetail joins display names onto a session row.
type TimetableSessionDetail struct {
	TimetableSession
	SubjectCode string `db:"subject_code" json:"subject_code"`
	SubjectName string `db:"subject_name" json:"subject_name"`
	FacultyName string `db:"faculty_name" json:"faculty_name"`
	BatchName   string `db:"batch_name" json:"batch_name"`
	RoomName    string `db:"room_name" json:"room_name"`
}

// SessionConflict describes two or more sessions competing for the same
// resource in the same grid slot.
type SessionConflict struct {
	Dimension  string   `json:"dimension"`
	ResourceID string   `json:"resource_id"`
	Day        string   `json:"day"`
	TimeSlot   string   `json:"time_slot"`
	EntityIDs  []string `json:"entity_ids"`
}
