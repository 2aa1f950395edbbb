package models

import "time"

// SubjectAllocation assigns a subject to a faculty member and batch for a
// term. Allocations are the unit the optimizer schedules: each one expands
// into theory and lab entities.
type SubjectAllocation struct {
	ID        string    `db:"id" json:"id"`
	TermID    string    `db:"term_id" json:"term_id"`
	SubjectID string    `db:"subject_id" json:"subject_id"`
	FacultyID string    `db:"faculty_id" json:"faculty_id"`
	BatchID   string    `db:"batch_id" json:"batch_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AllocationDetail is an allocation joined with the subject, faculty and
// batch columns the dataset builder needs.
type AllocationDetail struct {
	SubjectAllocation
	SubjectCode    string  `db:"subject_code" json:"subject_code"`
	SubjectName    string  `db:"subject_name" json:"subject_name"`
	TheoryHours    int     `db:"theory_hours" json:"theory_hours"`
	LabHours       int     `db:"lab_hours" json:"lab_hours"`
	PreferredLabID *string `db:"preferred_lab_id" json:"preferred_lab_id,omitempty"`
	FacultyName    string  `db:"faculty_name" json:"faculty_name"`
	BatchName      string  `db:"batch_name" json:"batch_name"`
	StudentCount   int     `db:"student_count" json:"student_count"`
}
