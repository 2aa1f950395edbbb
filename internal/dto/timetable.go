package dto

import "github.com/Samurai315/themis/internal/models"

// SaveTimetableRequest captures POST /timetables payload.
type SaveTimetableRequest struct {
	RunID string `json:"runId" validate:"required"`
}

// SaveTimetableResponse reports what was persisted from a run result.
type SaveTimetableResponse struct {
	Timetable       models.Timetable         `json:"timetable"`
	SessionsCreated int                      `json:"sessionsCreated"`
	SessionsSkipped int                      `json:"sessionsSkipped"`
	Conflicts       []models.SessionConflict `json:"conflicts,omitempty"`
}
