package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Samurai315/themis/internal/models"
)

// TimetableSessionRepository manages sessions belonging to timetables.
type TimetableSessionRepository struct {
	db *sqlx.DB
}

// NewTimetableSessionRepository builds the repository.
func NewTimetableSessionRepository(db *sqlx.DB) *TimetableSessionRepository {
	return &TimetableSessionRepository{db: db}
}

func (r *TimetableSessionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertBatch inserts sessions for a timetable.
func (r *TimetableSessionRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.TimetableSession) error {
	if len(sessions) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO timetable_sessions (id, timetable_id, entity_id, subject_id, batch_id, faculty_id, room_id, day, day_index, time_slot, slot_index, duration, session_type, created_at)
VALUES (:id, :timetable_id, :entity_id, :subject_id, :batch_id, :faculty_id, :room_id, :day, :day_index, :time_slot, :slot_index, :duration, :session_type, :created_at)`

	for i := range sessions {
		session := &sessions[i]
		if session.ID == "" {
			session.ID = uuid.NewString()
		}
		if session.CreatedAt.IsZero() {
			session.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, session); err != nil {
			return fmt.Errorf("insert timetable session: %w", err)
		}
	}
	return nil
}

// ListDetailsByTimetable returns sessions in weekly grid order with the
// display names needed by the sessions and export endpoints.
func (r *TimetableSessionRepository) ListDetailsByTimetable(ctx context.Context, timetableID string) ([]models.TimetableSessionDetail, error) {
	const query = `
SELECT
	ts.id, ts.timetable_id, ts.entity_id, ts.subject_id, ts.batch_id, ts.faculty_id, ts.room_id,
	ts.day, ts.day_index, ts.time_slot, ts.slot_index, ts.duration, ts.session_type, ts.created_at,
	s.code AS subject_code,
	s.name AS subject_name,
	f.name AS faculty_name,
	b.name AS batch_name,
	r.name AS room_name
FROM timetable_sessions ts
JOIN subjects s ON s.id = ts.subject_id
JOIN faculty f ON f.id = ts.faculty_id
JOIN batches b ON b.id = ts.batch_id
JOIN rooms r ON r.id = ts.room_id
WHERE ts.timetable_id = $1
ORDER BY ts.day_index ASC, ts.slot_index ASC`
	var sessions []models.TimetableSessionDetail
	if err := r.db.SelectContext(ctx, &sessions, query, timetableID); err != nil {
		return nil, fmt.Errorf("list timetable sessions: %w", err)
	}
	return sessions, nil
}

// DeleteByTimetable removes all sessions of a timetable.
func (r *TimetableSessionRepository) DeleteByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID string) error {
	const query = `DELETE FROM timetable_sessions WHERE timetable_id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, timetableID); err != nil {
		return fmt.Errorf("delete timetable sessions: %w", err)
	}
	return nil
}
