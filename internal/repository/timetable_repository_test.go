package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samurai315/themis/internal/models"
)

func newTimetableRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTimetableRepositoryCreateVersioned(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) + 1 FROM timetables WHERE term_id = $1")).
		WithArgs("term-1").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(3))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetables")).
		WithArgs(sqlmock.AnyArg(), "term-1", sqlmock.AnyArg(), 3, string(models.TimetableStatusDraft), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	runID := "run-1"
	payload := &models.Timetable{
		TermID: "term-1",
		RunID:  &runID,
		Meta:   types.JSONText(`{"method":"genetic"}`),
	}
	err := repo.CreateVersioned(context.Background(), nil, payload)
	require.NoError(t, err)
	assert.Equal(t, 3, payload.Version)
	assert.NotEmpty(t, payload.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryCreateVersionedRequiresTerm(t *testing.T) {
	db, _, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	err := repo.CreateVersioned(context.Background(), nil, &models.Timetable{})
	require.Error(t, err)
}

func TestTimetableRepositoryListByTerm(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	rows := sqlmock.NewRows([]string{"id", "term_id", "run_id", "version", "status", "meta", "created_at", "updated_at"}).
		AddRow("tt-2", "term-1", "run-2", 2, string(models.TimetableStatusFinalized), types.JSONText(`{}`), time.Now(), time.Now()).
		AddRow("tt-1", "term-1", "run-1", 1, string(models.TimetableStatusDraft), types.JSONText(`{}`), time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM timetables WHERE term_id = \\$1 ORDER BY version DESC").
		WithArgs("term-1").
		WillReturnRows(rows)

	list, err := repo.ListByTerm(context.Background(), "term-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryDeleteNotFound(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM timetables WHERE id = $1")).
		WithArgs("tt-9").
		WillReturnResult(sqlmock.NewResult(1, 0))

	err := repo.Delete(context.Background(), nil, "tt-9")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableSessionRepositoryInsertBatch(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetable_sessions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetable_sessions")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sessions := []models.TimetableSession{
		{TimetableID: "tt-1", EntityID: "theory_a_0", SubjectID: "sub-1", BatchID: "batch-1", FacultyID: "fac-1", RoomID: "room-1", Day: "Monday", TimeSlot: "09:00", Duration: 1, SessionType: "theory"},
		{TimetableID: "tt-1", EntityID: "lab_a_0", SubjectID: "sub-1", BatchID: "batch-1", FacultyID: "fac-1", RoomID: "room-2", Day: "Tuesday", DayIndex: 1, TimeSlot: "14:00", SlotIndex: 4, Duration: 2, SessionType: "lab"},
	}
	err := repo.InsertBatch(context.Background(), nil, sessions)
	require.NoError(t, err)
	assert.NotEmpty(t, sessions[0].ID)
	assert.NotEmpty(t, sessions[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableSessionRepositoryListDetailsByTimetable(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableSessionRepository(db)

	rows := sqlmock.NewRows([]string{"id", "timetable_id", "entity_id", "subject_id", "batch_id", "faculty_id", "room_id", "day", "day_index", "time_slot", "slot_index", "duration", "session_type", "created_at", "subject_code", "subject_name", "faculty_name", "batch_name", "room_name"}).
		AddRow("s-1", "tt-1", "theory_a_0", "sub-1", "batch-1", "fac-1", "room-1", "Monday", 0, "09:00", 0, 1, "theory", time.Now(), "CS101", "Data Structures", "Dr. Rao", "CSE-A", "Room 101")
	mock.ExpectQuery("SELECT (.+) FROM timetable_sessions ts JOIN subjects s (.+) WHERE ts.timetable_id = \\$1 ORDER BY ts.day_index ASC, ts.slot_index ASC").
		WithArgs("tt-1").
		WillReturnRows(rows)

	sessions, err := repo.ListDetailsByTimetable(context.Background(), "tt-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "theory_a_0", sessions[0].EntityID)
	assert.Equal(t, "CS101", sessions[0].SubjectCode)
	assert.Equal(t, "Room 101", sessions[0].RoomName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
