package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samurai315/themis/internal/dto"
	"github.com/Samurai315/themis/internal/models"
	"github.com/Samurai315/themis/internal/optimizer"
	appErrors "github.com/Samurai315/themis/pkg/errors"
	"github.com/Samurai315/themis/pkg/export"
)

type timetableStoreStub struct {
	timetables map[string]*models.Timetable
	nextID     int
	createErr  error
	archived   []string
}

func newTimetableStoreStub() *timetableStoreStub {
	return &timetableStoreStub{timetables: make(map[string]*models.Timetable)}
}

func (s *timetableStoreStub) CreateVersioned(ctx context.Context, exec sqlx.ExtContext, timetable *models.Timetable) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	timetable.ID = fmt.Sprintf("tt-%d", s.nextID)
	version := 0
	for _, existing := range s.timetables {
		if existing.TermID == timetable.TermID && existing.Version > version {
			version = existing.Version
		}
	}
	timetable.Version = version + 1
	timetable.CreatedAt = time.Now().UTC()
	clone := *timetable
	s.timetables[timetable.ID] = &clone
	return nil
}

func (s *timetableStoreStub) ListByTerm(ctx context.Context, termID string) ([]models.Timetable, error) {
	out := make([]models.Timetable, 0)
	for _, timetable := range s.timetables {
		if timetable.TermID == termID {
			out = append(out, *timetable)
		}
	}
	return out, nil
}

func (s *timetableStoreStub) FindByID(ctx context.Context, id string) (*models.Timetable, error) {
	timetable, ok := s.timetables[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *timetable
	return &clone, nil
}

func (s *timetableStoreStub) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, ok := s.timetables[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.timetables, id)
	return nil
}

func (s *timetableStoreStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.TimetableStatus, meta types.JSONText) error {
	timetable, ok := s.timetables[id]
	if !ok {
		return sql.ErrNoRows
	}
	timetable.Status = status
	if status == models.TimetableStatusArchived {
		s.archived = append(s.archived, id)
	}
	return nil
}

type sessionStoreStub struct {
	inserted  []models.TimetableSession
	details   []models.TimetableSessionDetail
	deleted   []string
	insertErr error
}

func (s *sessionStoreStub) InsertBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.TimetableSession) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, sessions...)
	return nil
}

func (s *sessionStoreStub) ListDetailsByTimetable(ctx context.Context, timetableID string) ([]models.TimetableSessionDetail, error) {
	return s.details, nil
}

func (s *sessionStoreStub) DeleteByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID string) error {
	s.deleted = append(s.deleted, timetableID)
	return nil
}

type txProviderMock struct {
	db *sqlx.DB
}

func (p *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return p.db.BeginTxx(ctx, opts)
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	t.Helper()
	rawDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rawDB.Close() })
	db := sqlx.NewDb(rawDB, "sqlmock")
	return &txProviderMock{db: db}, mock
}

func newTimetableServiceForTest(t *testing.T) (*TimetableService, *timetableStoreStub, *sessionStoreStub, *runStoreStub, sqlmock.Sqlmock) {
	t.Helper()
	timetables := newTimetableStoreStub()
	sessions := &sessionStoreStub{}
	runs := newRunStoreStub()
	terms := termStoreStub{terms: map[string]*models.Term{"term-1": testTerm()}}
	rooms := roomStoreStub{rooms: testRooms()}
	tx, mock := newTxProviderMock(t)
	svc := NewTimetableService(timetables, sessions, runs, terms, rooms, tx, nil, export.NewCSVExporter(), nil, zap.NewNop())
	return svc, timetables, sessions, runs, mock
}

func seedFinishedRun(t *testing.T, runs *runStoreStub, id string, schedule []optimizer.Assignment) {
	t.Helper()
	fitness := 901.0
	payload, err := json.Marshal(models.RunResult{
		Schedule: schedule,
		Fitness:  &fitness,
		Method:   "genetic",
		Entities: []optimizer.Entity{
			{ID: "theory_a1_0", SubjectID: "sub-1", BatchID: "batch-1", FacultyID: "fac-1", Duration: 1, CapacityNeeded: 55, SessionType: optimizer.SessionTheory},
			{ID: "lab_a1_0", SubjectID: "sub-1", BatchID: "batch-1", FacultyID: "fac-1", Duration: 2, CapacityNeeded: 25, RequiresLab: true, PreferredLabID: "room-2", SessionType: optimizer.SessionLab},
		},
		Days:      []string{"Monday", "Tuesday"},
		TimeSlots: []string{"09:00", "10:00"},
	})
	require.NoError(t, err)
	runs.runs[id] = &models.OptimizationRun{
		ID:     id,
		TermID: "term-1",
		Method: "genetic",
		Status: models.RunStatusFinished,
		Result: types.JSONText(payload),
	}
}

func TestTimetableServiceSaveResultFinalizes(t *testing.T) {
	svc, timetables, sessions, runs, mock := newTimetableServiceForTest(t)
	seedFinishedRun(t, runs, "run-1", []optimizer.Assignment{
		{EntityID: "theory_a1_0", Day: "Monday", Time: "09:00", Duration: 1},
		{EntityID: "lab_a1_0", Day: "Tuesday", Time: "10:00", Duration: 2},
	})
	mock.ExpectBegin()
	mock.ExpectCommit()

	resp, err := svc.SaveResult(context.Background(), dto.SaveTimetableRequest{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, models.TimetableStatusFinalized, resp.Timetable.Status)
	assert.Equal(t, 1, resp.Timetable.Version)
	assert.Equal(t, 2, resp.SessionsCreated)
	assert.Zero(t, resp.SessionsSkipped)
	assert.Empty(t, resp.Conflicts)

	require.Len(t, sessions.inserted, 2)
	theory := sessions.inserted[0]
	assert.Equal(t, resp.Timetable.ID, theory.TimetableID)
	assert.Equal(t, "room-1", theory.RoomID, "theory session lands in the classroom")
	assert.Equal(t, 0, theory.DayIndex)
	assert.Equal(t, 0, theory.SlotIndex)
	lab := sessions.inserted[1]
	assert.Equal(t, "room-2", lab.RoomID, "lab session takes its designated lab")
	assert.Equal(t, 1, lab.DayIndex)
	assert.Equal(t, 1, lab.SlotIndex)
	assert.Equal(t, 2, lab.Duration)

	stored := timetables.timetables[resp.Timetable.ID]
	require.NotNil(t, stored)
	var meta models.TimetableMeta
	require.NoError(t, json.Unmarshal(stored.Meta, &meta))
	assert.Equal(t, "genetic", meta.Method)
	assert.Equal(t, 2, meta.SessionsCreated)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableServiceSaveResultKeepsConflictedDraft(t *testing.T) {
	svc, _, _, runs, mock := newTimetableServiceForTest(t)
	// Both sessions collide on Monday 09:00 for the same faculty and batch.
	seedFinishedRun(t, runs, "run-1", []optimizer.Assignment{
		{EntityID: "theory_a1_0", Day: "Monday", Time: "09:00", Duration: 1},
		{EntityID: "lab_a1_0", Day: "Monday", Time: "09:00", Duration: 2},
	})
	mock.ExpectBegin()
	mock.ExpectCommit()

	resp, err := svc.SaveResult(context.Background(), dto.SaveTimetableRequest{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, models.TimetableStatusDraft, resp.Timetable.Status)
	require.Len(t, resp.Conflicts, 2)
	assert.Equal(t, "batch", resp.Conflicts[0].Dimension)
	assert.Equal(t, "faculty", resp.Conflicts[1].Dimension)
	assert.Equal(t, []string{"lab_a1_0", "theory_a1_0"}, resp.Conflicts[0].EntityIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableServiceSaveResultSupersedesFinalized(t *testing.T) {
	svc, timetables, _, runs, mock := newTimetableServiceForTest(t)
	timetables.timetables["tt-old"] = &models.Timetable{
		ID:      "tt-old",
		TermID:  "term-1",
		Version: 4,
		Status:  models.TimetableStatusFinalized,
	}
	seedFinishedRun(t, runs, "run-1", []optimizer.Assignment{
		{EntityID: "theory_a1_0", Day: "Monday", Time: "09:00", Duration: 1},
	})
	mock.ExpectBegin()
	mock.ExpectCommit()

	resp, err := svc.SaveResult(context.Background(), dto.SaveTimetableRequest{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, models.TimetableStatusFinalized, resp.Timetable.Status)
	assert.Equal(t, 5, resp.Timetable.Version)
	assert.Equal(t, []string{"tt-old"}, timetables.archived)
	assert.Equal(t, models.TimetableStatusArchived, timetables.timetables["tt-old"].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableServiceSaveResultRequiresFinishedRun(t *testing.T) {
	svc, _, _, runs, _ := newTimetableServiceForTest(t)
	runs.runs["run-1"] = &models.OptimizationRun{ID: "run-1", TermID: "term-1", Status: models.RunStatusRunning}

	_, err := svc.SaveResult(context.Background(), dto.SaveTimetableRequest{RunID: "run-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))

	_, err = svc.SaveResult(context.Background(), dto.SaveTimetableRequest{RunID: "missing"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestTimetableServiceSaveResultRequiresSchedule(t *testing.T) {
	svc, _, _, runs, _ := newTimetableServiceForTest(t)
	payload, err := json.Marshal(models.RunResult{Method: "gemini"})
	require.NoError(t, err)
	runs.runs["run-1"] = &models.OptimizationRun{
		ID:     "run-1",
		TermID: "term-1",
		Status: models.RunStatusFinished,
		Result: types.JSONText(payload),
	}

	_, err = svc.SaveResult(context.Background(), dto.SaveTimetableRequest{RunID: "run-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestTimetableServiceSaveResultRollsBackOnInsertFailure(t *testing.T) {
	svc, timetables, sessions, runs, mock := newTimetableServiceForTest(t)
	seedFinishedRun(t, runs, "run-1", []optimizer.Assignment{
		{EntityID: "theory_a1_0", Day: "Monday", Time: "09:00", Duration: 1},
	})
	sessions.insertErr = fmt.Errorf("insert failed")
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.SaveResult(context.Background(), dto.SaveTimetableRequest{RunID: "run-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
	assert.Len(t, timetables.timetables, 1, "stub keeps the row; the real rollback discards it")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableServiceListRequiresTerm(t *testing.T) {
	svc, timetables, _, _, _ := newTimetableServiceForTest(t)
	timetables.timetables["tt-1"] = &models.Timetable{ID: "tt-1", TermID: "term-1", Version: 1}

	_, err := svc.List(context.Background(), "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	out, err := svc.List(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestTimetableServiceSessionsCaching(t *testing.T) {
	timetables := newTimetableStoreStub()
	timetables.timetables["tt-1"] = &models.Timetable{ID: "tt-1", TermID: "term-1", Version: 1, Status: models.TimetableStatusFinalized}
	sessions := &sessionStoreStub{details: sampleSessionDetails("tt-1")}
	cache, cacheRepo := newTestCache()
	tx, _ := newTxProviderMock(t)
	svc := NewTimetableService(timetables, sessions, newRunStoreStub(), termStoreStub{}, roomStoreStub{}, tx, cache, export.NewCSVExporter(), nil, zap.NewNop())

	out, err := svc.Sessions(context.Background(), "tt-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "CS101", out[0].SubjectCode)
	assert.Contains(t, cacheRepo.entries, timetableSessionsCacheKey("tt-1"))

	// Cached payload survives the store losing its rows.
	sessions.details = nil
	out, err = svc.Sessions(context.Background(), "tt-1")
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestTimetableServiceSessionsUnknownTimetable(t *testing.T) {
	svc, _, _, _, _ := newTimetableServiceForTest(t)

	_, err := svc.Sessions(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestTimetableServiceExportCSV(t *testing.T) {
	svc, timetables, sessions, _, _ := newTimetableServiceForTest(t)
	timetables.timetables["tt-1"] = &models.Timetable{ID: "tt-1", TermID: "term-1", Version: 3, Status: models.TimetableStatusFinalized}
	sessions.details = sampleSessionDetails("tt-1")

	payload, filename, err := svc.ExportCSV(context.Background(), "tt-1")
	require.NoError(t, err)
	assert.Equal(t, "timetable_term-1_v3.csv", filename)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Day,Time,Subject Code,Subject,Faculty,Batch,Room,Type,Duration", lines[0])
	assert.Equal(t, "Monday,09:00,CS101,Data Structures,Dr. Rao,CSE-A,Room 101,theory,1", lines[1])
}

func TestTimetableServiceDeleteDraftOnly(t *testing.T) {
	svc, timetables, sessions, _, mock := newTimetableServiceForTest(t)
	timetables.timetables["tt-1"] = &models.Timetable{ID: "tt-1", TermID: "term-1", Status: models.TimetableStatusFinalized}
	timetables.timetables["tt-2"] = &models.Timetable{ID: "tt-2", TermID: "term-1", Status: models.TimetableStatusDraft}

	err := svc.Delete(context.Background(), "tt-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrFinalized))

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, svc.Delete(context.Background(), "tt-2"))
	assert.NotContains(t, timetables.timetables, "tt-2")
	assert.Equal(t, []string{"tt-2"}, sessions.deleted)
	require.NoError(t, mock.ExpectationsWereMet())

	err = svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func sampleSessionDetails(timetableID string) []models.TimetableSessionDetail {
	return []models.TimetableSessionDetail{
		{
			TimetableSession: models.TimetableSession{
				ID:          "ts-1",
				TimetableID: timetableID,
				EntityID:    "theory_a1_0",
				SubjectID:   "sub-1",
				BatchID:     "batch-1",
				FacultyID:   "fac-1",
				RoomID:      "room-1",
				Day:         "Monday",
				DayIndex:    0,
				TimeSlot:    "09:00",
				SlotIndex:   0,
				Duration:    1,
				SessionType: optimizer.SessionTheory,
			},
			SubjectCode: "CS101",
			SubjectName: "Data Structures",
			FacultyName: "Dr. Rao",
			BatchName:   "CSE-A",
			RoomName:    "Room 101",
		},
	}
}

func TestAssembleSessionsRoomFallbacks(t *testing.T) {
	result := models.RunResult{
		Schedule: []optimizer.Assignment{
			{EntityID: "lab_no_pref", Day: "Monday", Time: "09:00"},
			{EntityID: "lab_oversized", Day: "Monday", Time: "10:00"},
			{EntityID: "theory_oversized", Day: "Tuesday", Time: "09:00"},
			{EntityID: "ghost", Day: "Tuesday", Time: "10:00"},
		},
		Entities: []optimizer.Entity{
			{ID: "lab_no_pref", RequiresLab: true, CapacityNeeded: 20, Duration: 2},
			{ID: "lab_oversized", RequiresLab: true, CapacityNeeded: 500, Duration: 2},
			{ID: "theory_oversized", CapacityNeeded: 500},
		},
		Days:      []string{"Monday", "Tuesday"},
		TimeSlots: []string{"09:00", "10:00"},
	}

	sessions, skipped := assembleSessions(result, testRooms())
	assert.Equal(t, 1, skipped, "assignment without a known entity is dropped")
	require.Len(t, sessions, 3)
	assert.Equal(t, "room-2", sessions[0].RoomID, "capacity-fit lab")
	assert.Equal(t, "room-2", sessions[1].RoomID, "oversized lab still takes the first lab")
	assert.Equal(t, "room-1", sessions[2].RoomID, "oversized theory still takes the first classroom")
	assert.Equal(t, 1, sessions[2].Duration, "missing durations default to a single slot")
}

func TestAssembleSessionsNoUsableRoom(t *testing.T) {
	result := models.RunResult{
		Schedule: []optimizer.Assignment{{EntityID: "lab_a", Day: "Monday", Time: "09:00"}},
		Entities: []optimizer.Entity{{ID: "lab_a", RequiresLab: true}},
		Days:     []string{"Monday"},
	}
	classroomsOnly := []models.Room{{ID: "room-1", Name: "Room 101", Type: models.RoomTypeClassroom, Capacity: 60}}

	sessions, skipped := assembleSessions(result, classroomsOnly)
	assert.Empty(t, sessions)
	assert.Equal(t, 1, skipped)
}
