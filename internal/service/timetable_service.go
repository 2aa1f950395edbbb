package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/Samurai315/themis/internal/dto"
	"github.com/Samurai315/themis/internal/models"
	"github.com/Samurai315/themis/internal/optimizer"
	appErrors "github.com/Samurai315/themis/pkg/errors"
	"github.com/Samurai315/themis/pkg/export"
)

type timetableStore interface {
	CreateVersioned(ctx context.Context, exec sqlx.ExtContext, timetable *models.Timetable) error
	ListByTerm(ctx context.Context, termID string) ([]models.Timetable, error)
	FindByID(ctx context.Context, id string) (*models.Timetable, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.TimetableStatus, meta types.JSONText) error
}

type timetableSessionStore interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.TimetableSession) error
	ListDetailsByTimetable(ctx context.Context, timetableID string) ([]models.TimetableSessionDetail, error)
	DeleteByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID string) error
}

type runReader interface {
	GetByID(ctx context.Context, id string) (*models.OptimizationRun, error)
}

type termReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
}

type roomLister interface {
	ListByInstitution(ctx context.Context, institutionID string) ([]models.Room, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// TimetableService persists optimization results as versioned timetables.
type TimetableService struct {
	timetables timetableStore
	sessions   timetableSessionStore
	runs       runReader
	terms      termReader
	rooms      roomLister
	tx         txProvider
	cache      *CacheService
	exporter   csvRenderer
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewTimetableService wires timetable dependencies.
func NewTimetableService(
	timetables timetableStore,
	sessions timetableSessionStore,
	runs runReader,
	terms termReader,
	rooms roomLister,
	tx txProvider,
	cache *CacheService,
	exporter csvRenderer,
	validate *validator.Validate,
	logger *zap.Logger,
) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{
		timetables: timetables,
		sessions:   sessions,
		runs:       runs,
		terms:      terms,
		rooms:      rooms,
		tx:         tx,
		cache:      cache,
		exporter:   exporter,
		validator:  validate,
		logger:     logger,
	}
}

// SaveResult maps a finished run's schedule onto concrete rooms and stores
// it as the next timetable version for the term. The timetable lands
// FINALIZED when the saved sessions are conflict-free, DRAFT otherwise.
func (s *TimetableService) SaveResult(ctx context.Context, req dto.SaveTimetableRequest) (*dto.SaveTimetableResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid save timetable payload")
	}
	run, err := s.runs.GetByID(ctx, req.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "optimization run not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load optimization run")
	}
	if run.Status != models.RunStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "run has not finished")
	}
	if len(run.Result) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "run has no stored result")
	}
	var result models.RunResult
	if err := json.Unmarshal(run.Result, &result); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode run result")
	}
	if len(result.Schedule) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "run result contains no schedule")
	}

	term, err := s.terms.FindByID(ctx, run.TermID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	rooms, err := s.rooms.ListByInstitution(ctx, term.InstitutionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
	}
	if len(rooms) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no rooms configured for institution")
	}

	sessions, skipped := assembleSessions(result, rooms)
	conflicts := detectConflicts(sessions)
	status := models.TimetableStatusFinalized
	if len(conflicts) > 0 {
		status = models.TimetableStatusDraft
	}

	meta := models.TimetableMeta{
		Method:          result.Method,
		Fitness:         result.Fitness,
		SessionsCreated: len(sessions),
		SessionsSkipped: skipped,
		Conflicts:       conflicts,
	}
	metaBytes, marshalErr := json.Marshal(meta)
	if marshalErr != nil {
		return nil, appErrors.Wrap(marshalErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode timetable metadata")
	}

	// A term keeps at most one finalized timetable; the newest supersedes.
	var supersede []string
	if status == models.TimetableStatusFinalized {
		existing, listErr := s.timetables.ListByTerm(ctx, run.TermID)
		if listErr != nil {
			return nil, appErrors.Wrap(listErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list existing timetables")
		}
		for _, t := range existing {
			if t.Status == models.TimetableStatusFinalized {
				supersede = append(supersede, t.ID)
			}
		}
	}

	runID := run.ID
	record := &models.Timetable{
		TermID: run.TermID,
		RunID:  &runID,
		Status: status,
		Meta:   types.JSONText(metaBytes),
	}

	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.timetables.CreateVersioned(ctx, tx, record); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create timetable")
		return nil, err
	}
	for i := range sessions {
		sessions[i].TimetableID = record.ID
	}
	if err = s.sessions.InsertBatch(ctx, tx, sessions); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist timetable sessions")
		return nil, err
	}
	for _, id := range supersede {
		if err = s.timetables.UpdateStatus(ctx, tx, id, models.TimetableStatusArchived, nil); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive superseded timetable")
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit timetable transaction")
		return nil, err
	}

	s.logger.Info("timetable saved",
		zap.String("timetable_id", record.ID),
		zap.String("term_id", record.TermID),
		zap.Int("version", record.Version),
		zap.String("status", string(record.Status)),
		zap.Int("sessions", len(sessions)),
		zap.Int("skipped", skipped),
		zap.Int("conflicts", len(conflicts)),
	)
	return &dto.SaveTimetableResponse{
		Timetable:       *record,
		SessionsCreated: len(sessions),
		SessionsSkipped: skipped,
		Conflicts:       conflicts,
	}, nil
}

// List returns stored timetable versions for a term, newest first.
func (s *TimetableService) List(ctx context.Context, termID string) ([]models.Timetable, error) {
	if termID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "termId is required")
	}
	timetables, err := s.timetables.ListByTerm(ctx, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetables")
	}
	return timetables, nil
}

// Sessions returns a timetable's sessions with display names, in weekly
// grid order. Stored sessions are immutable, so the payload caches well.
func (s *TimetableService) Sessions(ctx context.Context, id string) ([]models.TimetableSessionDetail, error) {
	if s.cache != nil {
		var cached []models.TimetableSessionDetail
		if hit, err := s.cache.Get(ctx, timetableSessionsCacheKey(id), &cached); err == nil && hit {
			return cached, nil
		}
	}
	if _, err := s.loadTimetable(ctx, id); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListDetailsByTimetable(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable sessions")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, timetableSessionsCacheKey(id), sessions, 0)
	}
	return sessions, nil
}

// ExportCSV renders a timetable as CSV and returns the payload with a
// suggested filename.
func (s *TimetableService) ExportCSV(ctx context.Context, id string) ([]byte, string, error) {
	timetable, err := s.loadTimetable(ctx, id)
	if err != nil {
		return nil, "", err
	}
	sessions, err := s.Sessions(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data := export.Dataset{
		Headers: []string{"Day", "Time", "Subject Code", "Subject", "Faculty", "Batch", "Room", "Type", "Duration"},
		Rows:    make([][]string, 0, len(sessions)),
	}
	for _, session := range sessions {
		data.Rows = append(data.Rows, []string{
			session.Day,
			session.TimeSlot,
			session.SubjectCode,
			session.SubjectName,
			session.FacultyName,
			session.BatchName,
			session.RoomName,
			session.SessionType,
			strconv.Itoa(session.Duration),
		})
	}
	payload, err := s.exporter.Render(data)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable csv")
	}
	filename := fmt.Sprintf("timetable_%s_v%d.csv", timetable.TermID, timetable.Version)
	return payload, filename, nil
}

// Delete removes a draft timetable and its sessions.
func (s *TimetableService) Delete(ctx context.Context, id string) error {
	timetable, err := s.loadTimetable(ctx, id)
	if err != nil {
		return err
	}
	if timetable.Status != models.TimetableStatusDraft {
		return appErrors.Clone(appErrors.ErrFinalized, "only draft timetables can be deleted")
	}
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.sessions.DeleteByTimetable(ctx, tx, id); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete timetable sessions")
		return err
	}
	if err = s.timetables.Delete(ctx, tx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
			return err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete timetable")
		return err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit timetable delete")
		return err
	}

	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, timetableSessionsCachePattern(id))
	}
	s.logger.Info("timetable deleted", zap.String("timetable_id", id))
	return nil
}

func (s *TimetableService) loadTimetable(ctx context.Context, id string) (*models.Timetable, error) {
	timetable, err := s.timetables.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	return timetable, nil
}

// assembleSessions re-maps engine room choices onto concrete rooms the way
// the save flow always has: lab entities take their designated lab when it
// exists, else the first lab with enough seats, else any lab; theory
// entities take the first classroom with enough seats, else any classroom.
// Entities with no usable room are skipped. Occupancy is not tracked here;
// overlaps surface as conflicts on the stored timetable.
func assembleSessions(result models.RunResult, rooms []models.Room) ([]models.TimetableSession, int) {
	planner := newRoomPlanner(rooms)

	entities := make(map[string]optimizer.Entity, len(result.Entities))
	for _, ent := range result.Entities {
		entities[ent.ID] = ent
	}
	dayIndex := make(map[string]int, len(result.Days))
	for i, day := range result.Days {
		dayIndex[day] = i
	}
	slotIndex := make(map[string]int, len(result.TimeSlots))
	for i, slot := range result.TimeSlots {
		slotIndex[slot] = i
	}

	sessions := make([]models.TimetableSession, 0, len(result.Schedule))
	skipped := 0
	for _, assignment := range result.Schedule {
		ent, ok := entities[assignment.EntityID]
		if !ok {
			skipped++
			continue
		}
		room, ok := planner.pick(ent)
		if !ok {
			skipped++
			continue
		}
		duration := assignment.Duration
		if duration <= 0 {
			duration = ent.Duration
		}
		if duration <= 0 {
			duration = 1
		}
		sessions = append(sessions, models.TimetableSession{
			EntityID:    assignment.EntityID,
			SubjectID:   ent.SubjectID,
			BatchID:     ent.BatchID,
			FacultyID:   ent.FacultyID,
			RoomID:      room.ID,
			Day:         assignment.Day,
			DayIndex:    dayIndex[assignment.Day],
			TimeSlot:    assignment.Time,
			SlotIndex:   slotIndex[assignment.Time],
			Duration:    duration,
			SessionType: ent.SessionType,
		})
	}
	return sessions, skipped
}

type roomPlanner struct {
	labs       []models.Room
	classrooms []models.Room
	byID       map[string]models.Room
}

func newRoomPlanner(rooms []models.Room) *roomPlanner {
	planner := &roomPlanner{byID: make(map[string]models.Room, len(rooms))}
	for _, room := range rooms {
		planner.byID[room.ID] = room
		if room.Type == models.RoomTypeLab {
			planner.labs = append(planner.labs, room)
		} else {
			planner.classrooms = append(planner.classrooms, room)
		}
	}
	return planner
}

func (p *roomPlanner) pick(ent optimizer.Entity) (models.Room, bool) {
	if ent.RequiresLab {
		if ent.PreferredLabID != "" {
			if room, ok := p.byID[ent.PreferredLabID]; ok && room.Type == models.RoomTypeLab {
				return room, true
			}
		}
		for _, room := range p.labs {
			if room.Capacity >= ent.CapacityNeeded {
				return room, true
			}
		}
		if len(p.labs) > 0 {
			return p.labs[0], true
		}
		return models.Room{}, false
	}
	for _, room := range p.classrooms {
		if room.Capacity >= ent.CapacityNeeded {
			return room, true
		}
	}
	if len(p.classrooms) > 0 {
		return p.classrooms[0], true
	}
	return models.Room{}, false
}

// detectConflicts scans the faculty, room and batch dimensions for
// sessions sharing one grid slot. Slots are compared exactly; multi-hour
// overhang is not expanded.
func detectConflicts(sessions []models.TimetableSession) []models.SessionConflict {
	type groupKey struct {
		dimension string
		resource  string
		day       string
		timeSlot  string
	}
	groups := make(map[groupKey][]string)
	for _, session := range sessions {
		refs := [...]struct{ dimension, resource string }{
			{"faculty", session.FacultyID},
			{"room", session.RoomID},
			{"batch", session.BatchID},
		}
		for _, ref := range refs {
			if ref.resource == "" {
				continue
			}
			key := groupKey{dimension: ref.dimension, resource: ref.resource, day: session.Day, timeSlot: session.TimeSlot}
			groups[key] = append(groups[key], session.EntityID)
		}
	}

	var conflicts []models.SessionConflict
	for key, entityIDs := range groups {
		if len(entityIDs) < 2 {
			continue
		}
		sort.Strings(entityIDs)
		conflicts = append(conflicts, models.SessionConflict{
			Dimension:  key.dimension,
			ResourceID: key.resource,
			Day:        key.day,
			TimeSlot:   key.timeSlot,
			EntityIDs:  entityIDs,
		})
	}
	sort.Slice(conflicts, func(i, j int) bool {
		a, b := conflicts[i], conflicts[j]
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.TimeSlot < b.TimeSlot
	})
	return conflicts
}
