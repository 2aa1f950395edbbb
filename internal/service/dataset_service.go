package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/Samurai315/themis/internal/models"
	"github.com/Samurai315/themis/internal/optimizer"
	appErrors "github.com/Samurai315/themis/pkg/errors"
)

// Grid defaults used when neither the request nor the institution profile
// provides working days and time slots.
var (
	defaultWorkingDays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	defaultTimeSlots   = []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00"}
)

type allocationStore interface {
	ListDetailsByTerm(ctx context.Context, termID string) ([]models.AllocationDetail, error)
}

type facultyStore interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Faculty, error)
}

type roomStore interface {
	ListByInstitution(ctx context.Context, institutionID string) ([]models.Room, error)
}

type institutionStore interface {
	GetByID(ctx context.Context, id string) (*models.Institution, error)
}

// Dataset bundles everything one optimization run consumes.
type Dataset struct {
	Entities    []optimizer.Entity
	Constraints []optimizer.Constraint
	Config      optimizer.Config
	Rooms       []models.Room
}

// DatasetService expands term allocations into optimization entities,
// constraints and engine configuration.
type DatasetService struct {
	allocations  allocationStore
	faculty      facultyStore
	rooms        roomStore
	institutions institutionStore
	logger       *zap.Logger
}

// NewDatasetService constructs the dataset service.
func NewDatasetService(allocations allocationStore, faculty facultyStore, rooms roomStore, institutions institutionStore, logger *zap.Logger) *DatasetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatasetService{
		allocations:  allocations,
		faculty:      faculty,
		rooms:        rooms,
		institutions: institutions,
		logger:       logger,
	}
}

// Build assembles the dataset for a term. Each allocation expands into one
// theory entity per weekly theory hour and one or two lab entities; labs up
// to three hours stay in a single session, longer ones split in two.
func (s *DatasetService) Build(ctx context.Context, term *models.Term, params models.OptimizationRunParams) (*Dataset, error) {
	allocations, err := s.allocations.ListDetailsByTerm(ctx, term.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load allocations")
	}
	if len(allocations) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no subject allocations for term")
	}

	institution, err := s.institutions.GetByID(ctx, term.InstitutionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load institution")
	}

	rooms, err := s.rooms.ListByInstitution(ctx, term.InstitutionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
	}
	if len(rooms) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no rooms configured for institution")
	}

	days := s.resolveGrid(params.Days, institution.WorkingDays, defaultWorkingDays, "working_days")
	slots := s.resolveGrid(params.TimeSlots, institution.TimeSlots, defaultTimeSlots, "time_slots")

	entities := buildEntities(allocations)
	if capacity := len(days) * len(slots); len(entities) > capacity {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("need %d weekly slots but only %d available", len(entities), capacity))
	}

	cfg := buildConfig(params, days, slots, rooms)

	constraints, err := s.buildConstraints(ctx, entities, allocations, params, cfg.Weights)
	if err != nil {
		return nil, err
	}

	s.logger.Info("dataset assembled",
		zap.String("term_id", term.ID),
		zap.Int("allocations", len(allocations)),
		zap.Int("entities", len(entities)),
		zap.Int("constraints", len(constraints)),
		zap.Int("rooms", len(rooms)))

	return &Dataset{
		Entities:    entities,
		Constraints: constraints,
		Config:      cfg,
		Rooms:       rooms,
	}, nil
}

// resolveGrid picks the request override, then the institution profile,
// then the built-in default.
func (s *DatasetService) resolveGrid(requested []string, stored types.JSONText, fallback []string, field string) []string {
	if len(requested) > 0 {
		return requested
	}
	if len(stored) > 0 {
		var values []string
		if err := json.Unmarshal(stored, &values); err != nil {
			s.logger.Warn("unreadable institution grid, using defaults",
				zap.String("field", field), zap.Error(err))
		} else if len(values) > 0 {
			return values
		}
	}
	return fallback
}

func buildEntities(allocations []models.AllocationDetail) []optimizer.Entity {
	entities := make([]optimizer.Entity, 0, len(allocations)*4)
	for _, alloc := range allocations {
		for n := 0; n < alloc.TheoryHours; n++ {
			entities = append(entities, optimizer.Entity{
				ID:             fmt.Sprintf("theory_%s_%d", alloc.ID, n),
				Name:           fmt.Sprintf("%s - Lecture %d", alloc.SubjectName, n+1),
				Duration:       1,
				CapacityNeeded: alloc.StudentCount,
				SubjectID:      alloc.SubjectID,
				BatchID:        alloc.BatchID,
				FacultyID:      alloc.FacultyID,
				SessionType:    optimizer.SessionTheory,
			})
		}
		if alloc.LabHours > 0 {
			sessions := 1
			if alloc.LabHours > 3 {
				sessions = 2
			}
			duration := alloc.LabHours / sessions
			preferredLab := ""
			if alloc.PreferredLabID != nil {
				preferredLab = *alloc.PreferredLabID
			}
			for n := 0; n < sessions; n++ {
				entities = append(entities, optimizer.Entity{
					ID:             fmt.Sprintf("lab_%s_%d", alloc.ID, n),
					Name:           fmt.Sprintf("%s - Lab Session %d", alloc.SubjectName, n+1),
					Duration:       duration,
					CapacityNeeded: alloc.StudentCount,
					RequiresLab:    true,
					PreferredLabID: preferredLab,
					SubjectID:      alloc.SubjectID,
					BatchID:        alloc.BatchID,
					FacultyID:      alloc.FacultyID,
					SessionType:    optimizer.SessionLab,
				})
			}
		}
	}
	return entities
}

func buildConfig(params models.OptimizationRunParams, days, slots []string, rooms []models.Room) optimizer.Config {
	cfg := optimizer.DefaultConfig()
	cfg.Days = days
	cfg.TimeSlots = slots
	cfg.Rooms = make([]string, 0, len(rooms))
	cfg.RoomCapacities = make(map[string]int, len(rooms))
	for _, room := range rooms {
		cfg.Rooms = append(cfg.Rooms, room.Name)
		cfg.RoomCapacities[room.Name] = room.Capacity
	}

	if params.PopulationSize > 0 {
		cfg.PopulationSize = params.PopulationSize
	}
	if params.Generations > 0 {
		cfg.Generations = params.Generations
	}
	if params.CrossoverProb > 0 {
		cfg.CrossoverProb = params.CrossoverProb
	}
	if params.MutationProb > 0 {
		cfg.MutationProb = params.MutationProb
	}
	if params.TournamentSize > 0 {
		cfg.TournamentSize = params.TournamentSize
	}
	if params.ElitismRate > 0 {
		cfg.ElitismRate = params.ElitismRate
	}
	if params.MutationStrategy != "" {
		cfg.MutationStrategy = optimizer.MutationStrategy(params.MutationStrategy)
	}
	if params.FitnessMethod != "" {
		cfg.FitnessMethod = optimizer.FitnessMethod(params.FitnessMethod)
	}
	cfg.Seed = params.Seed
	return cfg
}

func (s *DatasetService) buildConstraints(ctx context.Context, entities []optimizer.Entity, allocations []models.AllocationDetail, params models.OptimizationRunParams, weights optimizer.Weights) ([]optimizer.Constraint, error) {
	constraints := []optimizer.Constraint{
		{
			Type:        optimizer.ConstraintNoOverlap,
			Hard:        true,
			Weight:      weights.NoOverlap,
			Description: "No two sessions may occupy the same room slot",
		},
		{
			Type:        optimizer.ConstraintRoomCapacity,
			Hard:        true,
			Weight:      weights.RoomCapacity,
			Description: "Room capacity must accommodate batch size",
		},
	}

	facultyByID, err := s.loadFaculty(ctx, allocations)
	if err != nil {
		return nil, err
	}

	for _, ent := range entities {
		fac, ok := facultyByID[ent.FacultyID]
		if !ok {
			continue
		}
		if unavailable := slotKeys(fac.UnavailableSlots); len(unavailable) > 0 {
			constraints = append(constraints, optimizer.Constraint{
				Type:             optimizer.ConstraintAvailability,
				Hard:             true,
				Weight:           weights.Availability,
				EntityID:         ent.ID,
				UnavailableSlots: unavailable,
				Description:      fmt.Sprintf("%s is unavailable in blocked slots", fac.Name),
			})
		}
		if params.PreferredTimes {
			if preferred := slotKeys(fac.PreferredSlots); len(preferred) > 0 {
				constraints = append(constraints, optimizer.Constraint{
					Type:           optimizer.ConstraintPreferredTime,
					Weight:         weights.PreferredTime,
					EntityID:       ent.ID,
					PreferredSlots: preferred,
					Description:    fmt.Sprintf("Prefer %s's chosen slots", fac.Name),
				})
			}
		}
	}

	if params.BalanceLoad {
		constraints = append(constraints, optimizer.Constraint{
			Type:        optimizer.ConstraintBalancedDistribution,
			Weight:      weights.BalancedDistribution,
			Description: "Distribute classes evenly across days",
		})
	}
	if params.MinimizeGaps {
		constraints = append(constraints, optimizer.Constraint{
			Type:        optimizer.ConstraintMinimizeGaps,
			Weight:      weights.GapPenalty,
			Description: "Reduce idle time between classes",
		})
	}
	if params.ConsecutiveLabs {
		for _, ent := range entities {
			if ent.SessionType == optimizer.SessionLab && ent.Duration > 1 {
				constraints = append(constraints, optimizer.Constraint{
					Type:        optimizer.ConstraintConsecutiveSlots,
					Weight:      weights.ConsecutiveSlots,
					EntityID:    ent.ID,
					Description: "Schedule lab sessions consecutively",
				})
			}
		}
	}

	return constraints, nil
}

func (s *DatasetService) loadFaculty(ctx context.Context, allocations []models.AllocationDetail) (map[string]models.Faculty, error) {
	seen := make(map[string]struct{}, len(allocations))
	ids := make([]string, 0, len(allocations))
	for _, alloc := range allocations {
		if _, ok := seen[alloc.FacultyID]; ok {
			continue
		}
		seen[alloc.FacultyID] = struct{}{}
		ids = append(ids, alloc.FacultyID)
	}

	faculty, err := s.faculty.ListByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load faculty")
	}
	byID := make(map[string]models.Faculty, len(faculty))
	for _, f := range faculty {
		byID[f.ID] = f
	}
	return byID, nil
}

// slotKeys flattens a stored slot list into day_time keys.
func slotKeys(raw types.JSONText) []string {
	if len(raw) == 0 {
		return nil
	}
	var slots []models.FacultySlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil
	}
	keys := make([]string, 0, len(slots))
	for _, slot := range slots {
		if slot.Day == "" || slot.Time == "" {
			continue
		}
		keys = append(keys, optimizer.SlotKey(slot.Day, slot.Time))
	}
	return keys
}
