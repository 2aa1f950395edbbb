package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samurai315/themis/internal/models"
	"github.com/Samurai315/themis/internal/optimizer"
	appErrors "github.com/Samurai315/themis/pkg/errors"
)

type allocationStoreStub struct {
	details []models.AllocationDetail
	err     error
}

func (a allocationStoreStub) ListDetailsByTerm(ctx context.Context, termID string) ([]models.AllocationDetail, error) {
	return a.details, a.err
}

type facultyStoreStub struct {
	faculty []models.Faculty
	err     error
}

func (f facultyStoreStub) ListByIDs(ctx context.Context, ids []string) ([]models.Faculty, error) {
	return f.faculty, f.err
}

type roomStoreStub struct {
	rooms []models.Room
	err   error
}

func (r roomStoreStub) ListByInstitution(ctx context.Context, institutionID string) ([]models.Room, error) {
	return r.rooms, r.err
}

type institutionStoreStub struct {
	institution *models.Institution
	err         error
}

func (i institutionStoreStub) GetByID(ctx context.Context, id string) (*models.Institution, error) {
	if i.err != nil {
		return nil, i.err
	}
	return i.institution, nil
}

func testTerm() *models.Term {
	return &models.Term{ID: "term-1", InstitutionID: "inst-1", Name: "Odd 2025"}
}

func testAllocation(id string, theory, lab int) models.AllocationDetail {
	detail := models.AllocationDetail{
		SubjectAllocation: models.SubjectAllocation{
			ID:        id,
			TermID:    "term-1",
			SubjectID: "sub-" + id,
			FacultyID: "fac-1",
			BatchID:   "batch-1",
		},
		SubjectCode:  "CS101",
		SubjectName:  "Data Structures",
		TheoryHours:  theory,
		LabHours:     lab,
		FacultyName:  "Dr. Rao",
		BatchName:    "CSE-A",
		StudentCount: 55,
	}
	return detail
}

func testRooms() []models.Room {
	return []models.Room{
		{ID: "room-1", Name: "Room 101", Type: models.RoomTypeClassroom, Capacity: 60},
		{ID: "room-2", Name: "Lab A", Type: models.RoomTypeLab, Capacity: 30},
	}
}

func defaultDatasetParams() models.OptimizationRunParams {
	return models.OptimizationRunParams{
		TermID:          "term-1",
		Method:          "genetic",
		BalanceLoad:     true,
		MinimizeGaps:    true,
		PreferredTimes:  true,
		ConsecutiveLabs: true,
	}
}

func TestDatasetServiceBuildExpandsAllocations(t *testing.T) {
	alloc := testAllocation("a1", 2, 4)
	labID := "room-2"
	alloc.PreferredLabID = &labID

	svc := NewDatasetService(
		allocationStoreStub{details: []models.AllocationDetail{alloc}},
		facultyStoreStub{faculty: []models.Faculty{{
			ID:               "fac-1",
			Name:             "Dr. Rao",
			UnavailableSlots: types.JSONText(`[{"day":"Monday","time":"09:00"}]`),
			PreferredSlots:   types.JSONText(`[{"day":"Tuesday","time":"10:00"}]`),
		}}},
		roomStoreStub{rooms: testRooms()},
		institutionStoreStub{institution: &models.Institution{
			ID:          "inst-1",
			WorkingDays: types.JSONText(`["Monday","Tuesday","Wednesday"]`),
			TimeSlots:   types.JSONText(`["09:00","10:00","11:00","12:00"]`),
		}},
		zap.NewNop(),
	)

	dataset, err := svc.Build(context.Background(), testTerm(), defaultDatasetParams())
	require.NoError(t, err)

	// 2 theory hours + 4 lab hours split into 2 sessions of 2.
	require.Len(t, dataset.Entities, 4)
	assert.Equal(t, "theory_a1_0", dataset.Entities[0].ID)
	assert.Equal(t, "Data Structures - Lecture 1", dataset.Entities[0].Name)
	assert.Equal(t, 1, dataset.Entities[0].Duration)
	assert.Equal(t, 55, dataset.Entities[0].CapacityNeeded)
	assert.Equal(t, "theory_a1_1", dataset.Entities[1].ID)

	lab := dataset.Entities[2]
	assert.Equal(t, "lab_a1_0", lab.ID)
	assert.Equal(t, "Data Structures - Lab Session 1", lab.Name)
	assert.Equal(t, 2, lab.Duration)
	assert.True(t, lab.RequiresLab)
	assert.Equal(t, "room-2", lab.PreferredLabID)

	assert.Equal(t, []string{"Monday", "Tuesday", "Wednesday"}, dataset.Config.Days)
	assert.Equal(t, []string{"09:00", "10:00", "11:00", "12:00"}, dataset.Config.TimeSlots)
	assert.Equal(t, []string{"Room 101", "Lab A"}, dataset.Config.Rooms)
	assert.Equal(t, 30, dataset.Config.RoomCapacities["Lab A"])

	byType := map[optimizer.ConstraintType]int{}
	for _, c := range dataset.Constraints {
		byType[c.Type]++
	}
	assert.Equal(t, 1, byType[optimizer.ConstraintNoOverlap])
	assert.Equal(t, 1, byType[optimizer.ConstraintRoomCapacity])
	assert.Equal(t, 4, byType[optimizer.ConstraintAvailability], "one per entity of the blocked faculty")
	assert.Equal(t, 4, byType[optimizer.ConstraintPreferredTime])
	assert.Equal(t, 1, byType[optimizer.ConstraintBalancedDistribution])
	assert.Equal(t, 1, byType[optimizer.ConstraintMinimizeGaps])
	assert.Equal(t, 2, byType[optimizer.ConstraintConsecutiveSlots], "both lab sessions run two hours")

	for _, c := range dataset.Constraints {
		if c.Type == optimizer.ConstraintAvailability {
			assert.True(t, c.Hard)
			assert.Equal(t, []string{"Monday_09:00"}, c.UnavailableSlots)
		}
		if c.Type == optimizer.ConstraintPreferredTime {
			assert.False(t, c.Hard)
			assert.Equal(t, []string{"Tuesday_10:00"}, c.PreferredSlots)
		}
	}
}

func TestDatasetServiceBuildTogglesOff(t *testing.T) {
	params := defaultDatasetParams()
	params.BalanceLoad = false
	params.MinimizeGaps = false
	params.PreferredTimes = false
	params.ConsecutiveLabs = false

	svc := NewDatasetService(
		allocationStoreStub{details: []models.AllocationDetail{testAllocation("a1", 1, 4)}},
		facultyStoreStub{faculty: []models.Faculty{{
			ID:             "fac-1",
			Name:           "Dr. Rao",
			PreferredSlots: types.JSONText(`[{"day":"Tuesday","time":"10:00"}]`),
		}}},
		roomStoreStub{rooms: testRooms()},
		institutionStoreStub{institution: &models.Institution{ID: "inst-1"}},
		zap.NewNop(),
	)

	dataset, err := svc.Build(context.Background(), testTerm(), params)
	require.NoError(t, err)

	for _, c := range dataset.Constraints {
		switch c.Type {
		case optimizer.ConstraintNoOverlap, optimizer.ConstraintRoomCapacity:
		default:
			t.Fatalf("unexpected constraint %s with all toggles off", c.Type)
		}
	}
}

func TestDatasetServiceBuildLabSessionSplit(t *testing.T) {
	svc := NewDatasetService(
		allocationStoreStub{details: []models.AllocationDetail{
			testAllocation("short", 0, 3),
			testAllocation("long", 0, 6),
		}},
		facultyStoreStub{},
		roomStoreStub{rooms: testRooms()},
		institutionStoreStub{institution: &models.Institution{ID: "inst-1"}},
		zap.NewNop(),
	)

	dataset, err := svc.Build(context.Background(), testTerm(), defaultDatasetParams())
	require.NoError(t, err)

	// Three hours fit one session; six hours split into two of three.
	require.Len(t, dataset.Entities, 3)
	assert.Equal(t, "lab_short_0", dataset.Entities[0].ID)
	assert.Equal(t, 3, dataset.Entities[0].Duration)
	assert.Equal(t, "lab_long_0", dataset.Entities[1].ID)
	assert.Equal(t, 3, dataset.Entities[1].Duration)
	assert.Equal(t, "lab_long_1", dataset.Entities[2].ID)
}

func TestDatasetServiceBuildRequiresAllocations(t *testing.T) {
	svc := NewDatasetService(
		allocationStoreStub{},
		facultyStoreStub{},
		roomStoreStub{rooms: testRooms()},
		institutionStoreStub{institution: &models.Institution{ID: "inst-1"}},
		zap.NewNop(),
	)

	_, err := svc.Build(context.Background(), testTerm(), defaultDatasetParams())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestDatasetServiceBuildRequiresRooms(t *testing.T) {
	svc := NewDatasetService(
		allocationStoreStub{details: []models.AllocationDetail{testAllocation("a1", 1, 0)}},
		facultyStoreStub{},
		roomStoreStub{},
		institutionStoreStub{institution: &models.Institution{ID: "inst-1"}},
		zap.NewNop(),
	)

	_, err := svc.Build(context.Background(), testTerm(), defaultDatasetParams())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestDatasetServiceBuildRejectsGridOverflow(t *testing.T) {
	params := defaultDatasetParams()
	params.Days = []string{"Monday"}
	params.TimeSlots = []string{"09:00"}

	svc := NewDatasetService(
		allocationStoreStub{details: []models.AllocationDetail{testAllocation("a1", 2, 0)}},
		facultyStoreStub{},
		roomStoreStub{rooms: testRooms()},
		institutionStoreStub{institution: &models.Institution{ID: "inst-1"}},
		zap.NewNop(),
	)

	_, err := svc.Build(context.Background(), testTerm(), params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need 2 weekly slots but only 1 available")
}

func TestDatasetServiceBuildGridFallsBackToDefaults(t *testing.T) {
	svc := NewDatasetService(
		allocationStoreStub{details: []models.AllocationDetail{testAllocation("a1", 1, 0)}},
		facultyStoreStub{},
		roomStoreStub{rooms: testRooms()},
		institutionStoreStub{institution: &models.Institution{
			ID:          "inst-1",
			WorkingDays: types.JSONText(`not json`),
		}},
		zap.NewNop(),
	)

	dataset, err := svc.Build(context.Background(), testTerm(), defaultDatasetParams())
	require.NoError(t, err)
	assert.Len(t, dataset.Config.Days, 6)
	assert.Len(t, dataset.Config.TimeSlots, 8)
}

func TestDatasetServiceBuildAppliesOverrides(t *testing.T) {
	params := defaultDatasetParams()
	params.PopulationSize = 40
	params.Generations = 25
	params.MutationStrategy = "shift"
	params.FitnessMethod = "penalty_based"
	params.Seed = 42

	svc := NewDatasetService(
		allocationStoreStub{details: []models.AllocationDetail{testAllocation("a1", 1, 0)}},
		facultyStoreStub{},
		roomStoreStub{rooms: testRooms()},
		institutionStoreStub{institution: &models.Institution{ID: "inst-1"}},
		zap.NewNop(),
	)

	dataset, err := svc.Build(context.Background(), testTerm(), params)
	require.NoError(t, err)
	assert.Equal(t, 40, dataset.Config.PopulationSize)
	assert.Equal(t, 25, dataset.Config.Generations)
	assert.Equal(t, optimizer.MutationShift, dataset.Config.MutationStrategy)
	assert.Equal(t, optimizer.FitnessPenaltyBased, dataset.Config.FitnessMethod)
	assert.Equal(t, int64(42), dataset.Config.Seed)
}

func TestDatasetServiceBuildPropagatesStoreErrors(t *testing.T) {
	svc := NewDatasetService(
		allocationStoreStub{err: errors.New("db down")},
		facultyStoreStub{},
		roomStoreStub{},
		institutionStoreStub{},
		zap.NewNop(),
	)

	_, err := svc.Build(context.Background(), testTerm(), defaultDatasetParams())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
}
