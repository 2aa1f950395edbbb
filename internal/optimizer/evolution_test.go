package optimizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/Samurai315/themis/pkg/errors"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Days = []string{"Monday", "Tuesday"}
	cfg.TimeSlots = []string{"09:00", "10:00", "11:00"}
	cfg.Rooms = []string{"R101", "R102"}
	cfg.PopulationSize = 20
	cfg.Generations = 10
	cfg.Seed = 42
	cfg.EvalWorkers = 2
	return cfg
}

func TestNewEngineRejectsEmptyResources(t *testing.T) {
	cfg := smallConfig()
	cfg.Rooms = nil

	_, err := NewEngine([]Entity{{ID: "a"}}, nil, cfg, nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConfiguration))
}

func TestNewEngineRejectsEmptyEntities(t *testing.T) {
	_, err := NewEngine(nil, nil, smallConfig(), nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConfiguration))
}

func TestEvolvePreservesPositionalEntities(t *testing.T) {
	entities := []Entity{{ID: "e1"}, {ID: "e2"}, {ID: "e3"}, {ID: "e4"}}
	constraints := []Constraint{{Type: ConstraintNoOverlap, Hard: true, Weight: 100}}

	for _, strategy := range []MutationStrategy{MutationSwap, MutationShift, MutationRandom} {
		cfg := smallConfig()
		cfg.MutationStrategy = strategy
		cfg.MutationProb = 1.0

		engine, err := NewEngine(entities, constraints, cfg, nil)
		require.NoError(t, err)

		result, err := engine.Evolve(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, result.Schedule, len(entities), "strategy %s", strategy)
		for i, gene := range result.Schedule {
			assert.Equal(t, entities[i].ID, gene.EntityID, "strategy %s position %d", strategy, i)
		}
	}
}

func TestEvolveHallOfFameMonotone(t *testing.T) {
	entities := make([]Entity, 8)
	for i := range entities {
		entities[i] = Entity{ID: string(rune('a' + i))}
	}
	constraints := []Constraint{
		{Type: ConstraintNoOverlap, Hard: true, Weight: 100},
		{Type: ConstraintMinimizeGaps, Weight: 10},
	}

	engine, err := NewEngine(entities, constraints, smallConfig(), nil)
	require.NoError(t, err)

	var bests []float64
	result, err := engine.Evolve(context.Background(), func(gen int, best, avg, std float64, msg string) bool {
		bests = append(bests, best)
		return true
	})
	require.NoError(t, err)
	require.NotEmpty(t, bests)

	running := bests[0]
	for _, b := range bests {
		if b > running {
			running = b
		}
	}
	require.NotNil(t, result.Fitness)
	assert.InDelta(t, running, *result.Fitness, 1e-9, "hall of fame must track the best fitness ever seen")

	for i := range result.History {
		assert.Equal(t, i, result.History[i].Generation)
	}
}

func TestEvolveUnavoidableOverlap(t *testing.T) {
	// one slot, two entities: exactly one overlap is forced everywhere
	entities := []Entity{{ID: "e1", Duration: 1}, {ID: "e2", Duration: 1}}
	constraints := []Constraint{{Type: ConstraintNoOverlap, Hard: true, Weight: 100}}
	cfg := DefaultConfig()
	cfg.Days = []string{"Monday"}
	cfg.TimeSlots = []string{"09:00"}
	cfg.Rooms = []string{"R1"}
	cfg.PopulationSize = 10
	cfg.Generations = 5
	cfg.Seed = 7

	engine, err := NewEngine(entities, constraints, cfg, nil)
	require.NoError(t, err)

	result, err := engine.Evolve(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, result.Fitness)
	assert.InDelta(t, 900.0, *result.Fitness, 1e-9)
	assert.Len(t, result.History, 5)
}

func TestEvolveEarlyStop(t *testing.T) {
	entities := []Entity{{ID: "only"}}

	engine, err := NewEngine(entities, nil, smallConfig(), nil)
	require.NoError(t, err)

	result, err := engine.Evolve(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, result.Fitness)
	assert.InDelta(t, MaxFitness, *result.Fitness, 1e-9)
	assert.Len(t, result.History, 1, "a perfect generation stops the loop")
}

func TestEvolveProgressCancellation(t *testing.T) {
	entities := []Entity{{ID: "e1"}, {ID: "e2"}, {ID: "e3"}}
	constraints := []Constraint{{Type: ConstraintNoOverlap, Hard: true, Weight: 100}}
	cfg := smallConfig()
	cfg.Days = []string{"Monday"}
	cfg.TimeSlots = []string{"09:00"}
	cfg.Rooms = []string{"R1"}

	engine, err := NewEngine(entities, constraints, cfg, nil)
	require.NoError(t, err)

	calls := 0
	result, err := engine.Evolve(context.Background(), func(gen int, best, avg, std float64, msg string) bool {
		calls++
		return gen < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "cancel lands at the generation boundary after gen 2")
	assert.Len(t, result.History, 3)
	require.NotNil(t, result.Fitness, "cancelled runs still return the hall of fame")
	require.Len(t, result.Schedule, len(entities))
}

func TestEvolveContextCancellation(t *testing.T) {
	entities := []Entity{{ID: "e1"}, {ID: "e2"}, {ID: "e3"}}
	constraints := []Constraint{{Type: ConstraintNoOverlap, Hard: true, Weight: 100}}
	cfg := smallConfig()
	cfg.Days = []string{"Monday"}
	cfg.TimeSlots = []string{"09:00"}
	cfg.Rooms = []string{"R1"}

	engine, err := NewEngine(entities, constraints, cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Evolve(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, result.History, 1, "first generation completes, then the cancel is observed")
	require.Len(t, result.Schedule, len(entities))
}

func TestShiftMutationChangesAtMostOneField(t *testing.T) {
	entities := []Entity{{ID: "e1"}, {ID: "e2"}, {ID: "e3"}}
	cfg := smallConfig()
	cfg.MutationStrategy = MutationShift

	engine, err := NewEngine(entities, nil, cfg, nil)
	require.NoError(t, err)

	changedSomething := false
	for trial := 0; trial < 100; trial++ {
		ind := engine.factory.NewIndividual()
		before := ind.Clone()

		engine.mutateShift(&ind)

		for i := range ind.Genes {
			prev, next := before.Genes[i], ind.Genes[i]
			assert.Equal(t, prev.EntityID, next.EntityID)
			assert.Equal(t, prev.Duration, next.Duration)

			changed := 0
			if prev.Day != next.Day {
				changed++
			}
			if prev.Time != next.Time {
				changed++
			}
			if prev.Room != next.Room {
				changed++
			}
			require.LessOrEqual(t, changed, 1, "shift may alter a single field on a single gene")
			if changed == 1 {
				changedSomething = true
			}
		}
	}
	assert.True(t, changedSomething, "a hundred shift draws should land at least one real change")
}

func TestSwapMutationKeepsEntityIDsInPlace(t *testing.T) {
	entities := []Entity{{ID: "e1"}, {ID: "e2"}, {ID: "e3"}, {ID: "e4"}}
	cfg := smallConfig()
	cfg.MutationStrategy = MutationSwap

	engine, err := NewEngine(entities, nil, cfg, nil)
	require.NoError(t, err)

	ind := engine.factory.NewIndividual()
	before := ind.Clone()

	engine.mutateSwap(&ind)

	swapped := 0
	for i := range ind.Genes {
		assert.Equal(t, before.Genes[i].EntityID, ind.Genes[i].EntityID, "entity ids never move")
		if before.Genes[i] != ind.Genes[i] {
			swapped++
		}
	}
	assert.LessOrEqual(t, swapped, 2, "exactly two positions exchange placements (or none when they matched)")
}

func TestCrossoverPreservesPositionalEntities(t *testing.T) {
	entities := []Entity{{ID: "e1"}, {ID: "e2"}, {ID: "e3"}, {ID: "e4"}, {ID: "e5"}}
	engine, err := NewEngine(entities, nil, smallConfig(), nil)
	require.NoError(t, err)

	a := engine.factory.NewIndividual()
	b := engine.factory.NewIndividual()

	engine.crossoverPair(&a, &b)

	for i := range entities {
		assert.Equal(t, entities[i].ID, a.Genes[i].EntityID)
		assert.Equal(t, entities[i].ID, b.Genes[i].EntityID)
	}
}
