package optimizer

import (
	"fmt"
	"runtime"

	appErrors "github.com/Samurai315/themis/pkg/errors"
)

// MaxFitness is the unpenalized baseline score. A generation whose best
// individual reaches it terminates the run early.
const MaxFitness = 1000.0

// DefaultRoomCapacity applies to rooms absent from Config.RoomCapacities.
const DefaultRoomCapacity = 30

// MutationStrategy selects how mutate perturbs a genome.
type MutationStrategy string

const (
	MutationSwap   MutationStrategy = "swap"
	MutationShift  MutationStrategy = "shift"
	MutationRandom MutationStrategy = "random"
)

// FitnessMethod selects how raw constraint scores map to fitness.
type FitnessMethod string

const (
	FitnessWeighted     FitnessMethod = "weighted"
	FitnessPenaltyBased FitnessMethod = "penalty_based"
)

// Weights holds the per-constraint-type scoring weights.
type Weights struct {
	NoOverlap            float64 `json:"no_overlap"`
	RoomCapacity         float64 `json:"room_capacity"`
	Availability         float64 `json:"availability"`
	PreferredTime        float64 `json:"preferred_time"`
	BalancedDistribution float64 `json:"balanced_distribution"`
	ConsecutiveSlots     float64 `json:"consecutive_slots"`
	GapPenalty           float64 `json:"gap_penalty"`
}

// Config carries the GA tunables and the resource universe. Days and
// TimeSlots are ordered; time-slot order defines adjacency for the
// consecutive and gap checkers.
type Config struct {
	PopulationSize   int              `json:"population_size"`
	Generations      int              `json:"generations"`
	CrossoverProb    float64          `json:"crossover_prob"`
	MutationProb     float64          `json:"mutation_prob"`
	TournamentSize   int              `json:"tournament_size"`
	ElitismRate      float64          `json:"elitism_rate"`
	MutationStrategy MutationStrategy `json:"mutation_strategy"`
	FitnessMethod    FitnessMethod    `json:"fitness_method"`
	Weights          Weights          `json:"weights"`

	Days           []string       `json:"days"`
	TimeSlots      []string       `json:"time_slots"`
	Rooms          []string       `json:"rooms"`
	RoomCapacities map[string]int `json:"room_capacities,omitempty"`

	// Seed fixes the RNG for reproducible runs; 0 seeds from the clock.
	Seed int64 `json:"seed,omitempty"`
	// EvalWorkers bounds parallel fitness evaluation; 0 means GOMAXPROCS.
	EvalWorkers int `json:"-"`
}

// DefaultConfig returns the standard tunables. Days, TimeSlots and Rooms
// are left empty and must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		PopulationSize:   100,
		Generations:      300,
		CrossoverProb:    0.7,
		MutationProb:     0.1,
		TournamentSize:   3,
		ElitismRate:      0.1,
		MutationStrategy: MutationSwap,
		FitnessMethod:    FitnessWeighted,
		Weights: Weights{
			NoOverlap:            100,
			RoomCapacity:         80,
			Availability:         90,
			PreferredTime:        20,
			BalancedDistribution: 30,
			ConsecutiveSlots:     15,
			GapPenalty:           10,
		},
	}
}

// Normalize fills structural zero values with defaults. Probability
// fields are left untouched: zero is a legitimate setting there.
func (c Config) Normalize() Config {
	if c.PopulationSize <= 0 {
		c.PopulationSize = 100
	}
	if c.Generations <= 0 {
		c.Generations = 300
	}
	if c.TournamentSize <= 0 {
		c.TournamentSize = 3
	}
	if c.MutationStrategy == "" {
		c.MutationStrategy = MutationSwap
	}
	if c.FitnessMethod == "" {
		c.FitnessMethod = FitnessWeighted
	}
	if c.EvalWorkers <= 0 {
		c.EvalWorkers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Validate reports a configuration error for an unusable resource
// universe or out-of-range tunables.
func (c Config) Validate() error {
	if len(c.Days) == 0 || len(c.TimeSlots) == 0 || len(c.Rooms) == 0 {
		return appErrors.Clone(appErrors.ErrConfiguration, "days, time_slots and rooms must be non-empty")
	}
	if c.CrossoverProb < 0 || c.CrossoverProb > 1 {
		return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("crossover_prob %.2f outside [0,1]", c.CrossoverProb))
	}
	if c.MutationProb < 0 || c.MutationProb > 1 {
		return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("mutation_prob %.2f outside [0,1]", c.MutationProb))
	}
	if c.ElitismRate < 0 || c.ElitismRate > 1 {
		return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("elitism_rate %.2f outside [0,1]", c.ElitismRate))
	}
	if c.TournamentSize > c.PopulationSize {
		return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("tournament_size %d exceeds population_size %d", c.TournamentSize, c.PopulationSize))
	}
	switch c.MutationStrategy {
	case MutationSwap, MutationShift, MutationRandom:
	default:
		return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("unknown mutation_strategy %q", c.MutationStrategy))
	}
	switch c.FitnessMethod {
	case FitnessWeighted, FitnessPenaltyBased:
	default:
		return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("unknown fitness_method %q", c.FitnessMethod))
	}
	return nil
}

// RoomCapacity resolves a room's capacity, falling back to the default
// for unlisted rooms.
func (c Config) RoomCapacity(room string) int {
	if capacity, ok := c.RoomCapacities[room]; ok {
		return capacity
	}
	return DefaultRoomCapacity
}
