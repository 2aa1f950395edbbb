package dto

import (
	"time"

	"github.com/Samurai315/themis/internal/models"
)

// StartOptimizationRequest captures POST /optimizations payload. Omitted
// soft-constraint toggles default to enabled; omitted tunables fall back to
// engine defaults.
type StartOptimizationRequest struct {
	TermID           string   `json:"termId"`
	Method           string   `json:"method" validate:"required,run_method"`
	Days             []string `json:"days,omitempty"`
	TimeSlots        []string `json:"timeSlots,omitempty"`
	BalanceLoad      *bool    `json:"balanceLoad,omitempty"`
	MinimizeGaps     *bool    `json:"minimizeGaps,omitempty"`
	PreferredTimes   *bool    `json:"preferredTimes,omitempty"`
	ConsecutiveLabs  *bool    `json:"consecutiveLabs,omitempty"`
	PopulationSize   int      `json:"populationSize,omitempty" validate:"omitempty,min=2,max=2000"`
	Generations      int      `json:"generations,omitempty" validate:"omitempty,min=1,max=10000"`
	CrossoverProb    float64  `json:"crossoverProb,omitempty" validate:"omitempty,gte=0,lte=1"`
	MutationProb     float64  `json:"mutationProb,omitempty" validate:"omitempty,gte=0,lte=1"`
	TournamentSize   int      `json:"tournamentSize,omitempty" validate:"omitempty,min=1"`
	ElitismRate      float64  `json:"elitismRate,omitempty" validate:"omitempty,gte=0,lte=1"`
	MutationStrategy string   `json:"mutationStrategy,omitempty" validate:"omitempty,oneof=swap shift random"`
	FitnessMethod    string   `json:"fitnessMethod,omitempty" validate:"omitempty,oneof=weighted penalty_based"`
	Seed             int64    `json:"seed,omitempty"`
}

// RunResponse summarizes a run for status endpoints.
type RunResponse struct {
	ID          string           `json:"id"`
	TermID      string           `json:"termId"`
	Method      string           `json:"method"`
	Status      models.RunStatus `json:"status"`
	Progress    int              `json:"progress"`
	Generation  int              `json:"generation"`
	BestFitness *float64         `json:"bestFitness,omitempty"`
	Error       *string          `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	FinishedAt  *time.Time       `json:"finishedAt,omitempty"`
}

// RunResultResponse exposes a run's stored result payload.
type RunResultResponse struct {
	ID     string            `json:"id"`
	Status models.RunStatus  `json:"status"`
	Result *models.RunResult `json:"result"`
}
