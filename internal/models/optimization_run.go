package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/Samurai315/themis/internal/optimizer"
)

// RunStatus captures background optimization lifecycle states.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusFinished  RunStatus = "FINISHED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// MaxStoredHistory bounds the fitness history tail persisted with a result.
// Long runs keep the most recent generations; the full curve only matters
// for charts, not for correctness.
const MaxStoredHistory = 500

// OptimizationRun persisted background optimization job metadata.
type OptimizationRun struct {
	ID           string                `db:"id" json:"id"`
	TermID       string                `db:"term_id" json:"term_id"`
	Method       string                `db:"method" json:"method"`
	Params       OptimizationRunParams `db:"params" json:"params"`
	Status       RunStatus             `db:"status" json:"status"`
	Progress     int                   `db:"progress" json:"progress"`
	Generation   int                   `db:"generation" json:"generation"`
	BestFitness  *float64              `db:"best_fitness" json:"best_fitness,omitempty"`
	Result       types.JSONText        `db:"result" json:"result,omitempty"`
	ErrorMessage *string               `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time             `db:"created_at" json:"created_at"`
	StartedAt    *time.Time            `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time            `db:"finished_at" json:"finished_at,omitempty"`
}

// OptimizationRunParams stores request-scoped options persisted as JSONB.
type OptimizationRunParams struct {
	TermID           string   `json:"termId"`
	Method           string   `json:"method"`
	Days             []string `json:"days,omitempty"`
	TimeSlots        []string `json:"timeSlots,omitempty"`
	BalanceLoad      bool     `json:"balanceLoad"`
	MinimizeGaps     bool     `json:"minimizeGaps"`
	PreferredTimes   bool     `json:"preferredTimes"`
	ConsecutiveLabs  bool     `json:"consecutiveLabs"`
	PopulationSize   int      `json:"populationSize,omitempty"`
	Generations      int      `json:"generations,omitempty"`
	CrossoverProb    float64  `json:"crossoverProb,omitempty"`
	MutationProb     float64  `json:"mutationProb,omitempty"`
	TournamentSize   int      `json:"tournamentSize,omitempty"`
	ElitismRate      float64  `json:"elitismRate,omitempty"`
	MutationStrategy string   `json:"mutationStrategy,omitempty"`
	FitnessMethod    string   `json:"fitnessMethod,omitempty"`
	Seed             int64    `json:"seed,omitempty"`
}

// Value marshals params to JSON for persistence.
func (p OptimizationRunParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal optimization run params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *OptimizationRunParams) Scan(value interface{}) error {
	if value == nil {
		*p = OptimizationRunParams{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for OptimizationRunParams", value)
	}
	if len(data) == 0 {
		*p = OptimizationRunParams{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal optimization run params: %w", err)
	}
	return nil
}

// RunResult is the payload stored in a finished run's result column and
// served by the result endpoint. Entities and the resource grids are
// snapshotted so a timetable can be assembled later without rebuilding the
// dataset.
type RunResult struct {
	Schedule      []optimizer.Assignment   `json:"schedule"`
	Fitness       *float64                 `json:"fitness"`
	History       []optimizer.HistoryEntry `json:"history"`
	Method        string                   `json:"method"`
	SeedAvailable bool                     `json:"seed_available,omitempty"`
	Entities      []optimizer.Entity       `json:"entities"`
	Days          []string                 `json:"days"`
	TimeSlots     []string                 `json:"time_slots"`
}
