package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/Samurai315/themis/internal/models"
)

// OptimizationRunRepository persists optimization run metadata.
type OptimizationRunRepository struct {
	db *sqlx.DB
}

// NewOptimizationRunRepository constructs the repository.
func NewOptimizationRunRepository(db *sqlx.DB) *OptimizationRunRepository {
	return &OptimizationRunRepository{db: db}
}

const runColumns = `id, term_id, method, params, status, progress, generation, best_fitness, result, error_message, created_at, started_at, finished_at`

// Create inserts a new run row with generated defaults.
func (r *OptimizationRunRepository) Create(ctx context.Context, run *models.OptimizationRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO optimization_runs (id, term_id, method, params, status, progress, generation, best_fitness, result, error_message, created_at, started_at, finished_at)
VALUES (:id, :term_id, :method, :params, :status, :progress, :generation, :best_fitness, :result, :error_message, :created_at, :started_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create optimization run: %w", err)
	}
	return nil
}

// GetByID returns a run row by its identifier.
func (r *OptimizationRunRepository) GetByID(ctx context.Context, id string) (*models.OptimizationRun, error) {
	const query = `SELECT ` + runColumns + ` FROM optimization_runs WHERE id = $1`
	var run models.OptimizationRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, fmt.Errorf("get optimization run: %w", err)
	}
	return &run, nil
}

// UpdateOptimizationRunParams defines the mutable fields of a run row.
type UpdateOptimizationRunParams struct {
	Status       *models.RunStatus
	Progress     *int
	Generation   *int
	BestFitness  *float64
	Result       *types.JSONText
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Update persists the provided changes for a run row.
func (r *OptimizationRunRepository) Update(ctx context.Context, id string, params UpdateOptimizationRunParams) error {
	set := make([]string, 0, 8)
	args := make([]interface{}, 0, 9)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.Progress != nil {
		set = append(set, fmt.Sprintf("progress = $%d", argPos))
		args = append(args, *params.Progress)
		argPos++
	}
	if params.Generation != nil {
		set = append(set, fmt.Sprintf("generation = $%d", argPos))
		args = append(args, *params.Generation)
		argPos++
	}
	if params.BestFitness != nil {
		set = append(set, fmt.Sprintf("best_fitness = $%d", argPos))
		args = append(args, *params.BestFitness)
		argPos++
	}
	if params.Result != nil {
		set = append(set, fmt.Sprintf("result = $%d", argPos))
		args = append(args, *params.Result)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}
	if params.StartedAt != nil {
		set = append(set, fmt.Sprintf("started_at = $%d", argPos))
		args = append(args, *params.StartedAt)
		argPos++
	}
	if params.FinishedAt != nil {
		set = append(set, fmt.Sprintf("finished_at = $%d", argPos))
		args = append(args, *params.FinishedAt)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE optimization_runs SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update optimization run: %w", err)
	}
	return nil
}

// ListQueued fetches queued runs in submission order (cold start recovery).
func (r *OptimizationRunRepository) ListQueued(ctx context.Context, limit int) ([]models.OptimizationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + runColumns + ` FROM optimization_runs WHERE status = 'QUEUED' ORDER BY created_at ASC LIMIT $1`
	var runs []models.OptimizationRun
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued optimization runs: %w", err)
	}
	return runs, nil
}

// ResetRunning re-queues runs left RUNNING by a previous process. The
// worker that owned them is gone, so the rows are stale by definition.
func (r *OptimizationRunRepository) ResetRunning(ctx context.Context) (int64, error) {
	const query = `UPDATE optimization_runs SET status = 'QUEUED', progress = 0, generation = 0, started_at = NULL WHERE status = 'RUNNING'`
	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("reset running optimization runs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset running rows affected: %w", err)
	}
	return affected, nil
}

// ListRecent returns the latest runs for dashboard listings, result column
// omitted to keep the payload small.
func (r *OptimizationRunRepository) ListRecent(ctx context.Context, termID string, limit int) ([]models.OptimizationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	const base = `SELECT id, term_id, method, params, status, progress, generation, best_fitness, error_message, created_at, started_at, finished_at FROM optimization_runs`
	var runs []models.OptimizationRun
	if termID != "" {
		const query = base + ` WHERE term_id = $1 ORDER BY created_at DESC LIMIT $2`
		if err := r.db.SelectContext(ctx, &runs, query, termID, limit); err != nil {
			return nil, fmt.Errorf("list optimization runs: %w", err)
		}
		return runs, nil
	}
	const query = base + ` ORDER BY created_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("list optimization runs: %w", err)
	}
	return runs, nil
}
