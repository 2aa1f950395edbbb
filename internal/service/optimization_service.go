package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/Samurai315/themis/internal/dto"
	"github.com/Samurai315/themis/internal/models"
	"github.com/Samurai315/themis/internal/optimizer"
	"github.com/Samurai315/themis/internal/repository"
	appErrors "github.com/Samurai315/themis/pkg/errors"
	"github.com/Samurai315/themis/pkg/jobs"
)

const jobTypeOptimization = "optimization_run"

type runStore interface {
	Create(ctx context.Context, run *models.OptimizationRun) error
	GetByID(ctx context.Context, id string) (*models.OptimizationRun, error)
	Update(ctx context.Context, id string, params repository.UpdateOptimizationRunParams) error
	ListQueued(ctx context.Context, limit int) ([]models.OptimizationRun, error)
	ResetRunning(ctx context.Context) (int64, error)
	ListRecent(ctx context.Context, termID string, limit int) ([]models.OptimizationRun, error)
}

type termStore interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindActive(ctx context.Context) (*models.Term, error)
}

type datasetBuilder interface {
	Build(ctx context.Context, term *models.Term, params models.OptimizationRunParams) (*Dataset, error)
}

type scheduleOptimizer interface {
	Optimize(ctx context.Context, entities []optimizer.Entity, constraints []optimizer.Constraint, cfg optimizer.Config, method optimizer.Method, progress optimizer.Progress) (*optimizer.Result, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// RunCancelRegistry tracks cancel functions for in-flight runs so the API
// can abort an evolution owned by this process. The service and the worker
// must share one instance.
type RunCancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRunCancelRegistry constructs an empty registry.
func NewRunCancelRegistry() *RunCancelRegistry {
	return &RunCancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *RunCancelRegistry) register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[id] = cancel
}

func (r *RunCancelRegistry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
}

// cancel fires the registered cancel function. It reports false when the
// run is not owned by this process.
func (r *RunCancelRegistry) cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.cancels[id]
	if ok {
		fn()
	}
	return ok
}

// OptimizationService orchestrates optimization run lifecycle management.
type OptimizationService struct {
	runs      runStore
	terms     termStore
	datasets  datasetBuilder
	queue     jobDispatcher
	cache     *CacheService
	registry  *RunCancelRegistry
	validator *validator.Validate
	resultTTL time.Duration
	logger    *zap.Logger
}

// NewOptimizationService constructs the optimization service.
func NewOptimizationService(runs runStore, terms termStore, datasets datasetBuilder, queue jobDispatcher, cache *CacheService, registry *RunCancelRegistry, validate *validator.Validate, resultTTL time.Duration, logger *zap.Logger) *OptimizationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	_ = validate.RegisterValidation("run_method", func(fl validator.FieldLevel) bool {
		return optimizer.Method(fl.Field().String()).Valid()
	})
	if registry == nil {
		registry = NewRunCancelRegistry()
	}
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &OptimizationService{
		runs:      runs,
		terms:     terms,
		datasets:  datasets,
		queue:     queue,
		cache:     cache,
		registry:  registry,
		validator: validate,
		resultTTL: resultTTL,
		logger:    logger,
	}
}

// CreateRun persists a queued run and hands it to the worker queue. The
// request and the term's dataset are validated first; an empty termId
// targets the active term.
func (s *OptimizationService) CreateRun(ctx context.Context, req dto.StartOptimizationRequest) (*dto.RunResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid optimization request")
	}
	term, err := s.resolveTerm(ctx, req.TermID)
	if err != nil {
		return nil, err
	}
	params := buildRunParams(term.ID, req)
	if s.datasets != nil {
		// Empty or unschedulable terms are rejected before a run row exists.
		if _, err := s.datasets.Build(ctx, term, params); err != nil {
			return nil, err
		}
	}
	run := &models.OptimizationRun{
		TermID: term.ID,
		Method: req.Method,
		Params: params,
		Status: models.RunStatusQueued,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create optimization run")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: jobTypeOptimization}); err != nil {
		status := models.RunStatusFailed
		msg := "failed to enqueue run"
		now := time.Now().UTC()
		progress := 100
		_ = s.runs.Update(ctx, run.ID, repository.UpdateOptimizationRunParams{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue optimization run")
	}
	return newRunResponse(run), nil
}

// GetRun exposes run metadata to clients.
func (s *OptimizationService) GetRun(ctx context.Context, id string) (*dto.RunResponse, error) {
	run, err := s.loadRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return newRunResponse(run), nil
}

// GetResult returns the stored result payload for a terminal run. Finished
// results are served from cache when possible.
func (s *OptimizationService) GetResult(ctx context.Context, id string) (*dto.RunResultResponse, error) {
	if s.cache != nil {
		var cached models.RunResult
		hit, err := s.cache.Get(ctx, runResultCacheKey(id), &cached)
		if err == nil && hit {
			return &dto.RunResultResponse{ID: id, Status: models.RunStatusFinished, Result: &cached}, nil
		}
	}
	run, err := s.loadRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(run.Result) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "run has not produced a result")
	}
	var result models.RunResult
	if err := json.Unmarshal(run.Result, &result); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode run result")
	}
	if run.Status == models.RunStatusFinished && s.cache != nil {
		if err := s.cache.Set(ctx, runResultCacheKey(id), result, s.resultTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache run result", "run_id", id, "error", err)
		}
	}
	return &dto.RunResultResponse{ID: run.ID, Status: run.Status, Result: &result}, nil
}

// Cancel aborts a queued or in-flight run. Queued runs flip straight to
// CANCELLED; running ones are signalled through the registry and persist
// their best-so-far result when they stop.
func (s *OptimizationService) Cancel(ctx context.Context, id string) (*dto.RunResponse, error) {
	run, err := s.loadRun(ctx, id)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case models.RunStatusQueued:
		// Best effort: a worker may claim the row in this window, in which
		// case its status guard loses and the run executes anyway.
		cancelled := models.RunStatusCancelled
		now := time.Now().UTC()
		if err := s.runs.Update(ctx, id, repository.UpdateOptimizationRunParams{
			Status:     &cancelled,
			FinishedAt: &now,
		}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel optimization run")
		}
		run.Status = cancelled
		run.FinishedAt = &now
		return newRunResponse(run), nil
	case models.RunStatusRunning:
		if !s.registry.cancel(id) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "run is executing on another instance")
		}
		return newRunResponse(run), nil
	default:
		return nil, appErrors.Clone(appErrors.ErrFinalized, "run already finished")
	}
}

// ListRecent returns recent runs, newest first, optionally scoped to a term.
func (s *OptimizationService) ListRecent(ctx context.Context, termID string, limit int) ([]dto.RunResponse, error) {
	runs, err := s.runs.ListRecent(ctx, termID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list optimization runs")
	}
	out := make([]dto.RunResponse, 0, len(runs))
	for i := range runs {
		out = append(out, *newRunResponse(&runs[i]))
	}
	return out, nil
}

// RecoverPendingRuns reclaims runs orphaned by a previous process and
// replays queued ones (e.g. after restart).
func (s *OptimizationService) RecoverPendingRuns(ctx context.Context) {
	if n, err := s.runs.ResetRunning(ctx); err != nil {
		s.logger.Sugar().Warnw("failed to reset interrupted runs", "error", err)
	} else if n > 0 {
		s.logger.Sugar().Infow("requeued interrupted optimization runs", "count", n)
	}
	pending, err := s.runs.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued optimization runs", "error", err)
		return
	}
	for _, run := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: jobTypeOptimization}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending run", "run_id", run.ID, "error", err)
		}
	}
}

func (s *OptimizationService) resolveTerm(ctx context.Context, termID string) (*models.Term, error) {
	if termID != "" {
		term, err := s.terms.FindByID(ctx, termID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
		}
		return term, nil
	}
	term, err := s.terms.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "no active term configured")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active term")
	}
	return term, nil
}

func (s *OptimizationService) loadRun(ctx context.Context, id string) (*models.OptimizationRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load optimization run")
	}
	return run, nil
}

func buildRunParams(termID string, req dto.StartOptimizationRequest) models.OptimizationRunParams {
	return models.OptimizationRunParams{
		TermID:           termID,
		Method:           req.Method,
		Days:             req.Days,
		TimeSlots:        req.TimeSlots,
		BalanceLoad:      derefBool(req.BalanceLoad, true),
		MinimizeGaps:     derefBool(req.MinimizeGaps, true),
		PreferredTimes:   derefBool(req.PreferredTimes, true),
		ConsecutiveLabs:  derefBool(req.ConsecutiveLabs, true),
		PopulationSize:   req.PopulationSize,
		Generations:      req.Generations,
		CrossoverProb:    req.CrossoverProb,
		MutationProb:     req.MutationProb,
		TournamentSize:   req.TournamentSize,
		ElitismRate:      req.ElitismRate,
		MutationStrategy: req.MutationStrategy,
		FitnessMethod:    req.FitnessMethod,
		Seed:             req.Seed,
	}
}

func derefBool(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func newRunResponse(run *models.OptimizationRun) *dto.RunResponse {
	resp := &dto.RunResponse{
		ID:          run.ID,
		TermID:      run.TermID,
		Method:      run.Method,
		Status:      run.Status,
		Progress:    run.Progress,
		Generation:  run.Generation,
		BestFitness: run.BestFitness,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
	if run.ErrorMessage != nil && *run.ErrorMessage != "" {
		resp.Error = run.ErrorMessage
	}
	return resp
}

// RunWorkerConfig governs execution of queued optimization runs.
type RunWorkerConfig struct {
	EvalWorkers      int
	ProgressInterval time.Duration
	MaxRetries       int
	ResultTTL        time.Duration
}

// RunWorker bridges queue jobs to the optimization engine.
type RunWorker struct {
	runs     runStore
	terms    termStore
	datasets datasetBuilder
	engine   scheduleOptimizer
	registry *RunCancelRegistry
	cache    *CacheService
	metrics  *MetricsService
	cfg      RunWorkerConfig
	logger   *zap.Logger
}

// NewRunWorker constructs a worker.
func NewRunWorker(runs runStore, terms termStore, datasets datasetBuilder, engine scheduleOptimizer, registry *RunCancelRegistry, cache *CacheService, metrics *MetricsService, cfg RunWorkerConfig, logger *zap.Logger) *RunWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRunCancelRegistry()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	return &RunWorker{
		runs:     runs,
		terms:    terms,
		datasets: datasets,
		engine:   engine,
		registry: registry,
		cache:    cache,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handle processes a queue job.
func (w *RunWorker) Handle(ctx context.Context, job jobs.Job) error {
	run, err := w.runs.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if run.Status != models.RunStatusQueued {
		// Cancelled (or claimed elsewhere) between enqueue and pickup.
		w.logger.Sugar().Infow("skipping run", "run_id", run.ID, "status", run.Status)
		return nil
	}
	running := models.RunStatusRunning
	startedAt := time.Now().UTC()
	if err := w.runs.Update(ctx, run.ID, repository.UpdateOptimizationRunParams{
		Status:    &running,
		StartedAt: &startedAt,
	}); err != nil {
		return err
	}

	term, err := w.terms.FindByID(ctx, run.TermID)
	if err != nil {
		return w.fail(ctx, run, job.Attempt, 0, err)
	}
	dataset, err := w.datasets.Build(ctx, term, run.Params)
	if err != nil {
		return w.fail(ctx, run, job.Attempt, 0, err)
	}
	if w.cfg.EvalWorkers > 0 {
		dataset.Config.EvalWorkers = w.cfg.EvalWorkers
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.registry.register(run.ID, cancel)
	defer func() {
		cancel()
		w.registry.release(run.ID)
	}()

	started := time.Now()
	result, err := w.engine.Optimize(runCtx, dataset.Entities, dataset.Constraints, dataset.Config, optimizer.Method(run.Method), w.progressSink(ctx, run.ID, dataset.Config.Generations))
	duration := time.Since(started)

	if ctx.Err() != nil {
		// Shutdown: leave the row RUNNING, ResetRunning reclaims it on restart.
		return ctx.Err()
	}
	if runCtx.Err() != nil {
		w.finishCancelled(ctx, run, result, dataset, duration)
		return nil
	}
	if err != nil {
		return w.fail(ctx, run, job.Attempt, duration, err)
	}

	return w.finish(ctx, run, result, dataset, duration)
}

// progressSink produces a throttled progress callback. Updates are written
// at most once per interval; the engine calls it every generation.
func (w *RunWorker) progressSink(ctx context.Context, runID string, generations int) optimizer.Progress {
	var last time.Time
	return func(gen int, best, avg, std float64, message string) bool {
		if time.Since(last) < w.cfg.ProgressInterval {
			return true
		}
		last = time.Now()
		pct := 0
		if generations > 0 {
			pct = gen * 100 / generations
		}
		if pct > 99 {
			// 100 is reserved for terminal states.
			pct = 99
		}
		generation := gen
		fitness := best
		if err := w.runs.Update(ctx, runID, repository.UpdateOptimizationRunParams{
			Progress:    &pct,
			Generation:  &generation,
			BestFitness: &fitness,
		}); err != nil {
			w.logger.Sugar().Warnw("failed to update run progress", "run_id", runID, "error", err)
		}
		return true
	}
}

func (w *RunWorker) finish(ctx context.Context, run *models.OptimizationRun, result *optimizer.Result, dataset *Dataset, duration time.Duration) error {
	runResult := buildRunResult(result, dataset)
	payload, err := json.Marshal(runResult)
	if err != nil {
		return w.fail(ctx, run, w.cfg.MaxRetries, duration, err)
	}

	finished := models.RunStatusFinished
	progress := 100
	now := time.Now().UTC()
	clear := ""
	resultJSON := types.JSONText(payload)
	params := repository.UpdateOptimizationRunParams{
		Status:       &finished,
		Progress:     &progress,
		Result:       &resultJSON,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}
	if result.Fitness != nil {
		params.BestFitness = result.Fitness
	}
	if n := len(result.History); n > 0 {
		generation := result.History[n-1].Generation
		params.Generation = &generation
	}
	if err := w.runs.Update(ctx, run.ID, params); err != nil {
		w.logger.Sugar().Warnw("failed to mark run finished", "run_id", run.ID, "error", err)
		return err
	}

	if w.metrics != nil {
		w.metrics.RecordRun(run.Method, models.RunStatusFinished, duration)
		w.metrics.AddGenerations(len(result.History))
		if result.Fitness != nil {
			w.metrics.SetBestFitness(run.Method, *result.Fitness)
		}
	}
	if w.cache != nil {
		if err := w.cache.Set(ctx, runResultCacheKey(run.ID), runResult, w.cfg.ResultTTL); err != nil {
			w.logger.Sugar().Warnw("failed to cache run result", "run_id", run.ID, "error", err)
		}
	}
	w.logger.Sugar().Infow("optimization run finished",
		"run_id", run.ID,
		"method", run.Method,
		"fitness", result.Fitness,
		"generations", len(result.History),
		"duration", duration,
	)
	return nil
}

// finishCancelled persists the best-so-far result of an aborted run.
func (w *RunWorker) finishCancelled(ctx context.Context, run *models.OptimizationRun, result *optimizer.Result, dataset *Dataset, duration time.Duration) {
	cancelled := models.RunStatusCancelled
	now := time.Now().UTC()
	params := repository.UpdateOptimizationRunParams{
		Status:     &cancelled,
		FinishedAt: &now,
	}
	if result != nil && len(result.Schedule) > 0 {
		runResult := buildRunResult(result, dataset)
		if payload, err := json.Marshal(runResult); err == nil {
			resultJSON := types.JSONText(payload)
			params.Result = &resultJSON
		}
		if result.Fitness != nil {
			params.BestFitness = result.Fitness
		}
	}
	if err := w.runs.Update(ctx, run.ID, params); err != nil {
		w.logger.Sugar().Warnw("failed to mark run cancelled", "run_id", run.ID, "error", err)
	}
	if w.metrics != nil {
		w.metrics.RecordRun(run.Method, models.RunStatusCancelled, duration)
		if result != nil {
			w.metrics.AddGenerations(len(result.History))
		}
	}
	w.logger.Sugar().Infow("optimization run cancelled", "run_id", run.ID, "method", run.Method, "duration", duration)
}

func (w *RunWorker) fail(ctx context.Context, run *models.OptimizationRun, attempt int, duration time.Duration, cause error) error {
	msg := cause.Error()
	if attempt >= w.cfg.MaxRetries {
		failed := models.RunStatusFailed
		progress := 100
		now := time.Now().UTC()
		if updateErr := w.runs.Update(ctx, run.ID, repository.UpdateOptimizationRunParams{
			Status:       &failed,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); updateErr != nil {
			w.logger.Sugar().Warnw("failed to mark run failed", "run_id", run.ID, "error", updateErr)
		}
		if w.metrics != nil {
			w.metrics.RecordRun(run.Method, models.RunStatusFailed, duration)
		}
	} else {
		queued := models.RunStatusQueued
		reset := 0
		if updateErr := w.runs.Update(ctx, run.ID, repository.UpdateOptimizationRunParams{
			Status:       &queued,
			Progress:     &reset,
			ErrorMessage: &msg,
		}); updateErr != nil {
			w.logger.Sugar().Warnw("failed to requeue run", "run_id", run.ID, "error", updateErr)
		}
	}
	return cause
}

func buildRunResult(result *optimizer.Result, dataset *Dataset) models.RunResult {
	history := result.History
	if len(history) > models.MaxStoredHistory {
		history = history[len(history)-models.MaxStoredHistory:]
	}
	return models.RunResult{
		Schedule:      result.Schedule,
		Fitness:       result.Fitness,
		History:       history,
		Method:        string(result.Method),
		SeedAvailable: result.SeedAvailable,
		Entities:      dataset.Entities,
		Days:          dataset.Config.Days,
		TimeSlots:     dataset.Config.TimeSlots,
	}
}
