package optimizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/Samurai315/themis/pkg/errors"
)

// Caps on the subset probed for a hybrid seed.
const (
	hybridSeedEntityLimit     = 30
	hybridSeedConstraintLimit = 10
)

// Orchestrator dispatches an optimize call to the advisor, the genetic
// engine, or the hybrid combination of both.
type Orchestrator struct {
	adapter *AdvisorAdapter
	logger  *zap.Logger
}

// NewOrchestrator builds an orchestrator around an optional advisor.
func NewOrchestrator(advisor Advisor, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		adapter: NewAdvisorAdapter(advisor, logger),
		logger:  logger,
	}
}

// Optimize runs one optimization call. An unknown method or an unusable
// configuration fails before any computation; every other failure mode
// degrades to a best-effort schedule.
func (o *Orchestrator) Optimize(ctx context.Context, entities []Entity, constraints []Constraint, cfg Config, method Method, progress Progress) (*Result, error) {
	if !method.Valid() {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("unknown optimization method %q", method))
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o.logger.Info("optimization started",
		zap.String("method", string(method)),
		zap.Int("entities", len(entities)),
		zap.Int("constraints", len(constraints)))

	switch method {
	case MethodGemini:
		return o.runGemini(ctx, entities, constraints, cfg, progress)
	case MethodHybrid:
		return o.runHybrid(ctx, entities, constraints, cfg, progress)
	default:
		return o.runGenetic(ctx, entities, constraints, cfg, progress)
	}
}

func (o *Orchestrator) runGenetic(ctx context.Context, entities []Entity, constraints []Constraint, cfg Config, progress Progress) (*Result, error) {
	engine, err := NewEngine(entities, constraints, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	return engine.Evolve(ctx, progress)
}

func (o *Orchestrator) runGemini(ctx context.Context, entities []Entity, constraints []Constraint, cfg Config, progress Progress) (*Result, error) {
	report(progress, 0, "requesting schedule from advisor")

	schedule, fromAdvisor := o.adapter.Propose(ctx, entities, constraints, cfg)
	if fromAdvisor {
		report(progress, 0, "advisor proposal accepted")
	} else {
		report(progress, 0, "advisor unavailable, substituted fallback schedule")
	}

	return &Result{
		Schedule:   schedule,
		Fitness:    nil,
		History:    []HistoryEntry{},
		Method:     MethodGemini,
		ConfigUsed: cfg,
	}, nil
}

// runHybrid probes the advisor on a reduced problem purely to report
// whether a seed was obtainable, then evolves from a random population.
// The probe's proposal is never injected into the population.
func (o *Orchestrator) runHybrid(ctx context.Context, entities []Entity, constraints []Constraint, cfg Config, progress Progress) (*Result, error) {
	report(progress, 0, "probing advisor for a seed schedule")

	seedEntities := entities
	if len(seedEntities) > hybridSeedEntityLimit {
		seedEntities = seedEntities[:hybridSeedEntityLimit]
	}
	seedConstraints := constraints
	if len(seedConstraints) > hybridSeedConstraintLimit {
		seedConstraints = seedConstraints[:hybridSeedConstraintLimit]
	}

	_, seedAvailable := o.adapter.Propose(ctx, seedEntities, seedConstraints, cfg)
	if seedAvailable {
		report(progress, 0, "advisor seed available, starting evolution")
	} else {
		report(progress, 0, "advisor seed unavailable, starting evolution")
	}

	engine, err := NewEngine(entities, constraints, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	result, err := engine.Evolve(ctx, progress)
	if err != nil {
		return nil, err
	}

	result.Method = MethodHybrid
	result.SeedAvailable = seedAvailable
	return result, nil
}

func report(progress Progress, generation int, message string) bool {
	if progress == nil {
		return true
	}
	return progress(generation, 0, 0, 0, message)
}
