package optimizer

import (
	"context"

	"go.uber.org/zap"
)

// Caps on the problem size forwarded to an advisor.
const (
	AdvisorEntityLimit     = 50
	AdvisorConstraintLimit = 20
)

// Advisor proposes a draft schedule for a set of entities. It is a
// single request/response collaborator; implementations decide their
// own transport and timeout.
type Advisor interface {
	Suggest(ctx context.Context, entities []Entity, constraints []Constraint, cfg Config) ([]Assignment, error)
}

// AdvisorAdapter wraps a fallible Advisor behind a total function:
// every failure path resolves to the deterministic fallback schedule.
// It never returns an error.
type AdvisorAdapter struct {
	advisor Advisor
	logger  *zap.Logger
}

// NewAdvisorAdapter builds an adapter. A nil advisor is allowed and
// behaves as a permanently failing one.
func NewAdvisorAdapter(advisor Advisor, logger *zap.Logger) *AdvisorAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvisorAdapter{advisor: advisor, logger: logger}
}

// Propose asks the advisor for a schedule over a capped subset of the
// problem and validates the response. The second return value reports
// whether the schedule genuinely came from the advisor; when false the
// schedule is the round-robin fallback over all entities.
func (a *AdvisorAdapter) Propose(ctx context.Context, entities []Entity, constraints []Constraint, cfg Config) ([]Assignment, bool) {
	if a.advisor == nil {
		a.logger.Debug("no advisor configured, using fallback schedule")
		return Fallback(entities, cfg), false
	}

	capped := entities
	if len(capped) > AdvisorEntityLimit {
		capped = capped[:AdvisorEntityLimit]
	}
	cappedConstraints := constraints
	if len(cappedConstraints) > AdvisorConstraintLimit {
		cappedConstraints = cappedConstraints[:AdvisorConstraintLimit]
	}

	proposal, err := a.advisor.Suggest(ctx, capped, cappedConstraints, cfg)
	if err != nil {
		a.logger.Warn("advisor call failed, using fallback schedule", zap.Error(err))
		return Fallback(entities, cfg), false
	}

	known := make(map[string]Entity, len(capped))
	for _, ent := range capped {
		known[ent.ID] = ent
	}

	valid := make([]Assignment, 0, len(proposal))
	for _, row := range proposal {
		ent, ok := known[row.EntityID]
		if !ok {
			continue
		}
		if row.Duration <= 0 {
			row.Duration = ent.Duration
			if row.Duration <= 0 {
				row.Duration = 1
			}
		}
		valid = append(valid, row)
	}

	if len(valid) == 0 {
		a.logger.Warn("advisor returned no usable assignments, using fallback schedule",
			zap.Int("proposed", len(proposal)))
		return Fallback(entities, cfg), false
	}

	a.logger.Info("advisor proposal accepted",
		zap.Int("assignments", len(valid)),
		zap.Int("discarded", len(proposal)-len(valid)))
	return valid, true
}
