package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	appErrors "github.com/Samurai315/themis/pkg/errors"
)

// Engine runs the genetic evolution loop for one optimize call. It owns
// all mutable state for the call; instances are not reused.
type Engine struct {
	cfg       Config
	entities  []Entity
	rng       *rand.Rand
	factory   *GenomeFactory
	evaluator *Evaluator
	logger    *zap.Logger
}

// NewEngine validates the configuration and prepares the evaluator and
// genome factory. The entity ordering given here is the canonical gene
// ordering for every individual of the run.
func NewEngine(entities []Entity, constraints []Constraint, cfg Config, logger *zap.Logger) (*Engine, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "no entities to schedule")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rng := newRNG(cfg.Seed)
	return &Engine{
		cfg:       cfg,
		entities:  entities,
		rng:       rng,
		factory:   NewGenomeFactory(entities, cfg, rng),
		evaluator: NewEvaluator(entities, constraints, cfg),
		logger:    logger,
	}, nil
}

// Evolve runs the generation loop: evaluate, record stats, check
// termination, select, crossover, mutate, replace with elitism. It stops
// after Generations iterations, when the best fitness reaches the
// baseline, or when the progress sink or ctx requests cancellation; in
// every case it returns the hall-of-fame individual.
func (e *Engine) Evolve(ctx context.Context, progress Progress) (*Result, error) {
	pop := e.factory.NewPopulation(e.cfg.PopulationSize)

	var (
		best    Individual
		hasBest bool
	)
	history := make([]HistoryEntry, 0, e.cfg.Generations)

	for gen := 0; gen < e.cfg.Generations; gen++ {
		e.evaluatePopulation(pop)

		entry := summarize(gen, pop)
		history = append(history, entry)

		for i := range pop {
			if !hasBest || pop[i].Fitness > best.Fitness {
				best = pop[i].Clone()
				hasBest = true
			}
		}

		cont := true
		if progress != nil {
			msg := fmt.Sprintf("generation %d: best=%.2f avg=%.2f", gen, entry.MaxFitness, entry.AvgFitness)
			cont = progress(gen, entry.MaxFitness, entry.AvgFitness, entry.StdFitness, msg)
		}
		select {
		case <-ctx.Done():
			cont = false
		default:
		}
		if !cont {
			e.logger.Info("evolution cancelled",
				zap.Int("generation", gen),
				zap.Float64("best_fitness", best.Fitness))
			break
		}

		if entry.MaxFitness >= MaxFitness {
			e.logger.Info("early stop: perfect solution",
				zap.Int("generation", gen),
				zap.Float64("best_fitness", entry.MaxFitness))
			break
		}

		offspring := e.selectOffspring(pop)
		e.crossover(offspring)
		e.mutate(offspring)
		pop = e.replaceWithElites(pop, offspring)
	}

	fitness := best.Fitness
	return &Result{
		Schedule:   best.Genes,
		Fitness:    &fitness,
		History:    history,
		Method:     MethodGenetic,
		ConfigUsed: e.cfg,
	}, nil
}

// evaluatePopulation scores every unevaluated individual. Evaluation is
// pure, so individuals are scored in parallel on disjoint slots.
func (e *Engine) evaluatePopulation(pop []Individual) {
	p := pool.New().WithMaxGoroutines(e.cfg.EvalWorkers)
	for i := range pop {
		if pop[i].Evaluated {
			continue
		}
		i := i
		p.Go(func() {
			pop[i].Fitness = e.evaluator.Evaluate(pop[i].Genes)
			pop[i].Evaluated = true
		})
	}
	p.Wait()
}

func summarize(gen int, pop []Individual) HistoryEntry {
	fits := make([]float64, len(pop))
	maxFit := math.Inf(-1)
	minFit := math.Inf(1)
	for i := range pop {
		f := pop[i].Fitness
		fits[i] = f
		if f > maxFit {
			maxFit = f
		}
		if f < minFit {
			minFit = f
		}
	}
	return HistoryEntry{
		Generation: gen,
		AvgFitness: stat.Mean(fits, nil),
		MaxFitness: maxFit,
		MinFitness: minFit,
		StdFitness: stat.PopStdDev(fits, nil),
	}
}

// selectOffspring builds a same-size offspring pool via tournament
// selection with replacement.
func (e *Engine) selectOffspring(pop []Individual) []Individual {
	offspring := make([]Individual, len(pop))
	for i := range offspring {
		offspring[i] = e.tournament(pop).Clone()
	}
	return offspring
}

func (e *Engine) tournament(pop []Individual) *Individual {
	best := &pop[e.rng.Intn(len(pop))]
	for i := 1; i < e.cfg.TournamentSize; i++ {
		cand := &pop[e.rng.Intn(len(pop))]
		if cand.Fitness > best.Fitness {
			best = cand
		}
	}
	return best
}

// crossover pairs consecutive offspring and, with CrossoverProb, swaps a
// two-point segment of genes between them. Parents carry the same
// entity at every position, so the positional invariant is preserved.
func (e *Engine) crossover(offspring []Individual) {
	for i := 0; i+1 < len(offspring); i += 2 {
		if e.rng.Float64() >= e.cfg.CrossoverProb {
			continue
		}
		e.crossoverPair(&offspring[i], &offspring[i+1])
		offspring[i].Evaluated = false
		offspring[i+1].Evaluated = false
	}
}

func (e *Engine) crossoverPair(a, b *Individual) {
	size := len(a.Genes)
	if size < 2 {
		return
	}
	p1 := 1 + e.rng.Intn(size)
	p2 := 1 + e.rng.Intn(size-1)
	if p2 >= p1 {
		p2++
	} else {
		p1, p2 = p2, p1
	}
	for i := p1; i < p2; i++ {
		a.Genes[i], b.Genes[i] = b.Genes[i], a.Genes[i]
	}
}

// mutate perturbs each offspring with MutationProb using the configured
// strategy. Strategies only ever touch placement fields; the entity_id
// at each gene position is immutable.
func (e *Engine) mutate(offspring []Individual) {
	for i := range offspring {
		if e.rng.Float64() >= e.cfg.MutationProb {
			continue
		}
		e.mutateIndividual(&offspring[i])
		offspring[i].Evaluated = false
	}
}

func (e *Engine) mutateIndividual(ind *Individual) {
	switch e.cfg.MutationStrategy {
	case MutationSwap:
		e.mutateSwap(ind)
	case MutationShift:
		e.mutateShift(ind)
	case MutationRandom:
		e.mutateRandom(ind)
	}
}

// mutateSwap exchanges the placements of two distinct gene positions.
func (e *Engine) mutateSwap(ind *Individual) {
	n := len(ind.Genes)
	if n < 2 {
		return
	}
	i := e.rng.Intn(n)
	j := e.rng.Intn(n - 1)
	if j >= i {
		j++
	}
	gi, gj := &ind.Genes[i], &ind.Genes[j]
	gi.Day, gj.Day = gj.Day, gi.Day
	gi.Time, gj.Time = gj.Time, gi.Time
	gi.Room, gj.Room = gj.Room, gi.Room
	gi.Duration, gj.Duration = gj.Duration, gi.Duration
}

// mutateShift redraws exactly one of day, time or room on one gene.
func (e *Engine) mutateShift(ind *Individual) {
	g := &ind.Genes[e.rng.Intn(len(ind.Genes))]
	switch e.rng.Intn(3) {
	case 0:
		g.Day = e.cfg.Days[e.rng.Intn(len(e.cfg.Days))]
	case 1:
		g.Time = e.cfg.TimeSlots[e.rng.Intn(len(e.cfg.TimeSlots))]
	default:
		g.Room = e.cfg.Rooms[e.rng.Intn(len(e.cfg.Rooms))]
	}
}

// mutateRandom redraws day, time and room on one gene.
func (e *Engine) mutateRandom(ind *Individual) {
	g := &ind.Genes[e.rng.Intn(len(ind.Genes))]
	g.Day = e.cfg.Days[e.rng.Intn(len(e.cfg.Days))]
	g.Time = e.cfg.TimeSlots[e.rng.Intn(len(e.cfg.TimeSlots))]
	g.Room = e.cfg.Rooms[e.rng.Intn(len(e.cfg.Rooms))]
}

// replaceWithElites forms the next population from the offspring, with
// the top elite_count of the pre-replacement population appended so the
// best individuals survive unchanged.
func (e *Engine) replaceWithElites(pop, offspring []Individual) []Individual {
	eliteCount := int(float64(len(pop)) * e.cfg.ElitismRate)
	if eliteCount < 1 {
		eliteCount = 1
	}
	if eliteCount > len(pop) {
		eliteCount = len(pop)
	}

	ranked := make([]int, len(pop))
	for i := range ranked {
		ranked[i] = i
	}
	sort.Slice(ranked, func(a, b int) bool {
		return pop[ranked[a]].Fitness > pop[ranked[b]].Fitness
	})

	next := make([]Individual, 0, len(pop))
	next = append(next, offspring[:len(pop)-eliteCount]...)
	for _, idx := range ranked[:eliteCount] {
		next = append(next, pop[idx].Clone())
	}
	return next
}
