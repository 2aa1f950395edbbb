package optimizer

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

type gridSlot struct {
	day  string
	time string
	room string
}

type preparedConstraint struct {
	Constraint
	unavailable map[string]struct{}
	preferred   map[string]struct{}
}

// Evaluator scores candidate schedules against the constraint set.
// It is read-only after construction, so distinct individuals may be
// evaluated concurrently.
type Evaluator struct {
	cfg         Config
	entities    map[string]Entity
	constraints []preparedConstraint
	slotIndex   map[string]int
}

// NewEvaluator precomputes entity and slot lookups for fast evaluation.
func NewEvaluator(entities []Entity, constraints []Constraint, cfg Config) *Evaluator {
	byID := make(map[string]Entity, len(entities))
	for _, ent := range entities {
		byID[ent.ID] = ent
	}

	slotIndex := make(map[string]int, len(cfg.TimeSlots))
	for i, slot := range cfg.TimeSlots {
		slotIndex[slot] = i
	}

	prepared := make([]preparedConstraint, 0, len(constraints))
	for _, c := range constraints {
		pc := preparedConstraint{Constraint: c}
		if len(c.UnavailableSlots) > 0 {
			pc.unavailable = make(map[string]struct{}, len(c.UnavailableSlots))
			for _, key := range c.UnavailableSlots {
				pc.unavailable[key] = struct{}{}
			}
		}
		if len(c.PreferredSlots) > 0 {
			pc.preferred = make(map[string]struct{}, len(c.PreferredSlots))
			for _, key := range c.PreferredSlots {
				pc.preferred[key] = struct{}{}
			}
		}
		prepared = append(prepared, pc)
	}

	return &Evaluator{
		cfg:         cfg,
		entities:    byID,
		constraints: prepared,
		slotIndex:   slotIndex,
	}
}

// Evaluate scores a schedule. The score starts at the baseline, hard
// violations subtract their weighted counts, soft preferences add
// weighted bonuses, and the result is clamped to be non-negative.
func (e *Evaluator) Evaluate(genes []Assignment) float64 {
	score := MaxFitness

	for i := range e.constraints {
		c := &e.constraints[i]
		switch c.Type {
		case ConstraintNoOverlap:
			score -= float64(countOverlaps(genes)) * c.Weight
		case ConstraintRoomCapacity:
			score -= float64(e.countCapacityViolations(genes)) * c.Weight
		case ConstraintAvailability:
			score -= float64(countSlotHits(genes, c.EntityID, c.unavailable)) * c.Weight
		case ConstraintPreferredTime:
			score += float64(countSlotHits(genes, c.EntityID, c.preferred)) * c.Weight
		case ConstraintBalancedDistribution:
			score += e.balanceScore(genes) * c.Weight
		case ConstraintConsecutiveSlots:
			score += float64(e.countConsecutivePairs(genes, c.EntityID)) * c.Weight
		case ConstraintMinimizeGaps:
			score -= float64(e.totalGaps(genes)) * c.Weight
		}
	}

	if e.cfg.FitnessMethod == FitnessPenaltyBased && score < 0 {
		score = MaxFitness / (1 + math.Abs(score))
	}
	if score < 0 {
		return 0
	}
	return score
}

// HardViolations counts hard-constraint breaches in a schedule: overlap
// pairs, capacity misfits and blocked-slot hits.
func (e *Evaluator) HardViolations(genes []Assignment) int {
	total := 0
	for i := range e.constraints {
		c := &e.constraints[i]
		switch c.Type {
		case ConstraintNoOverlap:
			total += countOverlaps(genes)
		case ConstraintRoomCapacity:
			total += e.countCapacityViolations(genes)
		case ConstraintAvailability:
			total += countSlotHits(genes, c.EntityID, c.unavailable)
		}
	}
	return total
}

// countOverlaps counts unordered pairs of genes sharing a (day, time,
// room) triple: k genes on one triple contribute k*(k-1)/2.
func countOverlaps(genes []Assignment) int {
	seen := make(map[gridSlot]int, len(genes))
	for _, g := range genes {
		seen[gridSlot{day: g.Day, time: g.Time, room: g.Room}]++
	}
	conflicts := 0
	for _, n := range seen {
		conflicts += n * (n - 1) / 2
	}
	return conflicts
}

func (e *Evaluator) countCapacityViolations(genes []Assignment) int {
	violations := 0
	for _, g := range genes {
		ent, ok := e.entities[g.EntityID]
		if !ok {
			continue
		}
		if ent.CapacityNeeded > e.cfg.RoomCapacity(g.Room) {
			violations++
		}
	}
	return violations
}

func countSlotHits(genes []Assignment, entityID string, slots map[string]struct{}) int {
	if len(slots) == 0 {
		return 0
	}
	hits := 0
	for _, g := range genes {
		if g.EntityID != entityID {
			continue
		}
		if _, ok := slots[SlotKey(g.Day, g.Time)]; ok {
			hits++
		}
	}
	return hits
}

// balanceScore rewards even distribution of genes across days:
// 100 / (1 + population variance of per-day counts).
func (e *Evaluator) balanceScore(genes []Assignment) float64 {
	counts := make(map[string]float64, len(e.cfg.Days))
	for _, day := range e.cfg.Days {
		counts[day] = 0
	}
	for _, g := range genes {
		if _, ok := counts[g.Day]; ok {
			counts[g.Day]++
		}
	}
	xs := make([]float64, 0, len(e.cfg.Days))
	for _, day := range e.cfg.Days {
		xs = append(xs, counts[day])
	}
	variance := stat.PopVariance(xs, nil)
	return 100 / (1 + variance)
}

// countConsecutivePairs counts, per day, adjacent time-slot pairs among
// the target entity's genes. Slot adjacency follows TimeSlots order.
func (e *Evaluator) countConsecutivePairs(genes []Assignment, entityID string) int {
	byDay := make(map[string][]int)
	for _, g := range genes {
		if g.EntityID != entityID {
			continue
		}
		idx, ok := e.slotIndex[g.Time]
		if !ok {
			continue
		}
		byDay[g.Day] = append(byDay[g.Day], idx)
	}
	pairs := 0
	for _, indices := range byDay {
		sort.Ints(indices)
		for i := 0; i+1 < len(indices); i++ {
			if indices[i+1] == indices[i]+1 {
				pairs++
			}
		}
	}
	return pairs
}

// totalGaps sums idle slots between consecutive assignments per day,
// over all genes regardless of entity.
func (e *Evaluator) totalGaps(genes []Assignment) int {
	byDay := make(map[string][]int)
	for _, g := range genes {
		idx, ok := e.slotIndex[g.Time]
		if !ok {
			continue
		}
		byDay[g.Day] = append(byDay[g.Day], idx)
	}
	total := 0
	for _, indices := range byDay {
		sort.Ints(indices)
		for i := 0; i+1 < len(indices); i++ {
			if gap := indices[i+1] - indices[i] - 1; gap > 0 {
				total += gap
			}
		}
	}
	return total
}
