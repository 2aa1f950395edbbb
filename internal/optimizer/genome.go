package optimizer

import (
	"math/rand"
	"time"
)

func newRNG(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// GenomeFactory builds random individuals over a fixed entity ordering.
// Gene i of every individual it produces belongs to entity i.
type GenomeFactory struct {
	entities []Entity
	cfg      Config
	rng      *rand.Rand
}

// NewGenomeFactory wires a factory to the entity list and resource lists.
func NewGenomeFactory(entities []Entity, cfg Config, rng *rand.Rand) *GenomeFactory {
	return &GenomeFactory{entities: entities, cfg: cfg, rng: rng}
}

// NewIndividual draws a uniformly random placement for every entity.
func (f *GenomeFactory) NewIndividual() Individual {
	genes := make([]Assignment, len(f.entities))
	for i, ent := range f.entities {
		duration := ent.Duration
		if duration <= 0 {
			duration = 1
		}
		genes[i] = Assignment{
			EntityID: ent.ID,
			Day:      f.cfg.Days[f.rng.Intn(len(f.cfg.Days))],
			Time:     f.cfg.TimeSlots[f.rng.Intn(len(f.cfg.TimeSlots))],
			Room:     f.cfg.Rooms[f.rng.Intn(len(f.cfg.Rooms))],
			Duration: duration,
		}
	}
	return Individual{Genes: genes}
}

// NewPopulation builds n fresh individuals.
func (f *GenomeFactory) NewPopulation(n int) []Individual {
	pop := make([]Individual, n)
	for i := range pop {
		pop[i] = f.NewIndividual()
	}
	return pop
}
