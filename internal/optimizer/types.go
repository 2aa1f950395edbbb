package optimizer

// SessionTheory and SessionLab classify schedulable entities.
const (
	SessionTheory = "theory"
	SessionLab    = "lab"
)

// Entity is one schedulable unit: a single weekly occurrence that must
// receive a (day, time, room) placement.
type Entity struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	CapacityNeeded int    `json:"capacity_needed,omitempty"`
	RequiresLab    bool   `json:"requires_lab,omitempty"`
	PreferredLabID string `json:"preferred_lab_id,omitempty"`
	SubjectID      string `json:"subject_id,omitempty"`
	BatchID        string `json:"batch_id,omitempty"`
	FacultyID      string `json:"faculty_id,omitempty"`
	SessionType    string `json:"session_type,omitempty"`
}

// ConstraintType identifies a fitness checker.
type ConstraintType string

const (
	ConstraintNoOverlap            ConstraintType = "no_overlap"
	ConstraintRoomCapacity         ConstraintType = "room_capacity"
	ConstraintAvailability         ConstraintType = "availability"
	ConstraintPreferredTime        ConstraintType = "preferred_time"
	ConstraintBalancedDistribution ConstraintType = "balanced_distribution"
	ConstraintConsecutiveSlots     ConstraintType = "consecutive_slots"
	ConstraintMinimizeGaps         ConstraintType = "minimize_gaps"
)

// Constraint is one scoring rule. Hard constraints subtract weighted
// violation counts, soft constraints add weighted bonuses.
type Constraint struct {
	Type             ConstraintType `json:"type"`
	Hard             bool           `json:"hard"`
	Weight           float64        `json:"weight"`
	EntityID         string         `json:"entity_id,omitempty"`
	UnavailableSlots []string       `json:"unavailable_slots,omitempty"`
	PreferredSlots   []string       `json:"preferred_slots,omitempty"`
	Description      string         `json:"description,omitempty"`
}

// Assignment is one gene: a single entity's placement on the grid.
// EntityID is immutable once the gene is created.
type Assignment struct {
	EntityID string `json:"entity_id"`
	Day      string `json:"day"`
	Time     string `json:"time"`
	Room     string `json:"room"`
	Duration int    `json:"duration"`
}

// SlotKey builds the canonical "<day>_<time>" key used by availability
// and preference constraints.
func SlotKey(day, time string) string {
	return day + "_" + time
}

// Individual is a candidate schedule. Genes are ordered positionally:
// gene i always belongs to entity i of the input entity list.
type Individual struct {
	Genes     []Assignment
	Fitness   float64
	Evaluated bool
}

// Clone returns a deep copy of the individual.
func (ind Individual) Clone() Individual {
	genes := make([]Assignment, len(ind.Genes))
	copy(genes, ind.Genes)
	return Individual{Genes: genes, Fitness: ind.Fitness, Evaluated: ind.Evaluated}
}

// HistoryEntry captures population statistics for one generation.
type HistoryEntry struct {
	Generation int     `json:"generation"`
	AvgFitness float64 `json:"avg_fitness"`
	MaxFitness float64 `json:"max_fitness"`
	MinFitness float64 `json:"min_fitness"`
	StdFitness float64 `json:"std_fitness"`
}

// Method selects the optimization strategy.
type Method string

const (
	MethodGenetic Method = "genetic"
	MethodGemini  Method = "gemini"
	MethodHybrid  Method = "hybrid"
)

// Valid reports whether the method is one of the known strategies.
func (m Method) Valid() bool {
	switch m {
	case MethodGenetic, MethodGemini, MethodHybrid:
		return true
	}
	return false
}

// Result is the outcome of one optimize call. Fitness is nil for
// advisor-only runs, where no evaluation takes place.
type Result struct {
	Schedule      []Assignment   `json:"schedule"`
	Fitness       *float64       `json:"fitness"`
	History       []HistoryEntry `json:"history"`
	Method        Method         `json:"method"`
	ConfigUsed    Config         `json:"config_used"`
	SeedAvailable bool           `json:"seed_available,omitempty"`
}

// Progress receives per-generation statistics. Returning false requests
// cancellation; the engine stops at the next generation boundary and
// returns the current hall-of-fame result.
type Progress func(generation int, best, avg, std float64, message string) bool
