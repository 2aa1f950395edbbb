package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fallbackEntities(n int) []Entity {
	entities := make([]Entity, n)
	for i := range entities {
		entities[i] = Entity{ID: string(rune('a' + i))}
	}
	return entities
}

func TestFallbackWrapsPastGridCapacity(t *testing.T) {
	cfg := Config{
		Days:      []string{"Monday"},
		TimeSlots: []string{"09:00", "10:00"},
		Rooms:     []string{"R1", "R2"},
	}

	schedule := Fallback(fallbackEntities(5), cfg)
	require.Len(t, schedule, 5)

	triple := func(a Assignment) [3]string { return [3]string{a.Day, a.Time, a.Room} }

	seen := make(map[[3]string]struct{})
	for _, a := range schedule[:4] {
		_, dup := seen[triple(a)]
		assert.False(t, dup, "first four triples must be distinct")
		seen[triple(a)] = struct{}{}
	}

	// grid holds 4 slots, so the fifth entity restarts from the first triple
	assert.Equal(t, triple(schedule[0]), triple(schedule[4]))
}

func TestFallbackOdometerOrder(t *testing.T) {
	cfg := Config{
		Days:      []string{"Monday", "Tuesday"},
		TimeSlots: []string{"09:00", "10:00"},
		Rooms:     []string{"R1", "R2"},
	}

	schedule := Fallback(fallbackEntities(5), cfg)
	require.Len(t, schedule, 5)

	// room changes fastest, then time, then day
	assert.Equal(t, Assignment{EntityID: "a", Day: "Monday", Time: "09:00", Room: "R1", Duration: 1}, schedule[0])
	assert.Equal(t, Assignment{EntityID: "b", Day: "Monday", Time: "09:00", Room: "R2", Duration: 1}, schedule[1])
	assert.Equal(t, Assignment{EntityID: "c", Day: "Monday", Time: "10:00", Room: "R1", Duration: 1}, schedule[2])
	assert.Equal(t, Assignment{EntityID: "d", Day: "Monday", Time: "10:00", Room: "R2", Duration: 1}, schedule[3])
	assert.Equal(t, Assignment{EntityID: "e", Day: "Tuesday", Time: "09:00", Room: "R1", Duration: 1}, schedule[4])
}

func TestFallbackCopiesDurations(t *testing.T) {
	cfg := Config{Days: []string{"Monday"}, TimeSlots: []string{"09:00"}, Rooms: []string{"R1"}}

	schedule := Fallback([]Entity{{ID: "lab", Duration: 2}, {ID: "theory"}}, cfg)
	require.Len(t, schedule, 2)
	assert.Equal(t, 2, schedule[0].Duration)
	assert.Equal(t, 1, schedule[1].Duration, "missing duration defaults to 1")
}

func TestFallbackEmptyResources(t *testing.T) {
	assert.Nil(t, Fallback(fallbackEntities(3), Config{}))
}
