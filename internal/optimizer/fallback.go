package optimizer

// Fallback deterministically places entities on the grid in input order
// using odometer counters: room advances every entity, time advances
// when room wraps, day advances when time wraps. Triples are pairwise
// distinct while the entity count fits the grid; past capacity the
// sequence restarts from the first triple.
func Fallback(entities []Entity, cfg Config) []Assignment {
	days, slots, rooms := cfg.Days, cfg.TimeSlots, cfg.Rooms
	if len(days) == 0 || len(slots) == 0 || len(rooms) == 0 {
		return nil
	}

	schedule := make([]Assignment, 0, len(entities))
	dayIdx, slotIdx, roomIdx := 0, 0, 0

	for _, ent := range entities {
		duration := ent.Duration
		if duration <= 0 {
			duration = 1
		}
		schedule = append(schedule, Assignment{
			EntityID: ent.ID,
			Day:      days[dayIdx%len(days)],
			Time:     slots[slotIdx%len(slots)],
			Room:     rooms[roomIdx%len(rooms)],
			Duration: duration,
		})

		roomIdx++
		if roomIdx >= len(rooms) {
			roomIdx = 0
			slotIdx++
		}
		if slotIdx >= len(slots) {
			slotIdx = 0
			dayIdx++
		}
	}

	return schedule
}
