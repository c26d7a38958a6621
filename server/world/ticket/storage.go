package ticket

import (
	"maps"
	"slices"
)

// Storage holds the tickets of every chunk, keyed by packed chunk position.
// It is not safe for concurrent use.
type Storage struct {
	absent int
	sets   map[int64]*Set
}

// NewStorage returns an empty Storage. absent is the level reported for chunks
// without tickets.
func NewStorage(absent int) *Storage {
	return &Storage{absent: absent, sets: make(map[int64]*Set)}
}

// Add adds t at key and returns the level at key before and after. If an equal
// ticket already exists, only its lifetime is refreshed.
func (s *Storage) Add(key int64, t *Ticket) (old, new int) {
	set, ok := s.sets[key]
	if !ok {
		set = &Set{}
		s.sets[key] = set
	}
	old = set.Level(s.absent)
	existing, _ := set.addOrGet(t)
	existing.refresh()
	return old, set.Level(s.absent)
}

// Remove removes the ticket equal to t at key. It returns the level at key
// afterwards and whether a ticket was removed.
func (s *Storage) Remove(key int64, t *Ticket) (int, bool) {
	set, ok := s.sets[key]
	if !ok {
		return s.absent, false
	}
	removed := set.remove(t)
	if set.Len() == 0 {
		delete(s.sets, key)
	}
	return set.Level(s.absent), removed
}

// Purge ticks every timed ticket and removes expired ones. f is called with
// the new level of every key that lost a ticket.
func (s *Storage) Purge(f func(key int64, level int)) {
	for key, set := range s.sets {
		if !set.purge() {
			continue
		}
		if set.Len() == 0 {
			delete(s.sets, key)
		}
		f(key, set.Level(s.absent))
	}
}

// Level returns the lowest ticket level at key.
func (s *Storage) Level(key int64) int {
	return s.sets[key].Level(s.absent)
}

// Tickets returns the tickets at key.
func (s *Storage) Tickets(key int64) []*Ticket {
	return s.sets[key].All()
}

// Has checks if key holds a ticket of Type t.
func (s *Storage) Has(key int64, t *Type) bool {
	set, ok := s.sets[key]
	if !ok {
		return false
	}
	for _, tk := range set.tickets {
		if tk.Type == t {
			return true
		}
	}
	return false
}

// Keys returns the keys that hold tickets.
func (s *Storage) Keys() []int64 {
	return slices.Collect(maps.Keys(s.sets))
}

// Len returns the amount of keys holding tickets.
func (s *Storage) Len() int {
	return len(s.sets)
}
