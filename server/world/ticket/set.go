package ticket

import "slices"

// Set is a list of tickets sorted by level. The zero value is an empty Set.
type Set struct {
	tickets []*Ticket
}

// Level returns the lowest level of all tickets in the Set, or absent if the
// Set is empty.
func (s *Set) Level(absent int) int {
	if s == nil || len(s.tickets) == 0 {
		return absent
	}
	return s.tickets[0].Level
}

// Len returns the amount of tickets in the Set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tickets)
}

// All returns the tickets in the Set, sorted by level.
func (s *Set) All() []*Ticket {
	if s == nil {
		return nil
	}
	return slices.Clone(s.tickets)
}

// addOrGet adds t to the Set, or returns the equal ticket already in it.
func (s *Set) addOrGet(t *Ticket) (*Ticket, bool) {
	if i := s.index(t); i >= 0 {
		return s.tickets[i], false
	}
	i, _ := slices.BinarySearchFunc(s.tickets, t, compare)
	// Tickets that compare equal keep insertion order.
	for i < len(s.tickets) && compare(s.tickets[i], t) == 0 {
		i++
	}
	s.tickets = slices.Insert(s.tickets, i, t)
	return t, true
}

func (s *Set) remove(t *Ticket) bool {
	if i := s.index(t); i >= 0 {
		s.tickets = slices.Delete(s.tickets, i, i+1)
		return true
	}
	return false
}

func (s *Set) index(t *Ticket) int {
	return slices.IndexFunc(s.tickets, t.Equals)
}

// purge ticks all tickets and removes the expired ones. It reports whether any
// ticket was removed.
func (s *Set) purge() bool {
	n := len(s.tickets)
	s.tickets = slices.DeleteFunc(s.tickets, (*Ticket).tick)
	return len(s.tickets) != n
}
