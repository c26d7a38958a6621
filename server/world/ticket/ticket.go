// Package ticket holds the demand records that keep chunks loaded.
package ticket

import (
	"cmp"
	"errors"
	"fmt"
)

// Type is a kind of ticket. Tickets of a Type with a Timeout are removed after
// that amount of ticks. A Timeout of zero means tickets are permanent.
type Type struct {
	name    string
	order   int
	Timeout int64
}

var types []*Type

// NewType registers a new ticket Type.
func NewType(name string, timeout int64) *Type {
	t := &Type{name: name, order: len(types), Timeout: timeout}
	types = append(types, t)
	return t
}

// ErrUnknownType is returned by TypeByName for names no Type was registered
// with.
var ErrUnknownType = errors.New("unknown ticket type")

// TypeByName returns the registered Type with the name passed.
func TypeByName(name string) (*Type, error) {
	for _, t := range types {
		if t.name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownType, name)
}

// String implements fmt.Stringer.
func (t *Type) String() string {
	return t.name
}

var (
	// Start keeps the spawn area loaded.
	Start = NewType("start", 0)
	// Player is added for chunks near players.
	Player = NewType("player", 0)
	// Forced keeps chunks loaded until explicitly removed.
	Forced = NewType("forced", 0)
	// Portal keeps the destination of a portal loaded for a while.
	Portal = NewType("portal", 300)
	// PostTeleport keeps the area around a teleport destination loaded
	// briefly.
	PostTeleport = NewType("post_teleport", 5)
	// Unknown is added by requests for a chunk that is not otherwise demanded.
	Unknown = NewType("unknown", 1)
	// Request pins a chunk while an asynchronous stage request waits.
	Request = NewType("request", 0)
)

// Ticket is a demand for a chunk to be at a level or lower. Two tickets are
// equal if their Type, Level and Key are equal. Key must be comparable.
type Ticket struct {
	Type  *Type
	Level int
	Key   any

	ticksLeft int64
}

// New returns a Ticket with a full lifetime.
func New(t *Type, level int, key any) *Ticket {
	return &Ticket{Type: t, Level: level, Key: key, ticksLeft: t.Timeout}
}

// TicksLeft returns the amount of purges the ticket survives. It is zero for
// permanent tickets.
func (t *Ticket) TicksLeft() int64 {
	return t.ticksLeft
}

// Equals checks if two tickets describe the same demand.
func (t *Ticket) Equals(o *Ticket) bool {
	return t.Type == o.Type && t.Level == o.Level && t.Key == o.Key
}

// String implements fmt.Stringer.
func (t *Ticket) String() string {
	return fmt.Sprintf("Ticket[%v %v] with key %v", t.Type, t.Level, t.Key)
}

// compare orders tickets by level, then by type.
func compare(a, b *Ticket) int {
	if c := cmp.Compare(a.Level, b.Level); c != 0 {
		return c
	}
	return cmp.Compare(a.Type.order, b.Type.order)
}

// refresh restarts the lifetime of the ticket.
func (t *Ticket) refresh() {
	t.ticksLeft = t.Type.Timeout
}

// tick counts down the lifetime of a timed ticket and reports if it expired.
func (t *Ticket) tick() bool {
	if t.Type.Timeout == 0 {
		return false
	}
	t.ticksLeft--
	return t.ticksLeft <= 0
}
