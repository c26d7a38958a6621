package task

import "sync/atomic"

// Mailbox is an unbounded queue of functions with any number of producers and
// a single consumer. Push never blocks.
type Mailbox struct {
	// head is the most recently pushed node. tail is the last consumed node
	// and is only touched by the consumer.
	head atomic.Pointer[node]
	tail *node
	stub node

	pending atomic.Int64
}

type node struct {
	next atomic.Pointer[node]
	f    func()
}

// NewMailbox returns an empty Mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.head.Store(&m.stub)
	m.tail = &m.stub
	return m
}

// Push adds f to the end of the mailbox.
func (m *Mailbox) Push(f func()) {
	n := &node{f: f}
	prev := m.head.Swap(n)
	prev.next.Store(n)
	m.pending.Add(1)
}

// Pop removes the first function of the mailbox. It returns nil if the mailbox
// is empty, or if the next producer has not finished its Push yet. Pop must
// only be called by the consumer.
func (m *Mailbox) Pop() func() {
	next := m.tail.next.Load()
	if next == nil {
		return nil
	}
	m.tail = next
	f := next.f
	next.f = nil
	return f
}

// Done marks a function returned by Pop as finished.
func (m *Mailbox) Done() {
	m.pending.Add(-1)
}

// Pending returns the amount of functions pushed that were not marked done.
func (m *Mailbox) Pending() int64 {
	return m.pending.Load()
}

// Drain runs all functions in the mailbox, including those pushed while
// draining, and returns how many ran. Drain must only be called by the
// consumer.
func (m *Mailbox) Drain() int {
	n := 0
	for f := m.Pop(); f != nil; f = m.Pop() {
		f()
		m.Done()
		n++
	}
	return n
}
