package task

import "sync/atomic"

// Metrics tracks counters of a Dispatcher for observability. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	submitted  atomic.Uint64
	dispatched atomic.Uint64
	released   atomic.Uint64
	resorted   atomic.Uint64

	queued      atomic.Int64
	inExecution atomic.Int64
}

// MetricsSnapshot is a copy of the counters of a Metrics.
type MetricsSnapshot struct {
	Submitted, Dispatched, Released, Resorted uint64
	// Queued is the amount of chunks with tasks waiting in the queue.
	Queued int64
	// InExecution is the amount of chunks a throttling dispatcher considers
	// in execution.
	InExecution int64
}

// Snapshot returns the current values of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Submitted:   m.submitted.Load(),
		Dispatched:  m.dispatched.Load(),
		Released:    m.released.Load(),
		Resorted:    m.resorted.Load(),
		Queued:      m.queued.Load(),
		InExecution: m.inExecution.Load(),
	}
}

func (m *Metrics) incSubmitted() {
	if m != nil {
		m.submitted.Add(1)
	}
}

func (m *Metrics) incDispatched() {
	if m != nil {
		m.dispatched.Add(1)
	}
}

func (m *Metrics) incReleased() {
	if m != nil {
		m.released.Add(1)
	}
}

func (m *Metrics) incResorted() {
	if m != nil {
		m.resorted.Add(1)
	}
}

func (m *Metrics) setQueued(n int) {
	if m != nil {
		m.queued.Store(int64(n))
	}
}

func (m *Metrics) setInExecution(n int) {
	if m != nil {
		m.inExecution.Store(int64(n))
	}
}
