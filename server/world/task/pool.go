package task

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig holds the settings of a Pool.
type PoolConfig struct {
	// Log is the Logger used to report saturation. If nil, slog.Default() is
	// used.
	Log *slog.Logger
	// Workers is the amount of goroutines running tasks. If zero or lower,
	// runtime.NumCPU() is used.
	Workers int
	// QueueSize is the amount of tasks that may wait for a worker before
	// submissions spill into goroutines of their own. Every spilled task holds
	// a goroutine until it fits in the queue, so the amount of those
	// goroutines is not bounded while submissions outpace the workers. Spilled
	// reports how many are waiting. If zero or lower, 64 per worker is used.
	QueueSize int
}

// Pool runs tasks on a fixed set of worker goroutines. It is the executor that
// stage bodies and dispatcher flows run on.
type Pool struct {
	conf PoolConfig

	queue   chan func()
	closing chan struct{}
	running sync.WaitGroup
	once    sync.Once

	// saturation counts how often a task had to be queued from a separate
	// goroutine because the queue was full.
	saturation        atomic.Uint64
	lastSaturationLog atomic.Uint64
	// spilled is the amount of goroutines waiting to queue a task.
	spilled atomic.Int64
}

// New creates a Pool using the settings of the PoolConfig and starts its
// workers.
func (conf PoolConfig) New() *Pool {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Workers <= 0 {
		conf.Workers = runtime.NumCPU()
	}
	if conf.QueueSize <= 0 {
		conf.QueueSize = conf.Workers * 64
	}
	p := &Pool{conf: conf, queue: make(chan func(), conf.QueueSize), closing: make(chan struct{})}
	p.running.Add(conf.Workers)
	for range conf.Workers {
		go p.worker()
	}
	return p
}

// Execute queues f to run on a worker. Execute never blocks: if the queue is
// full, f is queued from a new goroutine. Tasks submitted after Close are
// dropped.
func (p *Pool) Execute(f func()) {
	select {
	case <-p.closing:
	case p.queue <- f:
	default:
		p.spilled.Add(1)
		go p.enqueue(f)
		p.handleBackpressure()
	}
}

// Saturation returns how often the queue of the pool was found full.
func (p *Pool) Saturation() uint64 {
	return p.saturation.Load()
}

// Spilled returns the amount of tasks that did not fit in the queue and are
// still waiting to be queued.
func (p *Pool) Spilled() int {
	return int(p.spilled.Load())
}

// Close stops the workers of the pool and waits for running tasks to finish.
// Queued tasks that did not start are dropped.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.closing)
		p.running.Wait()
	})
}

func (p *Pool) enqueue(f func()) {
	defer p.spilled.Add(-1)
	select {
	case <-p.closing:
	case p.queue <- f:
	}
}

func (p *Pool) worker() {
	defer p.running.Done()
	for {
		select {
		case f := <-p.queue:
			p.run(f)
		case <-p.closing:
			return
		}
	}
}

// run runs f. A panic in f is an invariant violation: it is logged and then
// allowed to crash the process.
func (p *Pool) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			p.conf.Log.Error("task pool: panic", "error", fmt.Sprint(r))
			panic(r)
		}
	}()
	f()
}

// handleBackpressure emits a throttled warning when the queue is saturated.
func (p *Pool) handleBackpressure() {
	count := p.saturation.Add(1)
	now := uint64(time.Now().UnixNano())
	last := p.lastSaturationLog.Load()

	if last != 0 && time.Duration(now-last) < time.Minute {
		return
	}
	if !p.lastSaturationLog.CompareAndSwap(last, now) {
		return
	}
	p.conf.Log.Warn(
		"task pool saturated: chunk work backlog detected.",
		"saturation", count,
		"spilled", p.spilled.Load(),
		"queue_depth", len(p.queue),
		"queue_size", cap(p.queue),
		"workers", p.conf.Workers,
	)
}
