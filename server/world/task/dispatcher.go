package task

import (
	"log/slog"
	"sync/atomic"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
)

// DispatcherConfig holds the settings of a Dispatcher.
type DispatcherConfig struct {
	// Name identifies the dispatcher in logs.
	Name string
	// Log is the Logger to use. If nil, slog.Default() is used.
	Log *slog.Logger
	// Levels is the amount of priority levels of the queue. If zero or lower,
	// chunk.MaxLevel+2 is used.
	Levels int
	// Spawner runs the queue operations of the dispatcher. They run one at a
	// time, in submission order. If nil, async.Inline is used, which is only
	// suitable for tests.
	Spawner async.Executor
	// Executor runs the tasks of dispatched batches. If nil, Spawner is used.
	Executor async.Executor
}

// DefaultThrottle is the amount of chunks a throttling dispatcher allows in
// execution when no other limit is configured.
const DefaultThrottle = 4

// Dispatcher hands the queued tasks of one chunk at a time to an executor,
// lowest level first. All operations on the queue run on a Consecutive, so
// that they are applied in the order in which they were made. When a
// dispatched batch completes, the next one is popped. When the queue is empty,
// the dispatcher sleeps until the next submission.
type Dispatcher struct {
	conf    DispatcherConfig
	flow    *Consecutive
	metrics *Metrics
	closed  atomic.Bool

	// The fields below are only accessed on flow.
	queue    *PriorityQueue
	levels   map[int64]int
	sleeping bool
	// limit is the maximum amount of chunks in execution, or zero if the
	// dispatcher does not throttle.
	limit       int
	inExecution map[int64]struct{}
}

// NewDispatcher returns a Dispatcher that does not throttle.
func NewDispatcher(conf DispatcherConfig) *Dispatcher {
	return newDispatcher(conf, 0)
}

// NewThrottlingDispatcher returns a Dispatcher that does not pop more tasks
// while limit chunks are in execution. A chunk is in execution from the moment
// its tasks are dispatched until it is released using Release. If limit is
// zero or lower, DefaultThrottle is used.
func NewThrottlingDispatcher(conf DispatcherConfig, limit int) *Dispatcher {
	if limit <= 0 {
		limit = DefaultThrottle
	}
	return newDispatcher(conf, limit)
}

func newDispatcher(conf DispatcherConfig, limit int) *Dispatcher {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Levels <= 0 {
		conf.Levels = chunk.MaxLevel + 2
	}
	if conf.Spawner == nil {
		conf.Spawner = async.Inline
	}
	if conf.Executor == nil {
		conf.Executor = conf.Spawner
	}
	return &Dispatcher{
		conf:        conf,
		flow:        NewConsecutive(conf.Name+"_dispatcher", conf.Spawner),
		metrics:     &Metrics{},
		queue:       NewPriorityQueue(conf.Levels),
		levels:      make(map[int64]int),
		sleeping:    true,
		limit:       limit,
		inExecution: make(map[int64]struct{}),
	}
}

// Metrics returns the counters of the dispatcher.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// HasWork checks if operations or tasks are still queued.
func (d *Dispatcher) HasWork() bool {
	return d.flow.HasWork() || d.metrics.queued.Load() > 0
}

// OnLevelChange moves the queued tasks of key to level. set, if not nil, is
// called with the new level once the move was applied.
func (d *Dispatcher) OnLevelChange(key int64, level int, set func(level int)) {
	d.flow.Execute(func() {
		old, ok := d.levels[key]
		if !ok {
			old = d.queue.Levels()
		}
		d.queue.Resort(old, key, level)
		d.metrics.incResorted()
		if level >= d.queue.Levels()-1 && !d.queue.Contains(key) {
			delete(d.levels, key)
		} else {
			d.levels[key] = level
		}
		if set != nil {
			set(level)
		}
	})
}

// Submit queues task for key. If the level of key is not yet known to the
// dispatcher, it is obtained by calling level.
func (d *Dispatcher) Submit(task func(), key int64, level func() int) {
	d.flow.Execute(func() {
		l, ok := d.levels[key]
		if !ok {
			l = level()
			d.levels[key] = l
		}
		d.queue.Submit(task, key, l)
		d.metrics.incSubmitted()
		d.metrics.setQueued(d.queue.Len())
		d.wake()
	})
}

// Release removes key from the chunks in execution, dropping its queued tasks
// if clear is true. after, if not nil, runs on the dispatcher flow once the
// release was applied.
func (d *Dispatcher) Release(key int64, after func(), clear bool) {
	d.flow.Execute(func() {
		d.queue.Release(key, clear)
		if clear && !d.queue.Contains(key) {
			delete(d.levels, key)
		}
		delete(d.inExecution, key)
		d.metrics.incReleased()
		d.metrics.setQueued(d.queue.Len())
		d.metrics.setInExecution(len(d.inExecution))
		d.wake()
		if after != nil {
			after()
		}
	})
}

// Close stops the dispatcher from dispatching further batches.
func (d *Dispatcher) Close() {
	d.closed.Store(true)
}

func (d *Dispatcher) wake() {
	if d.sleeping {
		d.sleeping = false
		d.poll()
	}
}

func (d *Dispatcher) poll() {
	d.flow.Execute(func() {
		b, ok := d.pop()
		if !ok {
			d.sleeping = true
			return
		}
		d.dispatch(b)
	})
}

func (d *Dispatcher) pop() (Batch, bool) {
	if d.closed.Load() {
		return Batch{}, false
	}
	if d.limit > 0 && len(d.inExecution) >= d.limit {
		return Batch{}, false
	}
	b, ok := d.queue.Pop()
	if ok {
		d.metrics.setQueued(d.queue.Len())
	}
	return b, ok
}

// dispatch runs all tasks of the batch on the executor and polls for the next
// batch once every one of them returned.
func (d *Dispatcher) dispatch(b Batch) {
	if d.limit > 0 {
		d.inExecution[b.Key] = struct{}{}
		d.metrics.setInExecution(len(d.inExecution))
	}
	d.metrics.incDispatched()
	if len(b.Tasks) == 0 {
		d.poll()
		return
	}
	var remaining atomic.Int64
	remaining.Store(int64(len(b.Tasks)))
	for _, t := range b.Tasks {
		d.conf.Executor.Execute(func() {
			t()
			if remaining.Add(-1) == 0 {
				d.poll()
			}
		})
	}
}
