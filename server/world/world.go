// Package world ties the chunk engine together. A World owns the holders of
// its chunks, the tickets and players that demand them and the main context on
// which all scheduling decisions are made. The main context is the goroutine
// running the transactions passed to World.Exec.
package world

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/chunkmap"
	"github.com/df-mc/chunkflow/server/world/distance"
	"github.com/df-mc/chunkflow/server/world/holder"
	"github.com/df-mc/chunkflow/server/world/task"
)

// ErrClosed is the failure of requests made to a World after it was closed.
var ErrClosed = errors.New("world closed")

// World manages the chunks of a streamed world: which chunks are loaded, how
// far they are generated and which of them are ticked. World methods are safe
// for simultaneous calls. Methods that change the state of the World run as a
// transaction on the main context.
type World struct {
	conf Config
	o    sync.Once

	queue        chan transaction
	queueClosing chan struct{}
	queueing     sync.WaitGroup

	closing chan struct{}
	closed  atomic.Bool
	running sync.WaitGroup

	// main holds work that must run on the main context. wake is signalled
	// when work is added to it.
	main *task.Mailbox
	wake chan struct{}

	pool     *task.Pool
	chunks   *chunkmap.Map
	distance *distance.Manager

	handler atomic.Pointer[Handler]

	// fullStatus holds the last FullStatus reported for every chunk that is
	// at least accessible. It is only accessed on the main context.
	fullStatus map[chunk.Pos]chunk.FullStatus
	requests   uint64

	currentTick atomic.Int64
	tps         atomic.Uint64
}

// New creates a new World with a default Config. Chunks are generated using
// generation.NopGenerator and never saved.
func New() *World {
	var conf Config
	return conf.New()
}

// Execute queues f to run on the main context. It implements async.Executor
// and never blocks.
func (w *World) Execute(f func()) {
	w.main.Push(f)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// CurrentTick returns the amount of ticks the World has performed.
func (w *World) CurrentTick() int64 {
	return w.currentTick.Load()
}

// TPS returns the average ticks per second of the World over the last
// tpsSampleSize ticks, or zero if no samples were recorded yet.
func (w *World) TPS() float64 {
	return math.Float64frombits(w.tps.Load())
}

// ExecFunc is a function that performs a synchronised transaction on a World.
type ExecFunc func(tx *Tx)

// Exec performs a synchronised transaction f on the main context of the
// World. Exec blocks until the main context takes the transaction and returns
// a channel that is closed once the transaction is complete. Transactions
// passed after the World was closed are not run.
func (w *World) Exec(f ExecFunc) <-chan struct{} {
	return w.exec(f, nil)
}

// exec queues f like Exec. If f is never run because the World closed, abort
// is called if non-nil.
func (w *World) exec(f ExecFunc, abort func()) <-chan struct{} {
	c := make(chan struct{})
	select {
	case w.queue <- normalTransaction{c: c, f: f, abort: abort}:
	case <-w.queueClosing:
		if abort != nil {
			abort()
		}
		close(c)
	}
	return c
}

// handleTransactions runs the main context: transactions from the queue and
// work added using Execute, until the World is closed.
func (w *World) handleTransactions() {
	for {
		select {
		case tx := <-w.queue:
			tx.Run(w)
			w.main.Drain()
		case <-w.wake:
			w.main.Drain()
		case <-w.queueClosing:
			w.main.Drain()
			w.queueing.Done()
			return
		}
	}
}

// RequestStage returns a future that completes with the chunk at pos once it
// reached status s. The chunk is kept loaded until the future completes. The
// future completes with the unloaded result if the chunk is unloaded first,
// for example because its generation failed. After Close, the future
// completes with ErrClosed. RequestStage blocks until the main context takes
// the request, so within a transaction Tx.RequestStage must be used instead.
func (w *World) RequestStage(pos chunk.Pos, s chunk.Status) *holder.ChunkFuture {
	if w.closed.Load() {
		return async.Completed(async.Failure[*chunk.Chunk](ErrClosed))
	}
	f := async.NewFuture[holder.ChunkResult]()
	w.exec(func(tx *Tx) {
		tx.RequestStage(pos, s).OnComplete(func(r holder.ChunkResult) { f.Complete(r) })
	}, func() {
		f.Complete(async.Failure[*chunk.Chunk](ErrClosed))
	})
	return f
}

// Level returns the ticket level of the chunk at pos, or chunk.AbsentLevel if
// the chunk is not loaded. The level returned is that of the holders
// published after the last update pass.
func (w *World) Level(pos chunk.Pos) int {
	if h := w.chunks.VisibleHolder(pos); h != nil {
		return h.TicketLevel()
	}
	return chunk.AbsentLevel
}

// IsLoaded checks if the chunk at pos is a full chunk.
func (w *World) IsLoaded(pos chunk.Pos) bool {
	h := w.chunks.VisibleHolder(pos)
	return h != nil && h.FullChunk() != nil
}

// IsTicking checks if blocks in the chunk at pos are ticked.
func (w *World) IsTicking(pos chunk.Pos) bool {
	h := w.chunks.VisibleHolder(pos)
	return h != nil && h.TickingChunk() != nil
}

// IsEntityTicking checks if entities in the chunk at pos are ticked.
func (w *World) IsEntityTicking(pos chunk.Pos) bool {
	h := w.chunks.VisibleHolder(pos)
	return h != nil && h.EntityTickingChunk() != nil
}

// Metrics is a snapshot of the state of the chunk engine of a World.
type Metrics struct {
	chunkmap.Metrics
	Tick            int64
	TPS             float64
	Players         int
	PoolSaturation  uint64
	NaturalSpawning int
}

// Metrics returns a snapshot of the state of the World.
func (w *World) Metrics() Metrics {
	var m Metrics
	<-w.Exec(func(tx *Tx) {
		m = Metrics{
			Metrics:         w.chunks.Metrics(),
			Players:         w.distance.PlayerCount(),
			NaturalSpawning: w.distance.NaturalSpawnChunkCount(),
		}
	})
	m.Tick, m.TPS, m.PoolSaturation = w.CurrentTick(), w.TPS(), w.pool.Saturation()
	return m
}

// Save saves all loaded chunks that changed since they were last saved.
func (w *World) Save() {
	<-w.Exec(func(*Tx) {
		w.conf.Log.Debug("Saving chunks in memory to disk...")
		w.chunks.Save(true)
	})
}

// autoSave saves chunks at the SaveInterval until the World is closed.
func (w *World) autoSave() {
	defer w.running.Done()
	save := &time.Ticker{C: make(<-chan time.Time)}
	if w.conf.SaveInterval > 0 {
		save = time.NewTicker(w.conf.SaveInterval)
		defer save.Stop()
	}
	for {
		select {
		case <-save.C:
			<-w.Exec(func(*Tx) { w.chunks.Save(false) })
		case <-w.closing:
			return
		}
	}
}

// Close closes the World and saves all chunks currently loaded.
func (w *World) Close() error {
	w.o.Do(w.close)
	return nil
}

// close stops the World from ticking, saves all chunks to the Provider and
// closes it.
func (w *World) close() {
	w.closed.Store(true)
	<-w.Exec(func(tx *Tx) {
		// Let user code run anything that needs to be finished before closing.
		w.Handler().HandleClose(tx)
		w.Handle(NopHandler{})
	})

	close(w.closing)
	w.running.Wait()

	// Stop new work first and wait for the steps still running on the pool,
	// so that no chunk is written to while it is saved.
	<-w.Exec(func(*Tx) {
		w.distance.Close()
		w.chunks.Cancel()
	})
	w.pool.Close()
	<-w.Exec(func(*Tx) {
		w.chunks.Close()
	})

	close(w.queueClosing)
	w.queueing.Wait()

	w.conf.Log.Debug("Closing provider...")
	if err := w.conf.Provider.Close(); err != nil {
		w.conf.Log.Error("close world provider: " + err.Error())
	}
}

// runUpdates runs update passes until levels settled and the holders were
// published, or until maxUpdatePasses passes ran.
func (w *World) runUpdates() {
	for range maxUpdatePasses {
		changed := w.distance.RunAllUpdates()
		promoted := w.chunks.PromoteChunkMap()
		w.chunks.RunGenerationTasks()
		if !changed && !promoted {
			return
		}
	}
}

// maxUpdatePasses bounds the update passes run in a single tick.
const maxUpdatePasses = 16
