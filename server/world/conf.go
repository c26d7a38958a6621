package world

import (
	"log/slog"
	"time"

	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/chunkmap"
	"github.com/df-mc/chunkflow/server/world/distance"
	"github.com/df-mc/chunkflow/server/world/generation"
	"github.com/df-mc/chunkflow/server/world/storage"
	"github.com/df-mc/chunkflow/server/world/task"
)

// Config may be used to create a new World. It holds the collaborators and
// the tuning values of the chunk engine.
type Config struct {
	// Log is the Logger that will be used to log errors and debug messages to.
	// If set to nil, slog.Default() is set.
	Log *slog.Logger
	// ReadOnly specifies if chunks are never written back to the Provider.
	ReadOnly bool
	// Provider loads and stores chunks. If nil, storage.NopProvider is used,
	// so that chunks are generated every time they are loaded.
	Provider storage.Provider
	// Generator advances chunks through their generation statuses. If nil,
	// generation.NopGenerator is used.
	Generator generation.Generator
	// Workers is the amount of goroutines that run generation steps. If zero
	// or lower, runtime.NumCPU() is used.
	Workers int
	// QueueSize is the capacity of the work queue of the workers. If zero or
	// lower, a size based on Workers is used.
	QueueSize int
	// QueueLevels is the amount of priority levels of the worldgen and light
	// queues. If zero or lower, chunk.MaxLevel+2 is used.
	QueueLevels int
	// PlayerTicketThrottle is the amount of chunks for which player tickets
	// may be issued at the same time. If zero or lower,
	// task.DefaultThrottle is used.
	PlayerTicketThrottle int
	// ViewDistance is the radius in chunks around players in which chunks
	// are loaded. If zero or lower, distance.DefaultViewDistance is used.
	ViewDistance int
	// SimulationDistance is the radius in chunks around players in which
	// chunks are ticked. If zero or lower, distance.DefaultSimulationDistance
	// is used.
	SimulationDistance int
	// TickInterval is the time between two ticks of the World. If zero or
	// lower, a tick is performed every 50ms.
	TickInterval time.Duration
	// SaveInterval is the interval at which chunks that were fully loaded
	// are saved. If zero or lower, chunks are only saved when unloaded and
	// when the World is closed.
	SaveInterval time.Duration
	// HandlerWrap, if non-nil, wraps every Handler assigned using
	// World.Handle, for example to add logging or metrics to it.
	HandlerWrap HandlerWrapper
}

// New creates a new World using the Config conf. The World starts ticking as
// soon as it is returned.
func (conf Config) New() *World {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Provider == nil {
		conf.Provider = storage.NopProvider{}
	}
	if conf.ReadOnly {
		conf.Provider = readOnlyProvider{Provider: conf.Provider}
	}
	if conf.Generator == nil {
		conf.Generator = generation.NopGenerator{}
	}
	if conf.TickInterval <= 0 {
		conf.TickInterval = time.Second / 20
	}
	w := &World{
		conf:         conf,
		queue:        make(chan transaction),
		queueClosing: make(chan struct{}),
		closing:      make(chan struct{}),
		main:         task.NewMailbox(),
		wake:         make(chan struct{}, 1),
		fullStatus:   make(map[chunk.Pos]chunk.FullStatus),
	}
	w.handler.Store(&nopHandler)
	w.pool = task.PoolConfig{Log: conf.Log, Workers: conf.Workers, QueueSize: conf.QueueSize}.New()
	w.chunks = chunkmap.Config{
		Log:         conf.Log,
		Provider:    conf.Provider,
		Generator:   conf.Generator,
		Main:        w,
		Pool:        w.pool,
		Listener:    listener{w: w},
		QueueLevels: conf.QueueLevels,
	}.New()
	w.distance = distance.Config{
		Log:                  conf.Log,
		Main:                 w,
		ViewDistance:         conf.ViewDistance,
		SimulationDistance:   conf.SimulationDistance,
		PlayerTicketThrottle: conf.PlayerTicketThrottle,
	}.New(w.chunks)

	t := ticker{interval: conf.TickInterval}
	w.queueing.Add(1)
	go w.handleTransactions()
	w.running.Add(2)
	go t.tickLoop(w)
	go w.autoSave()
	return w
}

// readOnlyProvider discards all chunks stored to it.
type readOnlyProvider struct {
	storage.Provider
}

func (readOnlyProvider) Store(*chunk.Chunk) error { return nil }
