// Package chunkmap owns the holders of a world. It creates and drops holders
// as their ticket levels change, applies generation steps on the task pool and
// publishes a read-only view of its holders after every update pass.
package chunkmap

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generation"
	"github.com/df-mc/chunkflow/server/world/holder"
	"github.com/df-mc/chunkflow/server/world/storage"
	"github.com/df-mc/chunkflow/server/world/task"
)

// Listener is notified of changes to the chunks of a Map. Its methods are
// called on the main context.
type Listener interface {
	// HandleFullStatusChange is called when the FullStatus of the chunk at pos
	// changed.
	HandleFullStatusChange(pos chunk.Pos, status chunk.FullStatus)
	// HandleUnload is called after c was saved and dropped from memory.
	HandleUnload(c *chunk.Chunk)
}

// NopListener implements a Listener that does nothing.
type NopListener struct{}

func (NopListener) HandleFullStatusChange(chunk.Pos, chunk.FullStatus) {}
func (NopListener) HandleUnload(*chunk.Chunk) {}

// Config holds the settings of a Map.
type Config struct {
	// Log is the Logger to use. If nil, slog.Default() is used.
	Log *slog.Logger
	// Provider loads and stores chunks. If nil, storage.NopProvider is used.
	Provider storage.Provider
	// Generator advances chunks through generation statuses. If nil,
	// generation.NopGenerator is used.
	Generator generation.Generator
	// Main runs work that must happen on the main context. It must not run
	// functions before returning. If nil, async.Inline is used, which is only
	// suitable for tests.
	Main async.Executor
	// Pool runs generation steps and dispatcher flows. If nil, a task.Pool is
	// created and closed together with the Map.
	Pool async.Executor
	// Listener is notified of status changes and unloads. If nil, NopListener
	// is used.
	Listener Listener
	// QueueLevels is the amount of priority levels of the worldgen and light
	// dispatchers. If zero or lower, chunk.MaxLevel+2 is used.
	QueueLevels int
}

// Map holds the holders of all chunks with a ticket level at which they are
// loaded. The updating holders are only accessed on the main context. The
// visible holders are a copy of them published by PromoteChunkMap and may be
// read from any goroutine.
type Map struct {
	conf   Config
	ctx    context.Context
	cancel context.CancelFunc
	pool   *task.Pool

	worldgen *task.Dispatcher
	light    *task.Dispatcher

	updating map[int64]*holder.Holder
	visible  atomic.Pointer[map[int64]*holder.Holder]
	modified bool

	pendingUnloads map[int64]*holder.Holder
	toDrop         map[int64]struct{}
	unloads        *task.Mailbox
	pendingTasks   []*generation.Task
}

// New creates a Map using the settings of the Config.
func (conf Config) New() *Map {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Provider == nil {
		conf.Provider = storage.NopProvider{}
	}
	if conf.Generator == nil {
		conf.Generator = generation.NopGenerator{}
	}
	if conf.Main == nil {
		conf.Main = async.Inline
	}
	if conf.Listener == nil {
		conf.Listener = NopListener{}
	}
	m := &Map{
		updating:       make(map[int64]*holder.Holder),
		pendingUnloads: make(map[int64]*holder.Holder),
		toDrop:         make(map[int64]struct{}),
		unloads:        task.NewMailbox(),
	}
	if conf.Pool == nil {
		m.pool = task.PoolConfig{Log: conf.Log}.New()
		conf.Pool = m.pool
	}
	m.conf = conf
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.worldgen = task.NewDispatcher(task.DispatcherConfig{Name: "worldgen", Log: conf.Log, Levels: conf.QueueLevels, Spawner: conf.Pool})
	m.light = task.NewDispatcher(task.DispatcherConfig{Name: "light", Log: conf.Log, Levels: conf.QueueLevels, Spawner: conf.Pool})

	visible := make(map[int64]*holder.Holder)
	m.visible.Store(&visible)
	return m
}

// Holder returns the updating holder of the chunk at pos, or nil if the chunk
// is not loaded. It must only be called on the main context.
func (m *Map) Holder(pos chunk.Pos) *holder.Holder {
	return m.updating[pos.Key()]
}

// VisibleHolder returns the holder of the chunk at pos as of the last
// PromoteChunkMap call, or nil if it was not loaded then.
func (m *Map) VisibleHolder(pos chunk.Pos) *holder.Holder {
	return (*m.visible.Load())[pos.Key()]
}

// Len returns the amount of updating holders.
func (m *Map) Len() int {
	return len(m.updating)
}

// UpdateScheduling applies a new ticket level to the chunk at pos. h is the
// current holder of the chunk, or nil if it has none, and old its previous
// level. A holder is created, or revived from the pending unloads, when the
// chunk becomes loaded. Holders whose level drops below the loaded range are
// queued to be dropped by ProcessUnloads. The holder of the chunk is returned.
func (m *Map) UpdateScheduling(pos chunk.Pos, level int, h *holder.Holder, old int) *holder.Holder {
	if !chunk.IsLoaded(old) && !chunk.IsLoaded(level) {
		return h
	}
	key := pos.Key()
	if h != nil {
		h.SetTicketLevel(level)
		if chunk.IsLoaded(level) {
			delete(m.toDrop, key)
		} else {
			m.toDrop[key] = struct{}{}
		}
	}
	if chunk.IsLoaded(level) && h == nil {
		if h = m.pendingUnloads[key]; h != nil {
			delete(m.pendingUnloads, key)
			h.SetTicketLevel(level)
		} else {
			h = holder.New(pos, level)
		}
		m.updating[key] = h
		m.modified = true
	}
	return h
}

// PromoteChunkMap publishes the updating holders as the visible holders if
// they changed. It reports if a new map was published.
func (m *Map) PromoteChunkMap() bool {
	if !m.modified {
		return false
	}
	visible := maps.Clone(m.updating)
	m.visible.Store(&visible)
	m.modified = false
	return true
}

// AcquireGeneration ...
func (m *Map) AcquireGeneration(pos chunk.Pos) *holder.Holder {
	h := m.updating[pos.Key()]
	if h == nil {
		panic(fmt.Sprintf("generation needs chunk %v, but it has no holder", pos))
	}
	h.IncreaseGenerationRefCount()
	return h
}

// ReleaseGeneration ...
func (m *Map) ReleaseGeneration(h *holder.Holder) {
	h.DecreaseGenerationRefCount()
}

// ScheduleGenerationTask creates a generation task that starts running on the
// next call to RunGenerationTasks.
func (m *Map) ScheduleGenerationTask(target chunk.Status, pos chunk.Pos) holder.Task {
	t := generation.NewTask(m, target, pos)
	m.pendingTasks = append(m.pendingTasks, t)
	return t
}

// RunGenerationTasks submits the generation tasks scheduled since the last
// call to the worldgen dispatcher.
func (m *Map) RunGenerationTasks() {
	for _, t := range m.pendingTasks {
		m.runGenerationTask(t)
	}
	clear(m.pendingTasks)
	m.pendingTasks = m.pendingTasks[:0]
}

// runGenerationTask runs t on the worldgen dispatcher at the queue level of its
// chunk until it waits for a future, then runs it again once that future
// completes.
func (m *Map) runGenerationTask(t *generation.Task) {
	h := t.Holder()
	m.worldgen.Submit(func() {
		if f := t.RunUntilWait(); f != nil {
			f.OnComplete(func(holder.ChunkResult) { m.runGenerationTask(t) })
		}
	}, h.Pos().Key(), h.QueueLevel)
}

// OnFullStatusChange ...
func (m *Map) OnFullStatusChange(pos chunk.Pos, status chunk.FullStatus) {
	m.conf.Listener.HandleFullStatusChange(pos, status)
}

// OnLevelChange moves the queued work of the chunk at pos in both dispatchers.
func (m *Map) OnLevelChange(pos chunk.Pos, level int, setQueueLevel func(level int)) {
	m.worldgen.OnLevelChange(pos.Key(), level, setQueueLevel)
	m.light.OnLevelChange(pos.Key(), level, nil)
}

// HasWork checks if either dispatcher still has work queued.
func (m *Map) HasWork() bool {
	return m.worldgen.HasWork() || m.light.HasWork()
}

// Metrics is a snapshot of the state of a Map.
type Metrics struct {
	Loaded         int
	PendingUnloads int
	Worldgen       task.MetricsSnapshot
	Light          task.MetricsSnapshot
}

// Metrics returns a snapshot of the state of the Map. It must only be called
// on the main context.
func (m *Map) Metrics() Metrics {
	return Metrics{
		Loaded:         len(m.updating),
		PendingUnloads: len(m.pendingUnloads),
		Worldgen:       m.worldgen.Metrics().Snapshot(),
		Light:          m.light.Metrics().Snapshot(),
	}
}

// Cancel stops the dispatchers and cancels the context passed to the
// Generator. Steps already running on the pool keep running. It must be
// called on the main context.
func (m *Map) Cancel() {
	m.worldgen.Close()
	m.light.Close()
	m.cancel()
	m.pendingTasks = nil
}

// Close cancels all work on the chunks of the Map and saves every loaded
// chunk. Futures that did not complete yet complete with the unloaded result.
// If the Map was created with a Pool, no step may be running on it when Close
// is called: Cancel the Map and close the Pool first. It must be called on the
// main context.
func (m *Map) Close() {
	m.Cancel()
	if m.pool != nil {
		m.pool.Close()
	}
	for _, hs := range [...]map[int64]*holder.Holder{m.updating, m.pendingUnloads} {
		for _, h := range hs {
			h.Cancel()
		}
	}
	for _, hs := range [...]map[int64]*holder.Holder{m.updating, m.pendingUnloads} {
		for _, h := range hs {
			m.saveHolder(h)
		}
	}
	met := m.Metrics()
	m.conf.Log.Debug("chunk map closed", "loaded", met.Loaded, "worldgen_dispatched", met.Worldgen.Dispatched, "light_dispatched", met.Light.Dispatched)
}
