// Package distance computes the levels of chunks from the tickets placed on
// them and from the positions of players. Levels spread outward from tickets,
// increasing by one per chunk of chessboard distance.
package distance

import (
	"log/slog"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/holder"
	"github.com/df-mc/chunkflow/server/world/propagate"
	"github.com/df-mc/chunkflow/server/world/task"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"github.com/google/uuid"
)

// ChunkMap owns the holders whose levels a Manager computes.
type ChunkMap interface {
	holder.Map
	// Holder returns the holder at pos, or nil if the chunk is not loaded.
	Holder(pos chunk.Pos) *holder.Holder
	// UpdateScheduling applies a level change of the chunk at pos. h is the
	// current holder or nil. The holder to update the futures of is returned,
	// or nil if there is none.
	UpdateScheduling(pos chunk.Pos, level int, h *holder.Holder, old int) *holder.Holder
}

// Config holds the settings of a Manager.
type Config struct {
	// Log is the Logger to use. If nil, slog.Default() is used.
	Log *slog.Logger
	// Main runs work on the main context, the context on which all methods of
	// the Manager are called. If nil, async.Inline is used.
	Main async.Executor
	// ViewDistance is the radius in chunks around players in which chunks
	// are loaded. If zero or lower, DefaultViewDistance is used.
	ViewDistance int
	// SimulationDistance is the radius in chunks around players in which
	// chunks are ticked. If zero or lower, DefaultSimulationDistance is used.
	SimulationDistance int
	// PlayerTicketThrottle is the amount of chunks for which player tickets
	// may be added at once. If zero or lower, task.DefaultThrottle is used.
	PlayerTicketThrottle int
}

const (
	// DefaultViewDistance is the view distance used if none is configured.
	DefaultViewDistance = 8
	// MaxViewDistance is the largest view distance supported.
	MaxViewDistance = playerTicketRange - 1
	// DefaultSimulationDistance is the simulation distance used if none is
	// configured.
	DefaultSimulationDistance = 10
	// NaturalSpawnDistance is the radius in chunks around players in which
	// mobs may spawn naturally.
	NaturalSpawnDistance = 8
)

// Manager tracks tickets and players and keeps the levels of the holders in a
// ChunkMap up to date. A Manager is not safe for concurrent use: all methods
// must be called on the main context.
type Manager struct {
	conf   Config
	chunks ChunkMap

	tickets *ticket.Storage
	loading *propagate.Graph

	ticking      *tickingTracker
	naturalSpawn *playerDistance
	playerTicket *playerTicketTracker
	dispatcher   *task.Dispatcher

	players         map[uuid.UUID]chunk.Pos
	playersPerChunk map[int64]map[uuid.UUID]struct{}

	toUpdateFutures  []*holder.Holder
	queuedFutures    map[*holder.Holder]struct{}
	ticketsToRelease map[int64]struct{}

	simulationDistance int
}

// New creates a Manager for the holders of chunks.
func (conf Config) New(chunks ChunkMap) *Manager {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Main == nil {
		conf.Main = async.Inline
	}
	if conf.ViewDistance <= 0 {
		conf.ViewDistance = DefaultViewDistance
	}
	if conf.SimulationDistance <= 0 {
		conf.SimulationDistance = DefaultSimulationDistance
	}
	m := &Manager{
		conf:               conf,
		chunks:             chunks,
		tickets:            ticket.NewStorage(chunk.AbsentLevel),
		ticking:            newTickingTracker(),
		players:            make(map[uuid.UUID]chunk.Pos),
		playersPerChunk:    make(map[int64]map[uuid.UUID]struct{}),
		queuedFutures:      make(map[*holder.Holder]struct{}),
		ticketsToRelease:   make(map[int64]struct{}),
		simulationDistance: conf.SimulationDistance,
	}
	m.loading = propagate.New(chunk.AbsentLevel+1, loadingStore{m: m})
	m.naturalSpawn = newPlayerDistance(m, NaturalSpawnDistance, nil)
	m.dispatcher = task.NewThrottlingDispatcher(task.DispatcherConfig{
		Name:     "player_ticket",
		Log:      conf.Log,
		Levels:   playerTicketRange + 2,
		Spawner:  conf.Main,
		Executor: conf.Main,
	}, conf.PlayerTicketThrottle)
	m.playerTicket = newPlayerTicketTracker(m, m.dispatcher)
	m.SetViewDistance(conf.ViewDistance)
	return m
}

// AddTicket adds a ticket of type t at pos. Adding a ticket equal to one that
// already exists refreshes the lifetime of the existing ticket.
func (m *Manager) AddTicket(t *ticket.Type, pos chunk.Pos, level int, key any) {
	m.addTicket(pos.Key(), ticket.New(t, level, key))
}

// RemoveTicket removes the ticket at pos equal to the one passed.
func (m *Manager) RemoveTicket(t *ticket.Type, pos chunk.Pos, level int, key any) {
	m.removeTicket(pos.Key(), ticket.New(t, level, key))
}

// AddRegionTicket adds a ticket of type t at pos that keeps the chunks within
// radius fully loaded. The chunks within radius-2 are also simulated.
func (m *Manager) AddRegionTicket(t *ticket.Type, pos chunk.Pos, radius int, key any) {
	level := chunk.FullLevel - radius
	m.addTicket(pos.Key(), ticket.New(t, level, key))
	m.ticking.addTicket(pos.Key(), ticket.New(t, level, key))
}

// RemoveRegionTicket removes a ticket added using AddRegionTicket.
func (m *Manager) RemoveRegionTicket(t *ticket.Type, pos chunk.Pos, radius int, key any) {
	level := chunk.FullLevel - radius
	m.removeTicket(pos.Key(), ticket.New(t, level, key))
	m.ticking.removeTicket(pos.Key(), ticket.New(t, level, key))
}

func (m *Manager) addTicket(key int64, t *ticket.Ticket) {
	if old, _ := m.tickets.Add(key, t); t.Level < old {
		m.loading.Update(key, t.Level, true)
	}
}

func (m *Manager) removeTicket(key int64, t *ticket.Ticket) {
	level, _ := m.tickets.Remove(key, t)
	m.loading.Update(key, level, false)
}

// PurgeStaleTickets ages all timed tickets by a tick and removes the ones
// whose lifetime ran out.
func (m *Manager) PurgeStaleTickets() {
	m.tickets.Purge(func(key int64, level int) {
		m.loading.Update(key, level, false)
	})
	m.ticking.purge()
}

// TicketsAt returns the tickets placed at pos.
func (m *Manager) TicketsAt(pos chunk.Pos) []*ticket.Ticket {
	return m.tickets.Tickets(pos.Key())
}

// HasTickets checks if any chunk holds a ticket.
func (m *Manager) HasTickets() bool {
	return m.tickets.Len() > 0
}

// Level returns the committed level of the chunk at pos.
func (m *Manager) Level(pos chunk.Pos) int {
	return loadingStore{m: m}.Level(pos.Key())
}

// RunAllUpdates propagates all pending level changes and updates the futures
// of the holders whose level changed. It reports whether any level changed.
// Player tickets whose chunks settled are released to the throttler when
// there was nothing else to do.
func (m *Manager) RunAllUpdates() bool {
	m.naturalSpawn.runAllUpdates()
	m.ticking.graph.RunAllUpdates()
	m.playerTicket.runAllUpdates()

	changed := m.loading.RunUpdates(unbounded) != unbounded
	if changed {
		m.conf.Log.Debug("distance manager update", "changed", len(m.toUpdateFutures))
	}
	if len(m.toUpdateFutures) > 0 {
		holders := m.toUpdateFutures
		m.toUpdateFutures = nil
		clear(m.queuedFutures)
		for _, h := range holders {
			h.UpdateHighestAllowedStatus(m.chunks)
		}
		for _, h := range holders {
			h.UpdateFutures(m.chunks, m.conf.Main)
		}
		return true
	}
	if len(m.ticketsToRelease) > 0 {
		// Releasing may add tickets for the next chunks right away.
		keys := m.ticketsToRelease
		m.ticketsToRelease = make(map[int64]struct{})
		for key := range keys {
			m.releasePlayerTicket(key)
		}
	}
	return changed
}

// releasePlayerTicket frees the throttler slot of the chunk at key once its
// entity ticking future completes.
func (m *Manager) releasePlayerTicket(key int64) {
	if !m.tickets.Has(key, ticket.Player) {
		return
	}
	pos := chunk.PosFromKey(key)
	h := m.chunks.Holder(pos)
	if h == nil {
		panic("no holder for chunk " + pos.String() + " with a player ticket")
	}
	h.EntityTickingFuture().OnComplete(func(holder.ChunkResult) {
		m.conf.Main.Execute(func() {
			m.dispatcher.Release(key, nil, false)
		})
	})
}

func (m *Manager) queueFutureUpdate(h *holder.Holder) {
	if _, ok := m.queuedFutures[h]; ok {
		return
	}
	m.queuedFutures[h] = struct{}{}
	m.toUpdateFutures = append(m.toUpdateFutures, h)
}

// HasWork checks if level changes or player ticket work is still pending.
func (m *Manager) HasWork() bool {
	return m.loading.HasWork() || len(m.toUpdateFutures) > 0 || len(m.ticketsToRelease) > 0 || m.dispatcher.HasWork()
}

// Close stops adding player tickets.
func (m *Manager) Close() {
	m.dispatcher.Close()
}
