package distance

import (
	"math"

	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/propagate"
	"github.com/df-mc/chunkflow/server/world/task"
	"github.com/df-mc/chunkflow/server/world/ticket"
)

// loadingStore connects the loading graph to the ticket levels of holders.
// Committing a level updates the scheduling of the chunk and queues its holder
// to have its futures updated.
type loadingStore struct {
	m *Manager
}

func (s loadingStore) SourceLevel(key int64) int {
	return s.m.tickets.Level(key)
}

func (s loadingStore) Level(key int64) int {
	if h := s.m.chunks.Holder(chunk.PosFromKey(key)); h != nil {
		return h.TicketLevel()
	}
	return chunk.AbsentLevel
}

func (s loadingStore) SetLevel(key int64, level int) {
	pos := chunk.PosFromKey(key)
	h := s.m.chunks.Holder(pos)
	old := chunk.AbsentLevel
	if h != nil {
		old = h.TicketLevel()
	}
	if old == level {
		return
	}
	if h = s.m.chunks.UpdateScheduling(pos, level, h, old); h != nil {
		s.m.queueFutureUpdate(h)
	}
}

// playerDistance tracks the chessboard distance to the nearest chunk holding a
// player, up to a maximum distance.
type playerDistance struct {
	graph  *propagate.Graph
	levels *propagate.LevelMap
}

func newPlayerDistance(m *Manager, maxDistance int, changed func(key int64, old, new int)) *playerDistance {
	d := &playerDistance{}
	unreachable := maxDistance + 1
	d.levels = propagate.NewLevelMap(unreachable, func(key int64) int {
		if len(m.playersPerChunk[key]) > 0 {
			return 0
		}
		return unreachable
	}, changed)
	d.graph = propagate.New(maxDistance+2, d.levels)
	return d
}

func (d *playerDistance) runAllUpdates() {
	d.graph.RunAllUpdates()
}

// tickingTracker computes the simulation level of chunks from its own copy of
// player and region tickets.
type tickingTracker struct {
	graph   *propagate.Graph
	levels  *propagate.LevelMap
	tickets *ticket.Storage
}

// tickingLevels is the amount of levels of the ticking graph. Level
// tickingLevels-1 means the chunk is not simulated.
const tickingLevels = chunk.FullLevel + 1

func newTickingTracker() *tickingTracker {
	t := &tickingTracker{tickets: ticket.NewStorage(tickingLevels - 1)}
	t.levels = propagate.NewLevelMap(tickingLevels-1, t.tickets.Level, nil)
	t.graph = propagate.New(tickingLevels, t.levels)
	return t
}

func (t *tickingTracker) addTicket(key int64, tk *ticket.Ticket) {
	if old, _ := t.tickets.Add(key, tk); tk.Level < old {
		t.graph.Update(key, tk.Level, true)
	}
}

func (t *tickingTracker) removeTicket(key int64, tk *ticket.Ticket) {
	level, _ := t.tickets.Remove(key, tk)
	t.graph.Update(key, level, false)
}

func (t *tickingTracker) purge() {
	t.tickets.Purge(func(key int64, level int) {
		t.graph.Update(key, level, false)
	})
}

// replacePlayerTicketsLevel moves all player tickets to level.
func (t *tickingTracker) replacePlayerTicketsLevel(level int) {
	for _, key := range t.tickets.Keys() {
		for _, tk := range t.tickets.Tickets(key) {
			if tk.Type != ticket.Player {
				continue
			}
			t.removeTicket(key, tk)
			t.addTicket(key, ticket.New(ticket.Player, level, tk.Key))
		}
	}
}

func (t *tickingTracker) level(key int64) int {
	return t.levels.Level(key)
}

// playerTicketTracker adds player tickets to chunks within the view distance
// of a player. Tickets are added through a throttling dispatcher, so that the
// chunks closest to players are loaded first.
type playerTicketTracker struct {
	m *Manager
	*playerDistance
	dispatcher   *task.Dispatcher
	viewDistance int
	queueLevels  map[int64]int
	toUpdate     map[int64]struct{}
}

// playerTicketRange is the largest distance from a player that is tracked for
// player tickets. Level playerTicketRange+1 means no player is in range.
const playerTicketRange = 32

func newPlayerTicketTracker(m *Manager, dispatcher *task.Dispatcher) *playerTicketTracker {
	t := &playerTicketTracker{
		m:           m,
		dispatcher:  dispatcher,
		queueLevels: make(map[int64]int),
		toUpdate:    make(map[int64]struct{}),
	}
	t.playerDistance = newPlayerDistance(m, playerTicketRange, func(key int64, _, _ int) {
		t.toUpdate[key] = struct{}{}
	})
	return t
}

func (t *playerTicketTracker) queueLevel(key int64) int {
	if l, ok := t.queueLevels[key]; ok {
		return l
	}
	return playerTicketRange + 1
}

func (t *playerTicketTracker) haveTicketFor(level int) bool {
	return level <= t.viewDistance
}

func (t *playerTicketTracker) updateViewDistance(d int) {
	old := t.viewDistance
	t.viewDistance = d
	t.levels.Each(func(key int64, level int) {
		t.onLevelChange(key, level, level <= old, level <= d)
	})
}

func (t *playerTicketTracker) runAllUpdates() {
	t.graph.RunAllUpdates()
	for key := range t.toUpdate {
		old, level := t.queueLevel(key), t.levels.Level(key)
		if old != level {
			t.dispatcher.OnLevelChange(key, level, func(q int) {
				if q >= playerTicketRange+1 {
					delete(t.queueLevels, key)
				} else {
					t.queueLevels[key] = q
				}
			})
			t.onLevelChange(key, level, t.haveTicketFor(old), t.haveTicketFor(level))
		}
	}
	clear(t.toUpdate)
}

// onLevelChange adds or removes the player ticket of the chunk at key when it
// moved into or out of the view distance of a player.
func (t *playerTicketTracker) onLevelChange(key int64, level int, saw, sees bool) {
	if saw == sees {
		return
	}
	pos := chunk.PosFromKey(key)
	tk := ticket.New(ticket.Player, chunk.EntityTickingLevel, pos)
	if sees {
		t.dispatcher.Submit(func() {
			t.m.conf.Main.Execute(func() {
				if t.haveTicketFor(t.levels.Level(key)) {
					t.m.addTicket(key, tk)
					t.m.ticketsToRelease[key] = struct{}{}
					return
				}
				t.dispatcher.Release(key, nil, false)
			})
		}, key, func() int { return level })
		return
	}
	t.dispatcher.Release(key, func() {
		t.m.conf.Main.Execute(func() { t.m.removeTicket(key, tk) })
	}, true)
}

// unbounded is the budget used to run graph updates until they are done.
const unbounded = math.MaxInt
