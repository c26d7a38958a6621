package distance

import (
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"github.com/google/uuid"
)

// AddPlayer starts tracking the player with the id passed in the chunk at
// pos. Adding a player that is already tracked moves it.
func (m *Manager) AddPlayer(id uuid.UUID, pos chunk.Pos) {
	if old, ok := m.players[id]; ok {
		if old == pos {
			return
		}
		m.removePlayer(id, old)
	}
	m.players[id] = pos
	key := pos.Key()
	set, ok := m.playersPerChunk[key]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		m.playersPerChunk[key] = set
	}
	set[id] = struct{}{}
	m.naturalSpawn.graph.Update(key, 0, true)
	m.playerTicket.graph.Update(key, 0, true)
	m.ticking.addTicket(key, ticket.New(ticket.Player, m.playerTicketLevel(), pos))
}

// MovePlayer moves a tracked player to the chunk at pos. Nothing happens if
// the player did not change chunks.
func (m *Manager) MovePlayer(id uuid.UUID, pos chunk.Pos) {
	m.AddPlayer(id, pos)
}

// RemovePlayer stops tracking the player with the id passed.
func (m *Manager) RemovePlayer(id uuid.UUID) {
	if pos, ok := m.players[id]; ok {
		m.removePlayer(id, pos)
	}
}

func (m *Manager) removePlayer(id uuid.UUID, pos chunk.Pos) {
	delete(m.players, id)
	key := pos.Key()
	set := m.playersPerChunk[key]
	delete(set, id)
	if len(set) > 0 {
		return
	}
	delete(m.playersPerChunk, key)
	m.naturalSpawn.graph.Update(key, unreachableLevel, false)
	m.playerTicket.graph.Update(key, unreachableLevel, false)
	m.ticking.removeTicket(key, ticket.New(ticket.Player, m.playerTicketLevel(), pos))
}

// unreachableLevel is passed when a chunk stops being a source. Graphs clamp
// it to their highest level.
const unreachableLevel = 1 << 30

// PlayerCount returns the amount of tracked players.
func (m *Manager) PlayerCount() int {
	return len(m.players)
}

// PlayersInChunk returns the amount of players in the chunk at pos.
func (m *Manager) PlayersInChunk(pos chunk.Pos) int {
	return len(m.playersPerChunk[pos.Key()])
}

func (m *Manager) playerTicketLevel() int {
	return max(0, chunk.EntityTickingLevel-m.simulationDistance)
}

// SetViewDistance changes the radius around players in which player tickets
// are added. d is clamped to [0, MaxViewDistance].
func (m *Manager) SetViewDistance(d int) {
	d = max(0, min(d, MaxViewDistance))
	m.conf.ViewDistance = d
	m.playerTicket.updateViewDistance(d + 1)
}

// ViewDistance returns the current view distance.
func (m *Manager) ViewDistance() int {
	return m.conf.ViewDistance
}

// SetSimulationDistance changes the radius around players in which chunks
// are ticked.
func (m *Manager) SetSimulationDistance(d int) {
	if d == m.simulationDistance {
		return
	}
	m.simulationDistance = d
	m.ticking.replacePlayerTicketsLevel(m.playerTicketLevel())
}

// SimulationDistance returns the current simulation distance.
func (m *Manager) SimulationDistance() int {
	return m.simulationDistance
}

// InEntityTickingRange checks if entities in the chunk at pos are simulated.
func (m *Manager) InEntityTickingRange(pos chunk.Pos) bool {
	return chunk.IsEntityTicking(m.ticking.level(pos.Key()))
}

// InBlockTickingRange checks if blocks in the chunk at pos are simulated.
func (m *Manager) InBlockTickingRange(pos chunk.Pos) bool {
	return chunk.IsBlockTicking(m.ticking.level(pos.Key()))
}

// SimulationLevel returns the level of the chunk at pos computed from player
// and region tickets only.
func (m *Manager) SimulationLevel(pos chunk.Pos) int {
	return m.ticking.level(pos.Key())
}

// NaturalSpawnChunkCount returns the amount of chunks close enough to a
// player for mobs to spawn in them.
func (m *Manager) NaturalSpawnChunkCount() int {
	m.naturalSpawn.runAllUpdates()
	return m.naturalSpawn.levels.Len()
}

// HasPlayersNearby checks if the chunk at pos is close enough to a player for
// mobs to spawn in it.
func (m *Manager) HasPlayersNearby(pos chunk.Pos) bool {
	m.naturalSpawn.runAllUpdates()
	return m.naturalSpawn.levels.Contains(pos.Key())
}
