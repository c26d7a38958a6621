package world

import (
	"math"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/holder"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// transaction is a type that may be added to the transaction queue of a World.
// Its Run method is called when the transaction is taken out of the queue.
type transaction interface {
	Run(w *World)
}

// normalTransaction is a transaction that runs f and closes c afterwards. If
// the World closes before the transaction runs, abort is called instead of f.
type normalTransaction struct {
	c     chan struct{}
	f     ExecFunc
	abort func()
}

// Run creates a *Tx and calls f with it.
func (t normalTransaction) Run(w *World) {
	t.f(&Tx{w: w})
	close(t.c)
}

// Tx represents a synchronised transaction performed on a World. Its methods
// must only be called within the ExecFunc it was passed to.
type Tx struct {
	w *World
}

// World returns the World the Tx operates on.
func (tx *Tx) World() *World {
	return tx.w
}

// AddTicket adds a ticket of type t at pos with the level passed. Tickets
// with the same type, level and key are equal: adding an equal ticket again
// only refreshes its lifetime.
func (tx *Tx) AddTicket(t *ticket.Type, pos chunk.Pos, level int, key any) {
	tx.w.distance.AddTicket(t, pos, level, key)
}

// RemoveTicket removes a ticket added using AddTicket.
func (tx *Tx) RemoveTicket(t *ticket.Type, pos chunk.Pos, level int, key any) {
	tx.w.distance.RemoveTicket(t, pos, level, key)
}

// AddRegionTicket adds a ticket of type t at pos that keeps all chunks within
// radius accessible.
func (tx *Tx) AddRegionTicket(t *ticket.Type, pos chunk.Pos, radius int, key any) {
	tx.w.distance.AddRegionTicket(t, pos, radius, key)
}

// RemoveRegionTicket removes a ticket added using AddRegionTicket.
func (tx *Tx) RemoveRegionTicket(t *ticket.Type, pos chunk.Pos, radius int, key any) {
	tx.w.distance.RemoveRegionTicket(t, pos, radius, key)
}

// Tickets returns the tickets placed at pos.
func (tx *Tx) Tickets(pos chunk.Pos) []*ticket.Ticket {
	return tx.w.distance.TicketsAt(pos)
}

// Level returns the current ticket level of the chunk at pos. Changes made
// in this transaction are only reflected after the next update pass.
func (tx *Tx) Level(pos chunk.Pos) int {
	return tx.w.distance.Level(pos)
}

// Holder returns the holder of the chunk at pos, or nil if it is not loaded.
func (tx *Tx) Holder(pos chunk.Pos) *holder.Holder {
	return tx.w.chunks.Holder(pos)
}

// RequestStage returns a future that completes with the chunk at pos once it
// reached status s. A request ticket keeps the chunk at the level required
// for s until the future completes. Once the World is closing, the future
// completes with ErrClosed right away.
func (tx *Tx) RequestStage(pos chunk.Pos, s chunk.Status) *holder.ChunkFuture {
	w := tx.w
	if w.closed.Load() {
		return async.Completed(async.Failure[*chunk.Chunk](ErrClosed))
	}
	level := chunk.LevelForStatus(s)
	w.requests++
	key := w.requests
	w.distance.AddTicket(ticket.Request, pos, level, key)

	h := w.chunks.Holder(pos)
	if h == nil || h.TicketLevel() > level {
		w.runUpdates()
		if h = w.chunks.Holder(pos); h == nil || h.TicketLevel() > level {
			panic("no holder for chunk " + pos.String() + " after a request ticket was added")
		}
	}
	f := h.ScheduleGeneration(s, w.chunks)
	w.chunks.RunGenerationTasks()
	f.OnComplete(func(holder.ChunkResult) {
		w.Execute(func() { w.distance.RemoveTicket(ticket.Request, pos, level, key) })
	})
	return f
}

// RunUpdates propagates the tickets changed in this transaction and starts
// the work they cause right away instead of at the next tick.
func (tx *Tx) RunUpdates() {
	tx.w.runUpdates()
}

// AddPlayer starts loading chunks around the player with the id passed at
// position pos.
func (tx *Tx) AddPlayer(id uuid.UUID, pos mgl64.Vec3) {
	tx.w.distance.AddPlayer(id, chunkPosFromVec3(pos))
}

// MovePlayer moves a player added using AddPlayer to pos.
func (tx *Tx) MovePlayer(id uuid.UUID, pos mgl64.Vec3) {
	tx.w.distance.MovePlayer(id, chunkPosFromVec3(pos))
}

// RemovePlayer stops loading chunks around the player with the id passed.
func (tx *Tx) RemovePlayer(id uuid.UUID) {
	tx.w.distance.RemovePlayer(id)
}

// SetViewDistance changes the radius in chunks around players in which chunks
// are loaded.
func (tx *Tx) SetViewDistance(d int) {
	tx.w.distance.SetViewDistance(d)
}

// SetSimulationDistance changes the radius in chunks around players in which
// chunks are ticked.
func (tx *Tx) SetSimulationDistance(d int) {
	tx.w.distance.SetSimulationDistance(d)
}

// InEntityTickingRange checks if the chunk at pos is close enough to a player
// or region ticket for entities in it to be ticked.
func (tx *Tx) InEntityTickingRange(pos chunk.Pos) bool {
	return tx.w.distance.InEntityTickingRange(pos)
}

// HasPlayersNearby checks if a player is close enough to the chunk at pos for
// mobs to spawn in it.
func (tx *Tx) HasPlayersNearby(pos chunk.Pos) bool {
	return tx.w.distance.HasPlayersNearby(pos)
}

// chunkPosFromVec3 returns the chunk position of the block position pos.
func chunkPosFromVec3(pos mgl64.Vec3) chunk.Pos {
	return chunk.Pos{int32(math.Floor(pos[0])) >> 4, int32(math.Floor(pos[2])) >> 4}
}
