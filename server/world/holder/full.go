package holder

import (
	"sync/atomic"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
)

// FullStatus returns the FullStatus of the chunk at its current ticket level.
func (h *Holder) FullStatus() chunk.FullStatus {
	return chunk.FullStatusAt(h.TicketLevel())
}

// FullFuture returns the future completed once the chunk is a full chunk.
func (h *Holder) FullFuture() *ChunkFuture {
	return h.full.Load()
}

// TickingFuture returns the future completed once the chunk is block ticking.
func (h *Holder) TickingFuture() *ChunkFuture {
	return h.ticking.Load()
}

// EntityTickingFuture returns the future completed once the chunk is entity
// ticking.
func (h *Holder) EntityTickingFuture() *ChunkFuture {
	return h.entityTicking.Load()
}

// FullChunk returns the chunk if its full future completed successfully.
func (h *Holder) FullChunk() *chunk.Chunk {
	return nowChunk(h.full.Load())
}

// TickingChunk returns the chunk if its block ticking future completed
// successfully.
func (h *Holder) TickingChunk() *chunk.Chunk {
	return nowChunk(h.ticking.Load())
}

// EntityTickingChunk returns the chunk if its entity ticking future completed
// successfully.
func (h *Holder) EntityTickingChunk() *chunk.Chunk {
	return nowChunk(h.entityTicking.Load())
}

func nowChunk(f *ChunkFuture) *chunk.Chunk {
	if r, ok := f.Now(); ok {
		c, _ := r.Value()
		return c
	}
	return nil
}

// fullState ties a FullStatus to the holder field holding its future and the
// Map operation that prepares it.
type fullState struct {
	status  chunk.FullStatus
	future  func(h *Holder) *atomic.Pointer[ChunkFuture]
	prepare func(m Map, h *Holder) *ChunkFuture
}

var fullStates = [...]fullState{
	{chunk.FullStatusFull, func(h *Holder) *atomic.Pointer[ChunkFuture] { return &h.full }, Map.PrepareAccessible},
	{chunk.FullStatusBlockTicking, func(h *Holder) *atomic.Pointer[ChunkFuture] { return &h.ticking }, Map.PrepareTicking},
	{chunk.FullStatusEntityTicking, func(h *Holder) *atomic.Pointer[ChunkFuture] { return &h.entityTicking }, Map.PrepareEntityTicking},
}

// UpdateFutures moves the chunk between its full states after its ticket
// level changed. Entering a state creates the future of that state. Leaving a
// state completes its future with the unloaded result, from the most active
// state down. Promotions are reported to m on main once their future completes
// successfully; demotions are reported right away. UpdateFutures must only be
// called on the main context.
func (h *Holder) UpdateFutures(m Map, main async.Executor) {
	old := chunk.FullStatusAt(h.oldTicketLevel)
	level := h.TicketLevel()
	neu := chunk.FullStatusAt(level)
	if neu.IsOrAfter(chunk.FullStatusFull) {
		h.accessibleSinceSave.Store(true)
	}

	for _, st := range fullStates {
		if !old.IsOrAfter(st.status) && neu.IsOrAfter(st.status) {
			f := st.prepare(m, h)
			st.future(h).Store(f)
			h.scheduleFullPromotion(m, f, main, st.status)
			h.AddSaveDependency(async.Then(f, async.Inline, func(ChunkResult) struct{} { return struct{}{} }))
		}
	}
	for i := len(fullStates) - 1; i >= 0; i-- {
		st := fullStates[i]
		if old.IsOrAfter(st.status) && !neu.IsOrAfter(st.status) {
			p := st.future(h)
			p.Load().Complete(async.Unloaded[*chunk.Chunk]())
			p.Store(UnloadedFuture)
		}
	}
	if !neu.IsOrAfter(old) {
		h.demoteFullChunk(m, neu)
	}
	m.OnLevelChange(h.pos, level, h.SetQueueLevel)
	h.oldTicketLevel = level
}

func (h *Holder) scheduleFullPromotion(m Map, f *ChunkFuture, main async.Executor, status chunk.FullStatus) {
	h.confirmation.Complete(false)
	confirmation := async.NewFuture[bool]()
	confirmation.OnComplete(func(confirmed bool) {
		if confirmed {
			main.Execute(func() { m.OnFullStatusChange(h.pos, status) })
		}
	})
	h.confirmation = confirmation
	f.OnComplete(func(r ChunkResult) {
		if r.Success() {
			confirmation.Complete(true)
		}
	})
}

func (h *Holder) demoteFullChunk(m Map, status chunk.FullStatus) {
	h.confirmation.Complete(false)
	m.OnFullStatusChange(h.pos, status)
}
