package world

import (
	"github.com/df-mc/chunkflow/server/world/chunk"
)

// Handler handles events that are called by a World. Implementations of
// Handler may be used to listen to specific events such as when a chunk
// starts ticking. Handler methods are called on the main context.
type Handler interface {
	// HandleChunkLoad handles a chunk becoming a full chunk that may be
	// accessed by gameplay.
	HandleChunkLoad(tx *Tx, pos chunk.Pos)
	// HandleChunkTicking handles blocks in a chunk starting or stopping to be
	// ticked.
	HandleChunkTicking(tx *Tx, pos chunk.Pos, ticking bool)
	// HandleChunkEntityTicking handles entities in a chunk starting or
	// stopping to be ticked.
	HandleChunkEntityTicking(tx *Tx, pos chunk.Pos, ticking bool)
	// HandleChunkUnload handles a chunk being dropped from memory after it
	// was saved.
	HandleChunkUnload(tx *Tx, c *chunk.Chunk)
	// HandleClose handles the World being closed. HandleClose may be used as
	// a moment to finish code running on other goroutines that operates on
	// the World specifically. HandleClose is called directly before the World
	// stops ticking and before any chunks are saved to disk.
	HandleClose(tx *Tx)
}

// Compile time check to make sure NopHandler implements Handler.
var _ Handler = (*NopHandler)(nil)

// NopHandler implements the Handler interface but does not execute any code
// when an event is called. The default Handler of Worlds is set to
// NopHandler. Users may embed NopHandler to avoid having to implement each
// method.
type NopHandler struct{}

var nopHandler Handler = NopHandler{}

func (NopHandler) HandleChunkLoad(*Tx, chunk.Pos) {}
func (NopHandler) HandleChunkTicking(*Tx, chunk.Pos, bool) {}
func (NopHandler) HandleChunkEntityTicking(*Tx, chunk.Pos, bool) {}
func (NopHandler) HandleChunkUnload(*Tx, *chunk.Chunk) {}
func (NopHandler) HandleClose(*Tx) {}

// Handle changes the current Handler of the World. As a result, events called
// by the World will call handlers of the Handler passed. Handle sets the
// World's Handler to NopHandler if nil is passed.
func (w *World) Handle(h Handler) {
	if h == nil {
		h = NopHandler{}
	}
	h = w.wrapHandler(h)
	w.handler.Store(&h)
}

// Handler returns the Handler of the World.
func (w *World) Handler() Handler {
	return *w.handler.Load()
}

// listener passes the changes reported by the chunk map to the Handler of a
// World.
type listener struct {
	w *World
}

// HandleFullStatusChange reports every state a chunk entered or left between
// its last reported status and the new one.
func (l listener) HandleFullStatusChange(pos chunk.Pos, status chunk.FullStatus) {
	w := l.w
	old := w.fullStatus[pos]
	if status == chunk.FullStatusInaccessible {
		delete(w.fullStatus, pos)
	} else {
		w.fullStatus[pos] = status
	}
	tx, h := &Tx{w: w}, w.Handler()
	for s := old + 1; s <= status; s++ {
		switch s {
		case chunk.FullStatusFull:
			h.HandleChunkLoad(tx, pos)
		case chunk.FullStatusBlockTicking:
			h.HandleChunkTicking(tx, pos, true)
		case chunk.FullStatusEntityTicking:
			h.HandleChunkEntityTicking(tx, pos, true)
		}
	}
	for s := old; s > status; s-- {
		switch s {
		case chunk.FullStatusEntityTicking:
			h.HandleChunkEntityTicking(tx, pos, false)
		case chunk.FullStatusBlockTicking:
			h.HandleChunkTicking(tx, pos, false)
		}
	}
}

func (l listener) HandleUnload(c *chunk.Chunk) {
	l.w.Handler().HandleChunkUnload(&Tx{w: l.w}, c)
}
