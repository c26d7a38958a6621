package chunk

import (
	"sync/atomic"
)

// Chunk is the data of a single chunk as far as scheduling is concerned. The
// payload is opaque and owned by the generator and the storage provider.
type Chunk struct {
	pos    Pos
	status atomic.Uint32
	// Payload holds the generated data of the chunk. It is only written by the
	// stage that currently advances the chunk.
	Payload []byte
	// InhabitedTime is the amount of ticks the chunk has been entity ticking.
	InhabitedTime atomic.Int64

	unsaved atomic.Bool
}

// New returns a new empty chunk at pos.
func New(pos Pos) *Chunk {
	return &Chunk{pos: pos}
}

// NewAt returns a chunk at pos that was persisted at status s.
func NewAt(pos Pos, s Status, payload []byte) *Chunk {
	c := &Chunk{pos: pos, Payload: payload}
	c.status.Store(uint32(s))
	return c
}

// Pos returns the position of the chunk.
func (c *Chunk) Pos() Pos {
	return c.pos
}

// Status returns the highest status the chunk's data has reached.
func (c *Chunk) Status() Status {
	return Status(c.status.Load())
}

// SetStatus raises the status of the chunk and marks it as unsaved. Lowering
// the status is a no-op.
func (c *Chunk) SetStatus(s Status) {
	for {
		old := c.status.Load()
		if Status(old).IsOrAfter(s) {
			return
		}
		if c.status.CompareAndSwap(old, uint32(s)) {
			c.unsaved.Store(true)
			return
		}
	}
}

// MarkUnsaved marks the chunk as changed since it was last saved.
func (c *Chunk) MarkUnsaved() {
	c.unsaved.Store(true)
}

// Unsaved checks if the chunk changed since it was last saved.
func (c *Chunk) Unsaved() bool {
	return c.unsaved.Load()
}

// TryMarkSaved clears the unsaved flag, reporting if it was set.
func (c *Chunk) TryMarkSaved() bool {
	return c.unsaved.CompareAndSwap(true, false)
}

// Region is a read-only view of the chunks around a chunk that is being
// advanced, as far as they were loaded when the stage started.
type Region struct {
	grid *Grid[*Chunk]
}

// NewRegion wraps a grid of chunks. Cells may hold nil.
func NewRegion(g *Grid[*Chunk]) Region {
	return Region{grid: g}
}

// Centre returns the chunk being advanced.
func (r Region) Centre() *Chunk {
	return r.grid.Get(r.grid.Centre())
}

// Chunk returns the chunk at pos, or nil if it lies outside the region or was
// not loaded.
func (r Region) Chunk(pos Pos) *Chunk {
	if r.grid == nil || !r.grid.Contains(pos) {
		return nil
	}
	return r.grid.Get(pos)
}

// Radius returns the radius of the region.
func (r Region) Radius() int {
	if r.grid == nil {
		return 0
	}
	return r.grid.Radius()
}
