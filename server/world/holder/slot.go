package holder

import (
	"sync/atomic"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
)

// ChunkResult is the outcome of a request for a chunk.
type ChunkResult = async.Result[*chunk.Chunk]

// ChunkFuture is a future of a ChunkResult.
type ChunkFuture = async.Future[ChunkResult]

// UnloadedFuture is a completed future holding the unloaded failure. It is
// returned for requests of statuses a chunk may not reach.
var UnloadedFuture = async.Completed(async.Unloaded[*chunk.Chunk]())

// Slot holds the future of a single generation status of a chunk. It is empty
// until the status is first requested. Once a future in a slot completes
// successfully, it is never replaced.
type Slot struct {
	p atomic.Pointer[ChunkFuture]
}

// Load returns the future in the slot, or nil if it is empty.
func (s *Slot) Load() *ChunkFuture {
	return s.p.Load()
}

// CompareAndSwap replaces old with new if the slot holds old.
func (s *Slot) CompareAndSwap(old, new *ChunkFuture) bool {
	return s.p.CompareAndSwap(old, new)
}

// CompareAndExchange replaces old with new if the slot holds old and returns
// the future the slot held before.
func (s *Slot) CompareAndExchange(old, new *ChunkFuture) *ChunkFuture {
	for {
		cur := s.p.Load()
		if cur != old {
			return cur
		}
		if s.p.CompareAndSwap(old, new) {
			return old
		}
	}
}

// Chunk returns the chunk of a successfully completed future in the slot.
func (s *Slot) Chunk() *chunk.Chunk {
	f := s.p.Load()
	if f == nil {
		return nil
	}
	r, ok := f.Now()
	if !ok {
		return nil
	}
	c, _ := r.Value()
	return c
}

// settled waits for a future that failed to complete to be completed by the
// goroutine that won and returns its value.
func settled(f *ChunkFuture) ChunkResult {
	<-f.Done()
	r, _ := f.Now()
	return r
}
