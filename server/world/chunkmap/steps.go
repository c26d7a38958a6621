package chunkmap

import (
	"errors"
	"fmt"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/holder"
	"github.com/df-mc/goleveldb/leveldb"
)

// ApplyStep brings the chunk of h to the target of step. Loading runs on the
// pool, lighting on the light dispatcher and the final step on the main
// context. Steps on chunks that were persisted beyond the target of the step
// complete right away.
func (m *Map) ApplyStep(h *holder.Holder, step *chunk.Step, cache *chunk.Grid[*holder.Holder]) *holder.ChunkFuture {
	pos := h.Pos()
	s := step.Target()
	if s == chunk.StatusEmpty {
		return m.scheduleLoad(pos)
	}
	c := h.ChunkIfPresentUnchecked(s.Parent())
	if c == nil {
		panic(fmt.Sprintf("chunk %v: parent of %v missing while applying step", pos, s))
	}
	if !c.Status().IsBefore(s) {
		return async.Completed(async.Success(c))
	}

	f := async.NewFuture[holder.ChunkResult]()
	switch step.Kind() {
	case chunk.StepLight:
		m.light.Submit(func() {
			f.Complete(m.advance(c, step, cache))
		}, pos.Key(), h.QueueLevel)
	case chunk.StepFull:
		m.conf.Main.Execute(func() {
			c.SetStatus(s)
			f.Complete(async.Success(c))
		})
	default:
		m.conf.Pool.Execute(func() {
			f.Complete(m.advance(c, step, cache))
		})
	}
	return f
}

// advance runs the generator for step on c. The region passed to the
// generator holds the chunks within the direct radius of the step.
func (m *Map) advance(c *chunk.Chunk, step *chunk.Step, cache *chunk.Grid[*holder.Holder]) holder.ChunkResult {
	pos, s := c.Pos(), step.Target()
	region := chunk.NewRegion(chunk.NewGrid(pos, step.Direct().Radius(), func(p chunk.Pos) *chunk.Chunk {
		if p == pos {
			return c
		}
		if cache == nil || !cache.Contains(p) {
			return nil
		}
		return cache.Get(p).LatestChunk()
	}))
	if err := m.conf.Generator.AdvanceStage(m.ctx, c, c.Status(), s, region); err != nil {
		m.conf.Log.Error("advance chunk: "+err.Error(), "X", pos[0], "Z", pos[1], "status", s)
		return async.Failure[*chunk.Chunk](fmt.Errorf("advance chunk %v to %v: %w", pos, s, err))
	}
	c.SetStatus(s)
	return async.Success(c)
}

// scheduleLoad loads the chunk at pos on the pool.
func (m *Map) scheduleLoad(pos chunk.Pos) *holder.ChunkFuture {
	f := async.NewFuture[holder.ChunkResult]()
	m.conf.Pool.Execute(func() {
		f.Complete(async.Success(m.load(pos)))
	})
	return f
}

// load loads the chunk at pos from the provider. A chunk that was never stored
// starts out empty. A chunk that fails to load is replaced with an empty chunk
// as well, so that the failure does not hold up the chunks around it.
func (m *Map) load(pos chunk.Pos) *chunk.Chunk {
	c, err := m.conf.Provider.Load(pos)
	switch {
	case err == nil:
		return c
	case errors.Is(err, leveldb.ErrNotFound):
		return chunk.New(pos)
	default:
		m.conf.Log.Error("load chunk: "+err.Error(), "X", pos[0], "Z", pos[1])
		return chunk.New(pos)
	}
}

// PrepareAccessible schedules the chunk of h to be generated fully. The
// future returned completes on the main context.
func (m *Map) PrepareAccessible(h *holder.Holder) *holder.ChunkFuture {
	return async.Then(h.ScheduleGeneration(chunk.StatusFull, m), m.conf.Main, func(r holder.ChunkResult) holder.ChunkResult {
		return r
	})
}

// PrepareTicking schedules the chunk of h and its direct neighbours to be
// generated fully. The future returned completes on the main context.
func (m *Map) PrepareTicking(h *holder.Holder) *holder.ChunkFuture {
	return async.Then(m.chunkRangeFuture(h, 1), m.conf.Main, func(r holder.ChunkResult) holder.ChunkResult {
		return r
	})
}

// PrepareEntityTicking schedules all chunks within two chunks of h to be
// generated fully.
func (m *Map) PrepareEntityTicking(h *holder.Holder) *holder.ChunkFuture {
	return m.chunkRangeFuture(h, 2)
}

// chunkRangeFuture returns a future completed with the chunk of h once every
// chunk within radius of it is a full chunk. It fails if any of them fails or
// has no holder.
func (m *Map) chunkRangeFuture(h *holder.Holder, radius int) *holder.ChunkFuture {
	futures := make([]*holder.ChunkFuture, 0, (radius*2+1)*(radius*2+1))
	missing := false
	chunk.Square(h.Pos(), radius, func(pos chunk.Pos) bool {
		n := m.updating[pos.Key()]
		if n == nil {
			missing = true
			return false
		}
		futures = append(futures, n.ScheduleGeneration(chunk.StatusFull, m))
		return true
	})
	if missing {
		return holder.UnloadedFuture
	}
	return async.Then(async.All(futures), async.Inline, func(rs []holder.ChunkResult) holder.ChunkResult {
		for _, r := range rs {
			if !r.Success() {
				return r
			}
		}
		return rs[len(rs)/2]
	})
}
