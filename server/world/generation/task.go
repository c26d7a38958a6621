// Package generation drives chunks through the generation pyramid. A Task
// brings a single chunk to a target status by first bringing every chunk
// around it to the statuses the pyramid requires, layer by layer.
package generation

import (
	"fmt"
	"sync/atomic"

	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/holder"
)

// Map is the holder registry a Task runs against.
type Map interface {
	holder.Map
	// AcquireGeneration returns the holder at pos and marks it as used by a
	// generation task. The holder must exist.
	AcquireGeneration(pos chunk.Pos) *holder.Holder
	// ReleaseGeneration releases a holder returned by AcquireGeneration.
	ReleaseGeneration(h *holder.Holder)
}

const noLayer = -1

// Task brings the chunk at the centre of its cache to a target status. A Task
// is run by repeatedly calling RunUntilWait, each time after the future it
// returned completed. Calls to RunUntilWait must not overlap.
type Task struct {
	m      Map
	target chunk.Status
	center *holder.Holder
	cache  *chunk.Grid[*holder.Holder]

	cancelled atomic.Bool

	// scheduled is the status of the last layer scheduled, or noLayer.
	scheduled       int
	needsGeneration bool
	layer           []*holder.ChunkFuture
	released        bool
}

// NewTask creates a Task bringing the chunk at pos to target. Every chunk the
// pyramid may need is claimed until the task finishes.
func NewTask(m Map, target chunk.Status, pos chunk.Pos) *Task {
	radius := chunk.GenerationPyramid.StepTo(target).AccumulatedRadiusOf(chunk.StatusEmpty)
	cache := chunk.NewGrid(pos, radius, m.AcquireGeneration)
	return &Task{m: m, target: target, center: cache.Get(pos), cache: cache, scheduled: noLayer}
}

// Target returns the status the task brings its chunk to.
func (t *Task) Target() chunk.Status {
	return t.target
}

// Pos returns the position of the chunk the task runs for.
func (t *Task) Pos() chunk.Pos {
	return t.center.Pos()
}

// Holder returns the holder of the chunk the task runs for.
func (t *Task) Holder() *holder.Holder {
	return t.center
}

// MarkForCancellation makes the task stop before it schedules the next chunk.
func (t *Task) MarkForCancellation() {
	t.cancelled.Store(true)
}

// Cancelled checks if the task was marked for cancellation.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// Done checks if the task finished and released its claims.
func (t *Task) Done() bool {
	return t.released
}

// RunUntilWait schedules layers of the pyramid until one of them is not
// immediately available. The future it waits for is returned, and
// RunUntilWait should be called again once it completes. Nil is returned once
// the task finished, either because it reached its target or because it was
// cancelled.
func (t *Task) RunUntilWait() *holder.ChunkFuture {
	if t.released {
		panic(fmt.Sprintf("generation task for %v to %v ran after finishing", t.Pos(), t.target))
	}
	for {
		if f := t.waitForScheduledLayer(); f != nil {
			return f
		}
		if t.cancelled.Load() || t.scheduled == int(t.target) {
			t.finish()
			return nil
		}
		t.scheduleNextLayer()
	}
}

func (t *Task) scheduleNextLayer() {
	var next chunk.Status
	switch {
	case t.scheduled == noLayer:
		next = chunk.StatusEmpty
	case !t.needsGeneration && t.scheduled == int(chunk.StatusEmpty) && !t.canLoadWithoutGeneration():
		// The chunks around were loaded, but not far enough. Walk the
		// generation pyramid from the start.
		t.needsGeneration = true
		next = chunk.StatusEmpty
	default:
		next = chunk.Status(t.scheduled + 1)
	}
	t.scheduleLayer(next, t.needsGeneration)
	t.scheduled = int(next)
}

// canLoadWithoutGeneration checks if the centre and every chunk it depends on
// were persisted at the status the loading pyramid needs.
func (t *Task) canLoadWithoutGeneration() bool {
	if t.target == chunk.StatusEmpty {
		return true
	}
	persisted, ok := t.center.PersistedStatus()
	if !ok || persisted.IsBefore(t.target) {
		return false
	}
	deps := chunk.LoadingPyramid.StepTo(t.target).Accumulated()
	centre := t.center.Pos()
	can := true
	chunk.Square(centre, deps.Radius(), func(pos chunk.Pos) bool {
		s, ok := t.cache.Get(pos).PersistedStatus()
		if !ok || s.IsBefore(deps.Get(centre.ChebyshevDistance(pos))) {
			can = false
		}
		return can
	})
	return can
}

func (t *Task) scheduleLayer(s chunk.Status, generate bool) {
	radius := t.radiusForLayer(s, generate)
	chunk.Square(t.center.Pos(), radius, func(pos chunk.Pos) bool {
		return !t.cancelled.Load() && t.scheduleChunkInLayer(s, generate, t.cache.Get(pos))
	})
}

func (t *Task) radiusForLayer(s chunk.Status, generate bool) int {
	p := chunk.LoadingPyramid
	if generate {
		p = chunk.GenerationPyramid
	}
	return p.StepTo(t.target).AccumulatedRadiusOf(s)
}

// scheduleChunkInLayer brings h to s. It reports false and cancels the task if
// h failed to reach s.
func (t *Task) scheduleChunkInLayer(s chunk.Status, generate bool, h *holder.Holder) bool {
	persisted, ok := h.PersistedStatus()
	needsGeneration := ok && s.IsAfter(persisted)
	p := chunk.LoadingPyramid
	if needsGeneration {
		if !generate {
			panic(fmt.Sprintf("chunk %v must be generated to %v, but only loading was expected", h.Pos(), s))
		}
		p = chunk.GenerationPyramid
	}
	f := h.ApplyStep(p.StepTo(s), t.m, t.cache)
	r, done := f.Now()
	switch {
	case !done:
		t.layer = append(t.layer, f)
		return true
	case r.Success():
		return true
	}
	t.MarkForCancellation()
	return false
}

// waitForScheduledLayer returns the first future of the current layer that is
// still pending, or nil if all of them completed.
func (t *Task) waitForScheduledLayer() *holder.ChunkFuture {
	for len(t.layer) > 0 {
		f := t.layer[len(t.layer)-1]
		r, done := f.Now()
		if !done {
			return f
		}
		t.layer = t.layer[:len(t.layer)-1]
		if !r.Success() {
			t.MarkForCancellation()
		}
	}
	return nil
}

// finish releases the claims of the task. If the task was cancelled while it
// was still the task of its chunk, the requests it served are failed, so that
// they may be made again.
func (t *Task) finish() {
	if t.center.RemoveTask(t) && t.cancelled.Load() {
		t.center.FailPendingFutures(t.target)
	}
	t.cache.All(func(_ chunk.Pos, h *holder.Holder) {
		t.m.ReleaseGeneration(h)
	})
	t.released = true
}
