// Package holder implements the per-chunk record that tracks the ticket level
// of a chunk, a future for every generation status and the futures of its
// full, block ticking and entity ticking states.
package holder

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/df-mc/chunkflow/server/internal/async"
	"github.com/df-mc/chunkflow/server/world/chunk"
)

const noStatus = -1

// Holder is the record of a single chunk. Levels are written only by the
// main context. Status futures are written by any goroutine through
// compare-and-swap.
type Holder struct {
	pos chunk.Pos

	futures [chunk.StatusCount]Slot
	// startedWork is the highest status work was started for, or noStatus.
	startedWork atomic.Int32
	// highestAllowed is the highest status the ticket level permits, or
	// noStatus.
	highestAllowed atomic.Int32
	task           atomic.Pointer[Task]

	generationRefCount atomic.Int32
	generationSaveSync atomic.Pointer[async.Future[struct{}]]
	saveSync           atomic.Pointer[async.Future[struct{}]]

	ticketLevel atomic.Int32
	queueLevel  atomic.Int32
	// oldTicketLevel is the ticket level at the previous UpdateFutures call.
	// It is only accessed on the main context.
	oldTicketLevel int

	full, ticking, entityTicking atomic.Pointer[ChunkFuture]
	// confirmation gates the notification of the last promotion. It is only
	// accessed on the main context.
	confirmation *async.Future[bool]

	accessibleSinceSave atomic.Bool
}

// New creates a Holder for the chunk at pos at the ticket level passed.
func New(pos chunk.Pos, level int) *Holder {
	h := &Holder{pos: pos, oldTicketLevel: chunk.AbsentLevel, confirmation: async.Completed(false)}
	h.startedWork.Store(noStatus)
	h.highestAllowed.Store(noStatus)
	h.ticketLevel.Store(int32(level))
	h.queueLevel.Store(chunk.AbsentLevel)
	h.saveSync.Store(async.Completed(struct{}{}))
	for _, p := range []*atomic.Pointer[ChunkFuture]{&h.full, &h.ticking, &h.entityTicking} {
		p.Store(UnloadedFuture)
	}
	return h
}

// Pos returns the position of the chunk.
func (h *Holder) Pos() chunk.Pos {
	return h.pos
}

// TicketLevel returns the ticket level of the chunk.
func (h *Holder) TicketLevel() int {
	return int(h.ticketLevel.Load())
}

// SetTicketLevel sets the ticket level of the chunk. It must only be called
// on the main context. The change takes effect in UpdateHighestAllowedStatus
// and UpdateFutures.
func (h *Holder) SetTicketLevel(level int) {
	h.ticketLevel.Store(int32(level))
}

// QueueLevel returns the level the tasks of the chunk are queued at.
func (h *Holder) QueueLevel() int {
	return int(h.queueLevel.Load())
}

// SetQueueLevel sets the level the tasks of the chunk are queued at.
func (h *Holder) SetQueueLevel(level int) {
	h.queueLevel.Store(int32(level))
}

// Future returns the future of status s, or nil if s was never requested.
func (h *Holder) Future(s chunk.Status) *ChunkFuture {
	return h.futures[s].Load()
}

// ChunkIfPresentUnchecked returns the chunk if it reached status s, without
// checking whether s is still allowed.
func (h *Holder) ChunkIfPresentUnchecked(s chunk.Status) *chunk.Chunk {
	return h.futures[s].Chunk()
}

// ChunkIfPresent returns the chunk if it reached status s and s is allowed.
func (h *Holder) ChunkIfPresent(s chunk.Status) *chunk.Chunk {
	if h.isStatusDisallowed(s) {
		return nil
	}
	return h.ChunkIfPresentUnchecked(s)
}

// LatestChunk returns the chunk at the highest status it reached, or nil if it
// was not loaded.
func (h *Holder) LatestChunk() *chunk.Chunk {
	if s, ok := h.LatestStatus(); ok {
		return h.ChunkIfPresentUnchecked(s)
	}
	return nil
}

// LatestStatus returns the highest status the chunk reached.
func (h *Holder) LatestStatus() (chunk.Status, bool) {
	for i := chunk.StatusCount - 1; i >= 0; i-- {
		if h.futures[i].Chunk() != nil {
			return chunk.Status(i), true
		}
	}
	return chunk.StatusEmpty, false
}

// PersistedStatus returns the status the chunk had when it was loaded, or false
// if it is not loaded yet.
func (h *Holder) PersistedStatus() (chunk.Status, bool) {
	c := h.ChunkIfPresentUnchecked(chunk.StatusEmpty)
	if c == nil {
		return chunk.StatusEmpty, false
	}
	return c.Status(), true
}

// HighestAllowedStatus returns the highest status the ticket level of the
// chunk permits.
func (h *Holder) HighestAllowedStatus() (chunk.Status, bool) {
	s := h.highestAllowed.Load()
	return chunk.Status(max(s, 0)), s != noStatus
}

// ScheduleGeneration returns the future of status s, starting a generation task
// if no task with a target of s or later is running.
func (h *Holder) ScheduleGeneration(s chunk.Status, m Map) *ChunkFuture {
	if h.isStatusDisallowed(s) {
		return UnloadedFuture
	}
	f := h.getOrCreateFuture(s)
	if f.IsDone() {
		return f
	}
	if t := h.task.Load(); t == nil || s.IsAfter((*t).Target()) {
		h.rescheduleTask(m, s, true)
	}
	return f
}

// ApplyStep brings the chunk to the target of step if no other goroutine
// started doing so, and returns the future of that status.
func (h *Holder) ApplyStep(step *chunk.Step, m Map, cache *chunk.Grid[*Holder]) *ChunkFuture {
	s := step.Target()
	if h.isStatusDisallowed(s) {
		return UnloadedFuture
	}
	f := h.getOrCreateFuture(s)
	if f == UnloadedFuture {
		return f
	}
	if h.acquireStatusBump(s) {
		m.ApplyStep(h, step, cache).OnComplete(func(r ChunkResult) {
			if c, ok := r.Value(); ok {
				h.completeFuture(s, c)
				return
			}
			h.failStep(s, r)
		})
	}
	return f
}

// RemoveTask clears the running task of the chunk if it is t. It reports if
// the task was cleared.
func (h *Holder) RemoveTask(t Task) bool {
	for {
		cur := h.task.Load()
		if cur == nil || *cur != t {
			return false
		}
		if h.task.CompareAndSwap(cur, nil) {
			return true
		}
	}
}

// UpdateHighestAllowedStatus recomputes the highest status the ticket level
// permits. Futures of statuses that are no longer allowed and not yet
// completed are failed with the unloaded result and cleared. It must only be
// called on the main context.
func (h *Holder) UpdateHighestAllowedStatus(m Map) {
	old := int(h.highestAllowed.Load())
	n := noStatus
	if s, ok := chunk.GenerationStatus(h.TicketLevel()); ok {
		n = int(s)
	}
	h.highestAllowed.Store(int32(n))
	if old != noStatus && n < old {
		h.failAndClearPendingFutures(n, old)
	}
	if t := h.task.Load(); t != nil {
		if n == noStatus || int((*t).Target()) > n {
			h.rescheduleTask(m, chunk.Status(max(n, 0)), n != noStatus)
		}
	}
}

// FailPendingFutures fails and clears the futures of all statuses up to and
// including to that did not complete yet, so that they may be requested again.
func (h *Holder) FailPendingFutures(to chunk.Status) {
	h.failAndClearPendingFutures(noStatus, int(to))
}

// Cancel stops all work on the chunk. The running generation task is marked
// for cancellation and every future that did not complete yet, including the
// full state futures, completes with the unloaded result. No new work may be
// requested for the chunk afterwards. It must only be called on the main
// context.
func (h *Holder) Cancel() {
	h.highestAllowed.Store(noStatus)
	if old := h.task.Swap(nil); old != nil {
		(*old).MarkForCancellation()
	}
	h.failAndClearPendingFutures(noStatus, int(chunk.StatusFull))
	h.confirmation.Complete(false)
	for i := len(fullStates) - 1; i >= 0; i-- {
		p := fullStates[i].future(h)
		p.Load().Complete(async.Unloaded[*chunk.Chunk]())
		p.Store(UnloadedFuture)
	}
}

// IsTask checks if t is the running generation task of the chunk.
func (h *Holder) IsTask(t Task) bool {
	cur := h.task.Load()
	return cur != nil && *cur == t
}

// IncreaseGenerationRefCount marks the chunk as used by a generation task. The
// chunk is not saved or unloaded while it is in use.
func (h *Holder) IncreaseGenerationRefCount() {
	if h.generationRefCount.Add(1) == 1 {
		f := async.NewFuture[struct{}]()
		h.generationSaveSync.Store(f)
		h.AddSaveDependency(f)
	}
}

// DecreaseGenerationRefCount releases a use added with
// IncreaseGenerationRefCount.
func (h *Holder) DecreaseGenerationRefCount() {
	switch n := h.generationRefCount.Add(-1); {
	case n == 0:
		h.generationSaveSync.Load().Complete(struct{}{})
	case n < 0:
		panic(fmt.Sprintf("generation ref count of chunk %v dropped below zero", h.pos))
	}
}

// GenerationRefCount returns the amount of generation tasks using the chunk.
func (h *Holder) GenerationRefCount() int {
	return int(h.generationRefCount.Load())
}

// AddSaveDependency makes SaveSync wait for f too.
func (h *Holder) AddSaveDependency(f *async.Future[struct{}]) {
	for {
		old := h.saveSync.Load()
		n := async.Then(async.All([]*async.Future[struct{}]{old, f}), async.Inline, func([]struct{}) struct{} {
			return struct{}{}
		})
		if h.saveSync.CompareAndSwap(old, n) {
			return
		}
	}
}

// SaveSync returns a future completed once all work the chunk's data depends
// on so far has finished.
func (h *Holder) SaveSync() *async.Future[struct{}] {
	return h.saveSync.Load()
}

// IsReadyForSaving checks if no work on the chunk is in progress.
func (h *Holder) IsReadyForSaving() bool {
	return h.generationRefCount.Load() == 0 && h.saveSync.Load().IsDone()
}

// WasAccessibleSinceLastSave checks if the chunk was a full chunk since the
// last call to ResetAccessibleSinceLastSave.
func (h *Holder) WasAccessibleSinceLastSave() bool {
	return h.accessibleSinceSave.Load()
}

// ResetAccessibleSinceLastSave clears the flag returned by
// WasAccessibleSinceLastSave unless the chunk is still a full chunk.
func (h *Holder) ResetAccessibleSinceLastSave() {
	h.accessibleSinceSave.Store(chunk.FullStatusAt(h.TicketLevel()).IsOrAfter(chunk.FullStatusFull))
}

func (h *Holder) rescheduleTask(m Map, s chunk.Status, schedule bool) {
	var next *Task
	if schedule {
		t := m.ScheduleGenerationTask(s, h.pos)
		next = &t
	}
	if old := h.task.Swap(next); old != nil {
		(*old).MarkForCancellation()
	}
}

func (h *Holder) isStatusDisallowed(s chunk.Status) bool {
	highest := h.highestAllowed.Load()
	return highest == noStatus || int32(s) > highest
}

func (h *Holder) getOrCreateFuture(s chunk.Status) *ChunkFuture {
	if h.isStatusDisallowed(s) {
		return UnloadedFuture
	}
	slot := &h.futures[s]
	f := slot.Load()
	for f == nil {
		n := async.NewFuture[ChunkResult]()
		if f = slot.CompareAndExchange(nil, n); f == nil {
			if h.isStatusDisallowed(s) {
				h.failAndClearPendingFuture(s, n)
				return UnloadedFuture
			}
			return n
		}
	}
	return f
}

// acquireStatusBump reports whether the caller may start the work that brings
// the chunk to s. It panics if the status before s was never started.
func (h *Holder) acquireStatusBump(s chunk.Status) bool {
	parent := int32(s) - 1
	for {
		prev := h.startedWork.Load()
		if prev == parent {
			if h.startedWork.CompareAndSwap(parent, int32(s)) {
				return true
			}
			continue
		}
		if prev != noStatus && !s.IsAfter(chunk.Status(prev)) {
			return false
		}
		panic(fmt.Sprintf("chunk %v: unexpected last started status %v while trying to start %v", h.pos, prev, s))
	}
}

func (h *Holder) completeFuture(s chunk.Status, c *chunk.Chunk) {
	r := async.Success(c)
	slot := &h.futures[s]
	for {
		f := slot.Load()
		if f == nil {
			if slot.CompareAndSwap(nil, async.Completed(r)) {
				return
			}
			continue
		}
		if f.Complete(r) {
			return
		}
		if settled(f).Success() {
			panic(fmt.Sprintf("chunk %v: status %v completed twice", h.pos, s))
		}
		// The future failed and is about to be cleared by the goroutine that
		// failed it.
		runtime.Gosched()
	}
}

// failStep reverts the start of work for s after it failed and fails the
// pending future of s with r.
func (h *Holder) failStep(s chunk.Status, r ChunkResult) {
	h.startedWork.CompareAndSwap(int32(s), int32(s)-1)
	slot := &h.futures[s]
	if f := slot.Load(); f != nil && f.Complete(r) && !slot.CompareAndSwap(f, nil) {
		panic(fmt.Sprintf("chunk %v: future of status %v replaced while failing", h.pos, s))
	}
}

func (h *Holder) failAndClearPendingFutures(from, to int) {
	for i := from + 1; i <= to; i++ {
		if f := h.futures[i].Load(); f != nil {
			h.failAndClearPendingFuture(chunk.Status(i), f)
		}
	}
}

func (h *Holder) failAndClearPendingFuture(s chunk.Status, f *ChunkFuture) {
	if f.Complete(async.Unloaded[*chunk.Chunk]()) && !h.futures[s].CompareAndSwap(f, nil) {
		panic(fmt.Sprintf("chunk %v: future of status %v replaced while failing", h.pos, s))
	}
}
