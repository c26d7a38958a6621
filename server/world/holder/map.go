package holder

import (
	"github.com/df-mc/chunkflow/server/world/chunk"
)

// Task is a running attempt to bring a chunk to a target status.
type Task interface {
	// Target returns the status the task brings its chunk to.
	Target() chunk.Status
	// MarkForCancellation makes the task stop at the next opportunity. Work
	// already running is not interrupted.
	MarkForCancellation()
}

// Map is the owner of holders. Holders call back into the Map to have work
// scheduled and to report status changes.
type Map interface {
	// ApplyStep brings h to the target status of step. The neighbours of h
	// within the radius of the step are in cache.
	ApplyStep(h *Holder, step *chunk.Step, cache *chunk.Grid[*Holder]) *ChunkFuture
	// ScheduleGenerationTask creates a Task bringing the chunk at pos to
	// target. The task starts running at the next generation pass.
	ScheduleGenerationTask(target chunk.Status, pos chunk.Pos) Task
	// PrepareAccessible returns a future completed once h is a full chunk.
	PrepareAccessible(h *Holder) *ChunkFuture
	// PrepareTicking returns a future completed once h and its direct
	// neighbours are full chunks.
	PrepareTicking(h *Holder) *ChunkFuture
	// PrepareEntityTicking returns a future completed once all chunks within
	// two chunks of h are full chunks.
	PrepareEntityTicking(h *Holder) *ChunkFuture
	// OnFullStatusChange is called on the main context when the FullStatus of
	// a chunk changed and the change is confirmed.
	OnFullStatusChange(pos chunk.Pos, status chunk.FullStatus)
	// OnLevelChange is called when the ticket level of a holder was committed.
	// setQueueLevel stores the level the holder's tasks are queued at.
	OnLevelChange(pos chunk.Pos, level int, setQueueLevel func(level int))
}
