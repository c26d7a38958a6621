package generation

import (
	"context"

	"github.com/df-mc/chunkflow/server/world/chunk"
)

// Generator advances chunks through the generation statuses. Implementations
// must be safe for concurrent use: AdvanceStage is called from many goroutines
// at once, although never twice at the same time for the same chunk and status.
type Generator interface {
	// AdvanceStage brings c from status from to status to. region holds the
	// neighbours of c within the radius the step to status to depends on, all at
	// the status the step needs. A non-nil error fails the step.
	AdvanceStage(ctx context.Context, c *chunk.Chunk, from, to chunk.Status, region chunk.Region) error
}

// GeneratorFunc is a Generator implemented by a single function.
type GeneratorFunc func(ctx context.Context, c *chunk.Chunk, from, to chunk.Status, region chunk.Region) error

// AdvanceStage ...
func (f GeneratorFunc) AdvanceStage(ctx context.Context, c *chunk.Chunk, from, to chunk.Status, region chunk.Region) error {
	return f(ctx, c, from, to, region)
}

// NopGenerator is a Generator that leaves chunks untouched.
type NopGenerator struct{}

// AdvanceStage ...
func (NopGenerator) AdvanceStage(context.Context, *chunk.Chunk, chunk.Status, chunk.Status, chunk.Region) error {
	return nil
}
