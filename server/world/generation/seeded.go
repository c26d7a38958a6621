package generation

import (
	"context"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/chunkflow/server/world/chunk"
)

// Seeded is a Generator that fills chunks with data derived from a world seed.
// Every status appends an 8-byte hash of the seed, the position of the chunk
// and the status to the payload, so that the payload of a chunk depends only
// on the seed and the statuses it went through.
type Seeded struct {
	Seed int64
}

// AdvanceStage ...
func (g Seeded) AdvanceStage(ctx context.Context, c *chunk.Chunk, _, to chunk.Status, _ chunk.Region) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(g.Seed))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(c.Pos().X()))
	binary.LittleEndian.PutUint32(buf[12:], uint32(c.Pos().Z()))

	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(to.String())
	c.Payload = binary.LittleEndian.AppendUint64(c.Payload, d.Sum64())
	return nil
}
