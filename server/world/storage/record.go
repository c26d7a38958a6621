package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/klauspost/compress/zstd"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// ErrCorrupt is returned when a stored record does not match its checksum or
// can not be decoded.
var ErrCorrupt = errors.New("corrupt chunk record")

// recordVersion is the version written into every record.
const recordVersion = 1

const (
	keyChunk = 'c'
	keyLen   = 9
	sumLen   = 8
)

// record is the NBT layout of a stored chunk.
type record struct {
	Version       int32  `nbt:"Version"`
	Status        uint8  `nbt:"Status"`
	InhabitedTime int64  `nbt:"InhabitedTime"`
	Payload       []byte `nbt:"Payload"`
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

// key returns the database key of the chunk at pos.
func key(pos chunk.Pos) []byte {
	b := make([]byte, keyLen)
	binary.LittleEndian.PutUint32(b, uint32(pos[0]))
	binary.LittleEndian.PutUint32(b[4:], uint32(pos[1]))
	b[8] = keyChunk
	return b
}

// encode encodes c into a record: an xxhash checksum followed by the zstd
// compressed NBT of the chunk.
func encode(c *chunk.Chunk) ([]byte, error) {
	data, err := nbt.MarshalEncoding(record{
		Version:       recordVersion,
		Status:        uint8(c.Status()),
		InhabitedTime: c.InhabitedTime.Load(),
		Payload:       c.Payload,
	}, nbt.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode chunk %v: %w", c.Pos(), err)
	}
	body := encoder.EncodeAll(data, make([]byte, sumLen, sumLen+len(data)/2))
	binary.LittleEndian.PutUint64(body, xxhash.Sum64(body[sumLen:]))
	return body, nil
}

// decode decodes a record produced by encode into a chunk at pos.
func decode(pos chunk.Pos, b []byte) (*chunk.Chunk, error) {
	if len(b) < sumLen {
		return nil, fmt.Errorf("decode chunk %v: record of %v bytes: %w", pos, len(b), ErrCorrupt)
	}
	if sum := binary.LittleEndian.Uint64(b); sum != xxhash.Sum64(b[sumLen:]) {
		return nil, fmt.Errorf("decode chunk %v: checksum mismatch: %w", pos, ErrCorrupt)
	}
	data, err := decoder.DecodeAll(b[sumLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %v: %w: %w", pos, ErrCorrupt, err)
	}
	var r record
	if err := nbt.UnmarshalEncoding(data, &r, nbt.LittleEndian); err != nil {
		return nil, fmt.Errorf("decode chunk %v: %w: %w", pos, ErrCorrupt, err)
	}
	if int(r.Status) >= chunk.StatusCount {
		return nil, fmt.Errorf("decode chunk %v: unknown status %v: %w", pos, r.Status, ErrCorrupt)
	}
	c := chunk.NewAt(pos, chunk.Status(r.Status), r.Payload)
	c.InhabitedTime.Store(r.InhabitedTime)
	return c, nil
}
