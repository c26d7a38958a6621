// Package storage persists chunks between runs of the engine. Chunks are
// stored as opaque records holding their status, payload and inhabited time.
package storage

import (
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/goleveldb/leveldb"
)

// Provider loads and stores chunks. Load must return an error for which
// errors.Is(err, leveldb.ErrNotFound) holds if the chunk was never stored.
// Providers must be safe for concurrent use.
type Provider interface {
	// Load loads the chunk at pos.
	Load(pos chunk.Pos) (*chunk.Chunk, error)
	// Store stores c, replacing the data stored for its position before.
	Store(c *chunk.Chunk) error
	// Close closes the provider, releasing any resources it holds.
	Close() error
}

// NopProvider implements a Provider that does not store anything. Every chunk
// loaded through it must be generated.
type NopProvider struct{}

// Load ...
func (NopProvider) Load(chunk.Pos) (*chunk.Chunk, error) {
	return nil, leveldb.ErrNotFound
}

// Store ...
func (NopProvider) Store(*chunk.Chunk) error {
	return nil
}

// Close ...
func (NopProvider) Close() error {
	return nil
}
