package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/df-mc/chunkflow/server/world"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"github.com/pelletier/go-toml"
)

var (
	// ErrForcedChunksUnavailable is returned when no forced chunks file is configured.
	ErrForcedChunksUnavailable = errors.New("forced chunks are not configured")
	// ErrInvalidRadius is returned when a forced area has a radius that does not result in a loaded chunk.
	ErrInvalidRadius = errors.New("invalid forced chunk radius")
)

// MaxForcedRadius is the largest radius of a forced area. Chunks at the edge of such an area are still accessible.
const MaxForcedRadius = chunk.FullLevel

// ForcedChunk is an area of chunks that is kept loaded regardless of players.
type ForcedChunk struct {
	Pos chunk.Pos
	// Radius is the radius in chunks around Pos that is kept fully loaded. Chunks further away are loaded at the
	// statuses needed by the chunks in the area.
	Radius int
	// Type is the ticket type used to keep the area loaded.
	Type *ticket.Type
}

// ForcedChunks holds the areas that are force loaded in a World. Entries are persisted in a TOML file.
type ForcedChunks struct {
	mu       sync.RWMutex
	chunks   map[chunk.Pos]ForcedChunk
	filePath string
}

type forcedFile struct {
	Chunks []forcedEntry `toml:"chunks,omitempty"`
}

type forcedEntry struct {
	X      int32  `toml:"x"`
	Z      int32  `toml:"z"`
	Radius int    `toml:"radius"`
	Type   string `toml:"type"`
}

// forcedKey is the key of the tickets added for a ForcedChunk.
type forcedKey struct{ pos chunk.Pos }

// LoadForcedChunks loads the forced chunks stored in the file at the provided path. If the file does not exist yet,
// it will be created with no chunks.
func LoadForcedChunks(path string) (*ForcedChunks, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("forced chunks path must not be empty")
	}
	f := &ForcedChunks{
		chunks:   make(map[chunk.Pos]ForcedChunk),
		filePath: path,
	}
	if err := f.reloadFromDisk(); err != nil {
		return nil, err
	}
	return f, nil
}

// Add forces the area of radius around pos to be loaded using a ticket of type t. The returned bool indicates if
// the area was newly added. An area that is already forced at pos is left unchanged.
func (f *ForcedChunks) Add(pos chunk.Pos, radius int, t *ticket.Type) (bool, error) {
	if f == nil {
		return false, ErrForcedChunksUnavailable
	}
	if radius < 0 || radius > MaxForcedRadius {
		return false, fmt.Errorf("%w: %v", ErrInvalidRadius, radius)
	}
	if t == nil {
		t = ticket.Forced
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.chunks[pos]; exists {
		return false, nil
	}
	f.chunks[pos] = ForcedChunk{Pos: pos, Radius: radius, Type: t}
	if err := f.writeLocked(); err != nil {
		delete(f.chunks, pos)
		return false, err
	}
	return true, nil
}

// Remove stops forcing the area at pos. The returned ForcedChunk is the area removed and the bool indicates if it
// was present before the call.
func (f *ForcedChunks) Remove(pos chunk.Pos) (ForcedChunk, bool, error) {
	if f == nil {
		return ForcedChunk{}, false, ErrForcedChunksUnavailable
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	original, exists := f.chunks[pos]
	if !exists {
		return ForcedChunk{}, false, nil
	}
	delete(f.chunks, pos)
	if err := f.writeLocked(); err != nil {
		f.chunks[pos] = original
		return ForcedChunk{}, false, err
	}
	return original, true, nil
}

// Chunks returns the forced areas sorted by position.
func (f *ForcedChunks) Chunks() []ForcedChunk {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sortedLocked()
}

// Apply adds the tickets of all forced areas in the transaction passed.
func (f *ForcedChunks) Apply(tx *world.Tx) {
	for _, c := range f.Chunks() {
		c.add(tx)
	}
}

func (c ForcedChunk) add(tx *world.Tx) {
	tx.AddRegionTicket(c.Type, c.Pos, c.Radius, forcedKey{pos: c.Pos})
}

func (c ForcedChunk) remove(tx *world.Tx) {
	tx.RemoveRegionTicket(c.Type, c.Pos, c.Radius, forcedKey{pos: c.Pos})
}

func (f *ForcedChunks) reloadFromDisk() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloadLocked()
}

func (f *ForcedChunks) reloadLocked() error {
	data := forcedFile{}
	contents, err := os.ReadFile(f.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.chunks = make(map[chunk.Pos]ForcedChunk)
			return f.writeLocked()
		}
		return fmt.Errorf("read forced chunks: %w", err)
	}
	if len(contents) != 0 {
		if err := toml.Unmarshal(contents, &data); err != nil {
			return fmt.Errorf("decode forced chunks: %w", err)
		}
	}
	f.chunks = make(map[chunk.Pos]ForcedChunk, len(data.Chunks))
	for _, e := range data.Chunks {
		t := ticket.Forced
		if name := strings.TrimSpace(e.Type); name != "" {
			if t, err = ticket.TypeByName(name); err != nil {
				return fmt.Errorf("decode forced chunks: %w", err)
			}
		}
		if e.Radius < 0 || e.Radius > MaxForcedRadius {
			return fmt.Errorf("decode forced chunks: %w: %v", ErrInvalidRadius, e.Radius)
		}
		pos := chunk.Pos{e.X, e.Z}
		f.chunks[pos] = ForcedChunk{Pos: pos, Radius: e.Radius, Type: t}
	}
	return nil
}

func (f *ForcedChunks) writeLocked() error {
	dir := filepath.Dir(f.filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return fmt.Errorf("create forced chunks directory: %w", err)
		}
	}
	data := forcedFile{Chunks: make([]forcedEntry, 0, len(f.chunks))}
	for _, c := range f.sortedLocked() {
		data.Chunks = append(data.Chunks, forcedEntry{X: c.Pos.X(), Z: c.Pos.Z(), Radius: c.Radius, Type: c.Type.String()})
	}
	encoded, err := toml.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode forced chunks: %w", err)
	}
	if err := os.WriteFile(f.filePath, encoded, 0644); err != nil {
		return fmt.Errorf("write forced chunks: %w", err)
	}
	return nil
}

func (f *ForcedChunks) sortedLocked() []ForcedChunk {
	chunks := make([]ForcedChunk, 0, len(f.chunks))
	for _, c := range f.chunks {
		chunks = append(chunks, c)
	}
	slices.SortFunc(chunks, func(a, b ForcedChunk) int {
		return a.Pos.Compare(b.Pos)
	})
	return chunks
}
