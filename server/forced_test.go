package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/ticket"
)

func TestForcedChunksCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "forced.toml")
	f, err := LoadForcedChunks(path)
	if err != nil {
		t.Fatalf("load forced chunks: %v", err)
	}
	if len(f.Chunks()) != 0 {
		t.Fatalf("expected no forced chunks, got %v", f.Chunks())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected the file to be created: %v", err)
	}
}

func TestForcedChunksPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forced.toml")
	f, err := LoadForcedChunks(path)
	if err != nil {
		t.Fatalf("load forced chunks: %v", err)
	}
	if added, err := f.Add(chunk.Pos{4, -9}, 2, nil); !added || err != nil {
		t.Fatalf("expected the area to be added, got %v (%v)", added, err)
	}
	if added, _ := f.Add(chunk.Pos{4, -9}, 5, nil); added {
		t.Fatalf("expected adding an area twice to do nothing")
	}
	if _, err := f.Add(chunk.Pos{-1, 0}, 0, ticket.Start); err != nil {
		t.Fatalf("add start area: %v", err)
	}

	f, err = LoadForcedChunks(path)
	if err != nil {
		t.Fatalf("reload forced chunks: %v", err)
	}
	// Areas are ordered by Z first, then X.
	want := []ForcedChunk{
		{Pos: chunk.Pos{4, -9}, Radius: 2, Type: ticket.Forced},
		{Pos: chunk.Pos{-1, 0}, Radius: 0, Type: ticket.Start},
	}
	got := f.Chunks()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want[i], got[i])
		}
	}

	c, removed, err := f.Remove(chunk.Pos{4, -9})
	if !removed || err != nil || c.Radius != 2 {
		t.Fatalf("expected the area to be removed, got %v %v (%v)", c, removed, err)
	}
	if _, removed, _ := f.Remove(chunk.Pos{4, -9}); removed {
		t.Fatalf("expected removing an absent area to do nothing")
	}
	f, _ = LoadForcedChunks(path)
	if len(f.Chunks()) != 1 {
		t.Fatalf("expected one area after reloading, got %v", f.Chunks())
	}
}

func TestForcedChunksInvalid(t *testing.T) {
	dir := t.TempDir()
	f, _ := LoadForcedChunks(filepath.Join(dir, "forced.toml"))
	if _, err := f.Add(chunk.Pos{}, MaxForcedRadius+1, nil); !errors.Is(err, ErrInvalidRadius) {
		t.Fatalf("expected ErrInvalidRadius, got %v", err)
	}

	path := filepath.Join(dir, "unknown.toml")
	contents := "[[chunks]]\nx = 1\nz = 2\nradius = 3\ntype = \"teleport\"\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadForcedChunks(path); err == nil || !strings.Contains(err.Error(), "teleport") {
		t.Fatalf("expected an unknown ticket type error, got %v", err)
	}

	var nilChunks *ForcedChunks
	if _, err := nilChunks.Add(chunk.Pos{}, 1, nil); !errors.Is(err, ErrForcedChunksUnavailable) {
		t.Fatalf("expected ErrForcedChunksUnavailable, got %v", err)
	}
}
