package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/df-mc/chunkflow/server/world"
	"github.com/df-mc/chunkflow/server/world/chunk"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("expected %v", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServerRun(t *testing.T) {
	forced, err := LoadForcedChunks(filepath.Join(t.TempDir(), "forced.toml"))
	if err != nil {
		t.Fatalf("load forced chunks: %v", err)
	}
	if _, err := forced.Add(chunk.Pos{40, 40}, 0, nil); err != nil {
		t.Fatalf("add forced chunk: %v", err)
	}
	srv := Config{
		World:           world.Config{TickInterval: time.Millisecond},
		SpawnRadius:     1,
		ForcedChunks:    forced,
		MetricsInterval: 5 * time.Millisecond,
	}.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	w := srv.World()
	waitFor(t, "the spawn area to load", func() bool {
		return w.IsTicking(chunk.Pos{}) && w.IsLoaded(chunk.Pos{1, -1})
	})
	waitFor(t, "the forced chunk to load", func() bool { return w.IsLoaded(chunk.Pos{40, 40}) })

	if added, err := srv.ForceChunk(chunk.Pos{-40, 0}, 2); !added || err != nil {
		t.Fatalf("expected the area to be forced, got %v (%v)", added, err)
	}
	waitFor(t, "the new forced area to load", func() bool { return w.IsTicking(chunk.Pos{-41, 1}) })
	if removed, err := srv.UnforceChunk(chunk.Pos{-40, 0}); !removed || err != nil {
		t.Fatalf("expected the area to be removed, got %v (%v)", removed, err)
	}
	waitFor(t, "the unforced area to unload", func() bool { return w.Level(chunk.Pos{-40, 0}) == chunk.AbsentLevel })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected Run to return nil, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("expected Run to return after cancelling")
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("expected a second Close to succeed, got %v", err)
	}
}
