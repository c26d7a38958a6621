package server

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generation"
)

func TestReadConfigCreatesDefault(t *testing.T) {
	for _, name := range []string{"config.toml", "config.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		c, err := ReadConfig(path)
		if err != nil {
			t.Fatalf("read %v: %v", name, err)
		}
		if c != DefaultConfig() {
			t.Fatalf("expected the default config for %v, got %+v", name, c)
		}
		// The file written must decode to the same config.
		again, err := ReadConfig(path)
		if err != nil {
			t.Fatalf("read %v again: %v", name, err)
		}
		if again != c {
			t.Fatalf("expected %+v after reading %v again, got %+v", c, name, again)
		}
	}
}

func TestReadConfigKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"config.toml": "[players]\nview_distance = 12\n",
		"config.yml":  "players:\n  view_distance: 12\n",
	}
	for name, contents := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
			t.Fatalf("write %v: %v", name, err)
		}
		c, err := ReadConfig(path)
		if err != nil {
			t.Fatalf("read %v: %v", name, err)
		}
		if c.Players.ViewDistance != 12 {
			t.Fatalf("expected view distance 12 from %v, got %v", name, c.Players.ViewDistance)
		}
		if c.Players.SimulationDistance != DefaultConfig().Players.SimulationDistance {
			t.Fatalf("expected the default simulation distance from %v, got %v", name, c.Players.SimulationDistance)
		}
	}
}

func TestUserConfigConvert(t *testing.T) {
	dir := t.TempDir()
	uc := DefaultConfig()
	uc.World.Folder = filepath.Join(dir, "world")
	uc.World.ForcedChunksFile = filepath.Join(dir, "forced.toml")
	uc.World.Seed = 42
	uc.World.SpawnX, uc.World.SpawnZ = 3, -4
	uc.Scheduling.TickInterval = 20

	conf, err := uc.Config(slog.Default())
	if err != nil {
		t.Fatalf("convert config: %v", err)
	}
	defer conf.World.Provider.Close()
	if conf.Spawn != (chunk.Pos{3, -4}) {
		t.Fatalf("expected spawn (3, -4), got %v", conf.Spawn)
	}
	if conf.World.TickInterval != 20*time.Millisecond {
		t.Fatalf("expected a tick interval of 20ms, got %v", conf.World.TickInterval)
	}
	if g, ok := conf.World.Generator.(generation.Seeded); !ok || g.Seed != 42 {
		t.Fatalf("expected a seeded generator with seed 42, got %#v", conf.World.Generator)
	}
	if conf.ForcedChunks == nil {
		t.Fatalf("expected forced chunks to be loaded")
	}

	uc.World.SaveData = false
	uc.World.SpawnRadius = MaxForcedRadius + 1
	if _, err := uc.Config(slog.Default()); err == nil {
		t.Fatalf("expected an error for a spawn radius of %v", uc.World.SpawnRadius)
	}
}

func TestLogLevel(t *testing.T) {
	uc := DefaultConfig()
	uc.Server.LogLevel = "debug"
	if l, err := uc.LogLevel(); err != nil || l != slog.LevelDebug {
		t.Fatalf("expected debug, got %v (%v)", l, err)
	}
	uc.Server.LogLevel = "loud"
	if _, err := uc.LogLevel(); err == nil {
		t.Fatalf("expected an error for an unknown log level")
	}
}
