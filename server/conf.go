package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/df-mc/chunkflow/server/world"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/generation"
	"github.com/df-mc/chunkflow/server/world/storage"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Config contains options for starting a chunk server.
type Config struct {
	// Log is the Logger to use for logging information. If nil, slog.Default() is used.
	Log *slog.Logger
	// World holds the settings of the World run by the server. If World.Log is nil, Log is used.
	World world.Config
	// Spawn is the chunk around which the spawn area is kept loaded.
	Spawn chunk.Pos
	// SpawnRadius is the radius in chunks around Spawn that is kept fully loaded. If zero or lower, no spawn area is
	// kept loaded.
	SpawnRadius int
	// ForcedChunks holds areas that are kept loaded in addition to the spawn area. It may be nil.
	ForcedChunks *ForcedChunks
	// MetricsInterval is the interval at which metrics of the World are logged. If zero or lower, metrics are not
	// logged.
	MetricsInterval time.Duration
}

// New creates a Server using fields of conf. The Server's World is created immediately and starts ticking. The
// spawn area and forced chunks are loaded once Server.Run is called.
func (conf Config) New() *Server {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.World.Log == nil {
		conf.World.Log = conf.Log
	}
	srv := &Server{conf: conf}
	srv.world = conf.World.New()
	return srv
}

// UserConfig is the user configuration for a chunk server. It holds settings that affect how chunks are stored,
// generated and scheduled. UserConfig may be serialised and can be converted to a Config by calling
// UserConfig.Config().
type UserConfig struct {
	Server struct {
		// LogLevel is the minimum level of messages logged: "debug", "info", "warn" or "error".
		LogLevel string `toml:"log_level" yaml:"log_level"`
		// MetricsInterval is the interval in seconds at which metrics are logged. Set to 0 to disable metrics
		// logging.
		MetricsInterval int `toml:"metrics_interval" yaml:"metrics_interval"`
	} `toml:"server" yaml:"server"`
	World struct {
		// SaveData controls whether a world's data will be saved and loaded. If true, the server will use the
		// default LevelDB data provider and if false, chunks are generated every time they are loaded.
		SaveData bool `toml:"save_data" yaml:"save_data"`
		// ReadOnly controls whether chunks loaded from the world's data are never written back.
		ReadOnly bool `toml:"read_only" yaml:"read_only"`
		// Folder is the folder that the data of the world resides in.
		Folder string `toml:"folder" yaml:"folder"`
		// Seed controls the data generated for new chunks.
		Seed int64 `toml:"seed" yaml:"seed"`
		// SpawnX and SpawnZ are the chunk coordinates of the spawn area.
		SpawnX int32 `toml:"spawn_x" yaml:"spawn_x"`
		SpawnZ int32 `toml:"spawn_z" yaml:"spawn_z"`
		// SpawnRadius is the radius in chunks of the spawn area that is kept loaded. Set to 0 to disable the
		// spawn area.
		SpawnRadius int `toml:"spawn_radius" yaml:"spawn_radius"`
		// ForcedChunksFile is the path to the TOML file that stores forced chunk areas.
		ForcedChunksFile string `toml:"forced_chunks_file" yaml:"forced_chunks_file"`
		// SaveInterval is the interval in seconds at which loaded chunks are saved. Set to 0 to only save chunks
		// when they are unloaded.
		SaveInterval int `toml:"save_interval" yaml:"save_interval"`
	} `toml:"world" yaml:"world"`
	Scheduling struct {
		// Workers is the number of goroutines that generate chunks. Set to 0 to use the CPU count.
		Workers int `toml:"workers" yaml:"workers"`
		// QueueSize is the number of generation steps that may wait for a worker. Set to 0 to use an
		// automatically chosen size.
		QueueSize int `toml:"queue_size" yaml:"queue_size"`
		// PlayerTicketThrottle is the number of chunks around players that are loaded at the same time.
		PlayerTicketThrottle int `toml:"player_ticket_throttle" yaml:"player_ticket_throttle"`
		// TickInterval is the time between two ticks in milliseconds.
		TickInterval int `toml:"tick_interval" yaml:"tick_interval"`
	} `toml:"scheduling" yaml:"scheduling"`
	Players struct {
		// ViewDistance is the radius in chunks around players in which chunks are loaded.
		ViewDistance int `toml:"view_distance" yaml:"view_distance"`
		// SimulationDistance is the radius in chunks around players in which chunks are ticked.
		SimulationDistance int `toml:"simulation_distance" yaml:"simulation_distance"`
	} `toml:"players" yaml:"players"`
}

// Config converts a UserConfig to a Config, so that it may be used for creating a Server. An error is returned if
// creating the data provider or loading the forced chunks failed.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	conf := Config{
		Log:             log,
		Spawn:           chunk.Pos{uc.World.SpawnX, uc.World.SpawnZ},
		SpawnRadius:     uc.World.SpawnRadius,
		MetricsInterval: time.Duration(uc.Server.MetricsInterval) * time.Second,
		World: world.Config{
			Log:                  log,
			ReadOnly:             uc.World.ReadOnly,
			Generator:            generation.Seeded{Seed: uc.World.Seed},
			Workers:              uc.Scheduling.Workers,
			QueueSize:            uc.Scheduling.QueueSize,
			PlayerTicketThrottle: uc.Scheduling.PlayerTicketThrottle,
			ViewDistance:         uc.Players.ViewDistance,
			SimulationDistance:   uc.Players.SimulationDistance,
			TickInterval:         time.Duration(uc.Scheduling.TickInterval) * time.Millisecond,
			SaveInterval:         time.Duration(uc.World.SaveInterval) * time.Second,
		},
	}
	if conf.SpawnRadius > MaxForcedRadius {
		return conf, fmt.Errorf("spawn radius: %w: %v", ErrInvalidRadius, conf.SpawnRadius)
	}
	if uc.World.SaveData {
		db, err := storage.Config{Log: log, ReadOnly: uc.World.ReadOnly}.Open(uc.World.Folder)
		if err != nil {
			return conf, fmt.Errorf("create world provider: %w", err)
		}
		conf.World.Provider = db
	}
	if file := strings.TrimSpace(uc.World.ForcedChunksFile); file != "" {
		forced, err := LoadForcedChunks(file)
		if err != nil {
			if conf.World.Provider != nil {
				_ = conf.World.Provider.Close()
			}
			return conf, fmt.Errorf("load forced chunks: %w", err)
		}
		conf.ForcedChunks = forced
	}
	return conf, nil
}

// LogLevel returns the slog.Level configured in the UserConfig.
func (uc UserConfig) LogLevel() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(uc.Server.LogLevel) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(uc.Server.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Server.LogLevel = "info"
	c.Server.MetricsInterval = 60
	c.World.SaveData = true
	c.World.Folder = "world"
	c.World.SpawnRadius = 10
	c.World.ForcedChunksFile = "forced_chunks.toml"
	c.World.SaveInterval = 300
	c.Scheduling.TickInterval = 50
	c.Players.ViewDistance = 8
	c.Players.SimulationDistance = 10
	return c
}

// ReadConfig reads the UserConfig stored at path. Files ending in .yml or .yaml are decoded as YAML, all other files
// as TOML. If the file does not exist, it is created with the values of DefaultConfig. Values missing from the file
// keep their default.
func ReadConfig(path string) (UserConfig, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if data, err = marshalConfig(path, c); err != nil {
			return c, fmt.Errorf("encode default config: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return c, fmt.Errorf("create default config: %w", err)
		}
		return c, nil
	} else if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, &c)
	} else {
		err = toml.Unmarshal(data, &c)
	}
	if err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

func marshalConfig(path string, c UserConfig) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(c)
	}
	return toml.Marshal(c)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}
