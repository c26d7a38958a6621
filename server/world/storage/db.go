package storage

import (
	"fmt"
	"log/slog"

	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
)

// Config holds the settings of a DB.
type Config struct {
	// Log is the Logger used to report problems. If nil, slog.Default() is
	// used.
	Log *slog.Logger
	// ReadOnly makes Store a no-op.
	ReadOnly bool
	// BlockCacheCapacity is the capacity in bytes of the block cache of the
	// database. If zero, the goleveldb default is used.
	BlockCacheCapacity int
}

// DB is a Provider storing chunks in a LevelDB database.
type DB struct {
	conf Config
	ldb  *leveldb.DB
}

// Open opens the database in dir, creating it if it does not exist.
func (conf Config) Open(dir string) (*DB, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	ldb, err := leveldb.OpenFile(dir, &opt.Options{
		Compression:        opt.NoCompression,
		BlockCacheCapacity: conf.BlockCacheCapacity,
		ReadOnly:           conf.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open chunk db %v: %w", dir, err)
	}
	conf.Log.Debug("opened chunk db", "dir", dir)
	return &DB{conf: conf, ldb: ldb}, nil
}

// Load loads the chunk at pos. leveldb.ErrNotFound is returned if the chunk
// was never stored, ErrCorrupt if its record is damaged.
func (db *DB) Load(pos chunk.Pos) (*chunk.Chunk, error) {
	b, err := db.ldb.Get(key(pos), nil)
	if err != nil {
		return nil, err
	}
	return decode(pos, b)
}

// Store stores c.
func (db *DB) Store(c *chunk.Chunk) error {
	if db.conf.ReadOnly {
		return nil
	}
	b, err := encode(c)
	if err != nil {
		return err
	}
	if err := db.ldb.Put(key(c.Pos()), b, nil); err != nil {
		return fmt.Errorf("store chunk %v: %w", c.Pos(), err)
	}
	return nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.ldb.Close()
}
