// Package server runs a chunk World as a long-lived process: it keeps the
// spawn area and forced chunks loaded, logs the metrics of the World and closes
// it when the process stops.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/df-mc/chunkflow/server/world"
	"github.com/df-mc/chunkflow/server/world/chunk"
	"github.com/df-mc/chunkflow/server/world/ticket"
	"golang.org/x/sync/errgroup"
)

// Server runs a single World.
type Server struct {
	conf  Config
	world *world.World
	once  sync.Once
}

// spawnKey is the key of the ticket keeping the spawn area loaded.
type spawnKey struct{}

// World returns the World of the Server.
func (srv *Server) World() *world.World {
	return srv.world
}

// Run loads the spawn area and forced chunks and runs the Server until ctx is
// cancelled, after which the World is closed. Run returns the first error
// encountered while running or closing.
func (srv *Server) Run(ctx context.Context) error {
	<-srv.world.Exec(func(tx *world.Tx) {
		if srv.conf.SpawnRadius > 0 {
			tx.AddRegionTicket(ticket.Start, srv.conf.Spawn, srv.conf.SpawnRadius, spawnKey{})
		}
		srv.conf.ForcedChunks.Apply(tx)
	})
	srv.conf.Log.Info("server running", "spawn", srv.conf.Spawn, "spawn_radius", srv.conf.SpawnRadius, "forced", len(srv.conf.ForcedChunks.Chunks()))

	g, ctx := errgroup.WithContext(ctx)
	if srv.conf.MetricsInterval > 0 {
		g.Go(func() error {
			srv.logMetrics(ctx)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})
	return g.Wait()
}

// ForceChunk keeps the area of radius around pos loaded, also after the
// Server restarts. It returns false if an area was already forced at pos.
func (srv *Server) ForceChunk(pos chunk.Pos, radius int) (bool, error) {
	added, err := srv.conf.ForcedChunks.Add(pos, radius, ticket.Forced)
	if err != nil || !added {
		return added, err
	}
	<-srv.world.Exec(func(tx *world.Tx) {
		ForcedChunk{Pos: pos, Radius: radius, Type: ticket.Forced}.add(tx)
	})
	return true, nil
}

// UnforceChunk stops keeping the area forced at pos loaded. It returns false
// if no area was forced at pos.
func (srv *Server) UnforceChunk(pos chunk.Pos) (bool, error) {
	c, removed, err := srv.conf.ForcedChunks.Remove(pos)
	if err != nil || !removed {
		return removed, err
	}
	<-srv.world.Exec(c.remove)
	return true, nil
}

// Close closes the World of the Server. Close may be called more than once.
func (srv *Server) Close() error {
	var err error
	srv.once.Do(func() {
		srv.conf.Log.Info("closing server...")
		if err = srv.world.Close(); err != nil {
			err = fmt.Errorf("close world: %w", err)
		}
	})
	return err
}

// logMetrics logs the metrics of the World every MetricsInterval until ctx is
// cancelled.
func (srv *Server) logMetrics(ctx context.Context) {
	t := time.NewTicker(srv.conf.MetricsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m := srv.world.Metrics()
			srv.conf.Log.Info("world metrics",
				"tick", m.Tick, "tps", fmt.Sprintf("%.2f", m.TPS),
				"loaded", m.Loaded, "pending_unloads", m.PendingUnloads,
				"players", m.Players, "natural_spawning", m.NaturalSpawning,
				"pool_saturation", m.PoolSaturation)
		}
	}
}
