// Command chunkd runs a chunk World that keeps its spawn area and forced
// chunks loaded until it is interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/df-mc/chunkflow/server"
)

func main() {
	path := flag.String("config", "config.toml", "path of the config file, TOML or YAML")
	flag.Parse()

	uc, err := server.ReadConfig(*path)
	if err != nil {
		slog.Error("read config", "err", err)
		os.Exit(1)
	}
	level, err := uc.LogLevel()
	if err != nil {
		slog.Error("read config", "err", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	conf, err := uc.Config(log)
	if err != nil {
		log.Error("create server config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := conf.New().Run(ctx); err != nil {
		log.Error("run server", "err", err)
		os.Exit(1)
	}
}
