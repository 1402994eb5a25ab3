// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Hearthd is the homeserver daemon. It loads configuration, opens the
// key-value store, assembles the process globals, and runs until
// SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/emberfed/hearth/config"
	"github.com/emberfed/hearth/kvstore"
	"github.com/emberfed/hearth/lib/version"
	"github.com/emberfed/hearth/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showVersion bool
	pflag.StringVar(&configPath, "config", "", "path to config file (falls back to HEARTH_CONFIG)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("hearthd %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	globals, err := server.Load(ctx, store, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("hearthd running",
		"version", version.Info(),
		"server_name", globals.ServerName(),
		"backend", cfg.Database.Backend,
		"federation", cfg.AllowFederation,
	)

	<-ctx.Done()

	// Wake every parked long-poll so in-flight /sync requests drain
	// before the store closes.
	logger.Info("shutting down")
	globals.Rotation().Fire()
	return nil
}

func openStore(cfg *config.Config) (kvstore.Store, error) {
	switch cfg.Database.Backend {
	case config.BackendMemory:
		return kvstore.Memory(), nil
	case config.BackendSQLite:
		return kvstore.OpenSQLite(kvstore.SQLiteConfig{Path: cfg.Database.Path})
	case config.BackendRedis:
		return kvstore.OpenRedis(kvstore.RedisConfig{
			Addr:     cfg.Database.Addr,
			Password: cfg.Database.Password,
			DB:       cfg.Database.DB,
		})
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.Database.Backend)
	}
}
