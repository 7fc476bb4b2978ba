package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ElishaAz/VR-Navigation/pkg/api"
	"github.com/ElishaAz/VR-Navigation/pkg/blob"
	"github.com/ElishaAz/VR-Navigation/pkg/logging"
	"github.com/ElishaAz/VR-Navigation/pkg/pkgstore"
	"github.com/ElishaAz/VR-Navigation/pkg/store"
	"github.com/ElishaAz/VR-Navigation/pkg/store/redis"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "vrnav-d: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New("vrnav-d", logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	logger.Info("system_started", "data_dir", cfg.DataDir, "policy", string(cfg.Policy))

	if err := os.MkdirAll(cfg.MapsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create maps dir: %w", err)
	}

	trips, err := openTripStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := trips.Close(); err != nil {
			logger.Error("failed_to_close_store", "error", err)
		} else {
			logger.Info("store_closed")
		}
	}()

	catalog := pkgstore.NewStore(pkgstore.Config{
		Root:       cfg.MapsDir,
		Scratch:    cfg.ScratchDir,
		Duplicates: cfg.Duplicates,
		Logger:     logger,
	})
	if maps, err := catalog.List(); err != nil {
		logger.Warn("map_scan_failed", "error", err)
	} else {
		logger.Info("maps_located", "count", len(maps))
	}

	apiCfg := api.Config{
		Addr:             cfg.Addr,
		Catalog:          catalog,
		Trips:            trips,
		Policy:           cfg.Policy,
		ActionsPerSecond: cfg.ActionsPerSecond,
		MaxDecodes:       cfg.MaxDecodes,
		Logger:           logger,
	}
	if cfg.ExportsDir != "" {
		apiCfg.Exports = blob.NewLocalBlobStore(cfg.ExportsDir)
		logger.Info("trip_exports_enabled", "dir", cfg.ExportsDir)
	}

	srv, err := api.NewServer(apiCfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Handle SIGINT/SIGTERM for graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("shutdown_initiated", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("server_shutdown_failed", "error", err)
	}

	logger.Info("shutdown_complete")
	return nil
}

// openTripStore picks Redis when a URL is configured, SQLite otherwise.
func openTripStore(cfg Config, logger *slog.Logger) (store.EntryStore, error) {
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		logger.Info("store_initialized", "backend", "redis", "addr", opts.Addr)
		return redis.NewEntryStore(client), nil
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	logger.Info("store_initialized", "backend", "sqlite", "path", cfg.DBPath)
	return st, nil
}
