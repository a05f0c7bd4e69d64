package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/store"
	"github.com/JonMunkholm/importer/internal/store/memory"
	"github.com/JonMunkholm/importer/internal/store/postgres"
	"github.com/JonMunkholm/importer/internal/store/sqlite"
)

// openStores builds the record stores for the configured driver and
// returns a func that releases its connections.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (map[string]core.RecordStore, func(), error) {
	switch cfg.Store.Driver {
	case store.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}

		// Log which database we connected to
		if u, err := url.Parse(cfg.Database.URL); err == nil {
			logger.Info("connected to database", "driver", "postgres", "name", strings.TrimPrefix(u.Path, "/"))
		}

		if cfg.Store.Migrate {
			if err := postgres.Migrate(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		stores, err := postgres.NewStores(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return stores, pool.Close, nil

	case store.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to database", "driver", "sqlite", "path", cfg.Store.SQLitePath)

		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Warn("close sqlite", "error", err)
			}
		}
		if cfg.Store.Migrate {
			if err := store.Migrate(ctx, db, store.DriverSQLite, logger); err != nil {
				closeDB()
				return nil, nil, err
			}
		}
		stores, err := sqlite.NewStores(db)
		if err != nil {
			closeDB()
			return nil, nil, err
		}
		return stores, closeDB, nil

	case store.DriverMemory:
		logger.Warn("using in-memory record store; imported records are lost on restart")
		return memory.NewStores(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
