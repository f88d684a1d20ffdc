package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-doppel-bot/internal/config"
	"github.com/tbourn/go-doppel-bot/internal/http/handlers"
	"github.com/tbourn/go-doppel-bot/internal/repo"
	"github.com/tbourn/go-doppel-bot/internal/services"
)

// stores bundles the job store and the event log of the selected backend.
type stores struct {
	Jobs   services.JobStore
	Events handlers.EventLog
	Close  func() error
}

// openStores opens the backend named by cfg.Store.Driver. SQL backends are
// traced and migrated.
func openStores(ctx context.Context, cfg config.StoreConfig) (*stores, error) {
	switch cfg.Driver {
	case config.StoreRedis:
		client, err := repo.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		return &stores{
			Jobs:   repo.NewRedisJobStore(client),
			Events: repo.NewRedisEventLog(client),
			Close:  client.Close,
		}, nil
	default:
		db, err := openSQL(cfg)
		if err != nil {
			return nil, err
		}
		if err := repo.Instrument(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin not installed")
		}
		if err := repo.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		return &stores{
			Jobs:   repo.NewSQLJobStore(db),
			Events: repo.SQLEventLog{DB: db},
			Close:  sqlDB.Close,
		}, nil
	}
}

func openSQL(cfg config.StoreConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		db, err := repo.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return db, nil
	case config.StoreSQLite:
		db, err := repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("sqlite %s: %w", cfg.DBPath, err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("store driver %q has no SQL schema", cfg.Driver)
}
