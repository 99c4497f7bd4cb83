// Package bootstrap wires the record store, cache and report service shared by the API server and the CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-outcomes-api/internal/recordstore"
	"github.com/noah-isme/clinic-outcomes-api/internal/repository"
	"github.com/noah-isme/clinic-outcomes-api/internal/service"
	"github.com/noah-isme/clinic-outcomes-api/pkg/cache"
	"github.com/noah-isme/clinic-outcomes-api/pkg/config"
	"github.com/noah-isme/clinic-outcomes-api/pkg/database"
)

// Deps holds the connections opened for report generation. Close releases them.
type Deps struct {
	DB      *sqlx.DB
	Redis   *redis.Client
	Store   service.RecordStore
	Cache   *service.CacheService
	Reports *service.OutcomeReportService
}

// Options toggles optional dependencies.
type Options struct {
	// NeedDB opens Postgres even when the record store is served over HTTP.
	NeedDB bool
	// SkipCache disables Redis regardless of configuration.
	SkipCache bool
}

// Build opens every dependency required by cfg and constructs the report service.
func Build(ctx context.Context, cfg *config.Config, metrics *service.MetricsService, logger *zap.Logger, opts Options) (*Deps, error) {
	deps := &Deps{}

	driver := cfg.RecordStore.Driver
	if driver == "" {
		driver = config.RecordStorePostgres
	}

	if driver == config.RecordStorePostgres || opts.NeedDB {
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		deps.DB = db
	}

	switch driver {
	case config.RecordStorePostgres:
		deps.Store = repository.NewRecordStore(deps.DB)
	case config.RecordStoreHTTP:
		deps.Store = recordstore.New(recordstore.Config{
			BaseURL: cfg.RecordStore.BaseURL,
			Token:   cfg.RecordStore.Token,
			Timeout: cfg.RecordStore.Timeout,
			Retries: cfg.RecordStore.Retries,
		}, logger)
	default:
		deps.Close()
		return nil, fmt.Errorf("unknown record store driver %q", driver)
	}

	var cacheRepo service.CacheRepository
	if cfg.Reports.CacheEnabled && !opts.SkipCache {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, report cache disabled", zap.Error(err))
		} else {
			deps.Redis = client
			cacheRepo = repository.NewCacheRepository(client, logger)
		}
	}
	deps.Cache = service.NewCacheService(cacheRepo, metrics, cfg.Reports.CacheTTL, logger, cacheRepo != nil)

	deps.Reports = service.NewOutcomeReportServiceFromStore(deps.Store, deps.Cache, metrics, logger, service.OutcomeReportConfig{
		CacheTTL:         cfg.Reports.CacheTTL,
		FetchConcurrency: cfg.Reports.FetchConcurrency,
		BulkActivities:   cfg.Reports.BulkActivities,
		Location:         cfg.Reports.Location(),
	})
	return deps, nil
}

// Close releases open connections.
func (d *Deps) Close() {
	if d == nil {
		return
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
