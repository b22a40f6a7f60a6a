package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"syncline/internal/cache"
	"syncline/internal/config"
	"syncline/internal/connectivity"
	"syncline/internal/domain"
	"syncline/internal/export"
	"syncline/internal/fullsync"
	"syncline/internal/kvstore"
	"syncline/internal/logging"
	"syncline/internal/models"
	"syncline/internal/queue"
	"syncline/internal/request"
	"syncline/internal/transport"

	"github.com/rs/zerolog"
)

// app holds the wired component graph shared by all subcommands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	closer io.Closer

	kv       domain.KVStore
	cache    *cache.Store
	conn     *connectivity.Monitor
	queue    *queue.Queue
	reader   *request.Orchestrator
	syncer   *fullsync.Orchestrator
	exporter *export.Exporter
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger := *baseLogger

	kv, err := openKV(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ttls := cfg.CacheTTLs()
	cacheStore := cache.New(kv, logger, cache.Options{
		CapacityBytes: cfg.Cache.CapacityBytes,
		HighTTL:       ttls[models.PriorityHigh],
		MediumTTL:     ttls[models.PriorityMedium],
		LowTTL:        ttls[models.PriorityLow],
	})

	headers := map[string]string{}
	if cfg.Upstream.AuthToken != "" {
		headers["Authorization"] = "Bearer " + cfg.Upstream.AuthToken
	}
	client := transport.NewClient(logger, transport.Options{
		Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		Headers: headers,
	})

	probeClient := &http.Client{Timeout: 5 * time.Second}
	conn := connectivity.New(
		connectivity.HTTPProbe(probeClient, cfg.Upstream.BaseURL+cfg.Upstream.HealthPath),
		time.Duration(cfg.Upstream.ProbeIntervalSeconds)*time.Second,
		logger,
	)

	q, err := queue.New(kv, cacheStore, client, conn, logger, queue.Options{
		BaseURL: cfg.Upstream.BaseURL,
		Retry: queue.RetryPolicy{
			MaxAttempts:   cfg.Queue.MaxAttempts,
			InitialDelay:  time.Duration(cfg.Queue.InitialDelaySeconds) * time.Second,
			MaxDelay:      time.Duration(cfg.Queue.MaxDelaySeconds) * time.Second,
			BackoffFactor: cfg.Queue.BackoffFactor,
		},
		QueueCap:      cfg.Queue.QueueCap,
		DeadLetterCap: cfg.Queue.DeadLetterCap,
		DrainInterval: time.Duration(cfg.Queue.DrainIntervalSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init queue: %w", err)
	}

	reader := request.New(client, cacheStore, q, conn, logger, cfg.Upstream.BaseURL)

	syncer := fullsync.New(kv, logger, fullsync.Options{HistoryCap: cfg.Sync.HistoryCap})
	for _, kind := range cfg.Sync.EntityOrder {
		syncer.Register(fullsync.NewHTTPEntitySyncer(kind, entityEndpoint(kind), entityPriority(kind), reader))
	}

	exporter := export.New(cfg.Exports, syncer, q, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		closer:   closer,
		kv:       kv,
		cache:    cacheStore,
		conn:     conn,
		queue:    q,
		reader:   reader,
		syncer:   syncer,
		exporter: exporter,
	}, nil
}

func (a *app) Close() {
	if err := a.kv.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("storage close failed")
	}
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

func openKV(cfg config.StorageConfig, logger zerolog.Logger) (domain.KVStore, error) {
	var (
		store domain.KVStore
		err   error
	)
	switch cfg.Backend {
	case "sqlite":
		store, err = kvstore.NewSQLiteStore(cfg.SQLitePath)
	case "badger":
		store, err = kvstore.NewBadgerStore(cfg.BadgerPath)
	case "redis":
		client := kvstore.NewRedisClient(kvstore.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if pingErr := kvstore.Ping(context.Background(), client); pingErr != nil {
			logger.Warn().Err(pingErr).Msg("redis unreachable at startup")
		}
		store = kvstore.NewRedisStore(client)
	case "memory":
		store = kvstore.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.FallbackToMemory && cfg.Backend != "memory" {
		store = kvstore.NewFailoverStore(store, kvstore.NewMemoryStore(), &logger)
	}
	return store, nil
}

func entityEndpoint(kind string) string {
	return "/" + kind + "s"
}

// entityPriority maps entity kinds to cache bands: reference data is kept
// longest, transactional records expire first.
func entityPriority(kind string) string {
	switch kind {
	case models.EntityPipeline, models.EntityCalendar, models.EntityUser, models.EntityTag:
		return models.PriorityHigh
	case models.EntityContact, models.EntityProject, models.EntityQuote:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}
