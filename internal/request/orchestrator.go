package request

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"syncline/internal/cache"
	"syncline/internal/domain"
	"syncline/internal/metrics"
	"syncline/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CacheConfig controls read-through caching for one call.
type CacheConfig struct {
	Enabled  bool
	TTL      time.Duration
	Priority string
	// Key overrides the computed method+endpoint+params key.
	Key string
	// Refresh skips the cache lookup but keeps the write-back, forcing a
	// network fetch that still lands in the cache.
	Refresh bool
}

// OfflineConfig controls the write-fallback path for one call.
type OfflineConfig struct {
	// Allowed permits queueing this write when connectivity is lost.
	Allowed    bool
	OpKind     string
	EntityKind string
	Priority   string
	TenantID   string
	ActorID    string

	// CacheKey is where the optimistic record is stored and later replaced
	// by the server payload.
	CacheKey string

	// InvalidatePrefixes are cache prefixes cleared after a confirmed write,
	// typically the list caches of the affected entity.
	InvalidatePrefixes []string

	// Silent suppresses user-facing surfacing of any resulting error.
	Silent bool
}

// Orchestrator is the single entry point for all reads and writes. It
// composes the cache (read-through), the sync queue (write-fallback) and
// error classification.
type Orchestrator struct {
	transport domain.Transport
	cache     domain.CacheStore
	queue     domain.MutationQueue
	conn      domain.ConnectivityMonitor
	logger    zerolog.Logger
	baseURL   string
	now       func() time.Time
}

func New(transport domain.Transport, cacheStore domain.CacheStore, queue domain.MutationQueue,
	conn domain.ConnectivityMonitor, logger zerolog.Logger, baseURL string) *Orchestrator {
	return &Orchestrator{
		transport: transport,
		cache:     cacheStore,
		queue:     queue,
		conn:      conn,
		logger:    logger.With().Str("component", "request").Logger(),
		baseURL:   baseURL,
		now:       time.Now,
	}
}

// Read performs a cached GET. A present, unexpired entry short-circuits the
// network entirely. On a connectivity failure a stale entry, if any, is
// returned as a degraded result instead of the error.
func (o *Orchestrator) Read(ctx context.Context, endpoint string, params map[string]string, cc CacheConfig) ([]byte, error) {
	key := cc.Key
	if key == "" {
		key = cache.Key(http.MethodGet, endpoint, params)
	}

	// The stale payload is captured before the freshness check: an expired
	// entry is lazily evicted by Get, but must still be servable as the
	// degraded fallback if the network turns out to be gone.
	var stale []byte
	var hasStale bool
	if cc.Enabled && !cc.Refresh {
		stale, hasStale, _ = o.cache.GetStale(ctx, key)
		if payload, ok, err := o.cache.Get(ctx, key); err == nil && ok {
			return payload, nil
		}
	}

	resp, err := o.transport.Do(ctx, http.MethodGet, o.baseURL+endpoint, params, nil)
	if err != nil {
		apiErr := Classify(err)
		metrics.IncRequestError(apiErr.Class)

		if apiErr.Class == models.ErrClassConnectivity {
			o.conn.SetOnline(false)
			if hasStale {
				o.logger.Info().Str("endpoint", endpoint).Msg("serving stale cache while offline")
				return stale, nil
			}
		}
		return nil, apiErr
	}

	if cc.Enabled {
		opts := domain.CacheSetOptions{TTL: cc.TTL, Priority: cc.Priority}
		if err := o.cache.Set(ctx, key, resp.Body, opts); err != nil {
			o.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("cache write-back failed")
		}
	}
	return resp.Body, nil
}

// Write attempts a mutation against the upstream. On success configured
// cache prefixes are invalidated and the server payload is returned. On a
// connectivity failure with offline writes permitted, the mutation is queued
// and an optimistic local record is returned instead.
func (o *Orchestrator) Write(ctx context.Context, endpoint, method string, body []byte, oc OfflineConfig) (models.Record, error) {
	resp, err := o.transport.Do(ctx, method, o.baseURL+endpoint, nil, body)
	if err == nil {
		for _, prefix := range oc.InvalidatePrefixes {
			if clearErr := o.cache.Clear(ctx, prefix); clearErr != nil {
				o.logger.Warn().Err(clearErr).Str("prefix", prefix).Msg("cache invalidation failed")
			}
		}
		return models.Record{Remote: &models.RemoteRecord{
			ID:   models.ExtractID(resp.Body),
			Body: resp.Body,
		}}, nil
	}

	apiErr := Classify(err)
	apiErr.Silent = oc.Silent
	metrics.IncRequestError(apiErr.Class)

	if apiErr.Class != models.ErrClassConnectivity || !oc.Allowed {
		return models.Record{}, apiErr
	}

	o.conn.SetOnline(false)
	return o.queueOffline(ctx, endpoint, method, body, oc)
}

// queueOffline enqueues the failed write and synthesizes its optimistic
// stand-in.
func (o *Orchestrator) queueOffline(ctx context.Context, endpoint, method string, body []byte, oc OfflineConfig) (models.Record, error) {
	tempID := fmt.Sprintf("temp_%d_%s", o.now().UnixMilli(), uuid.NewString()[:8])

	cacheKey := oc.CacheKey
	if cacheKey == "" {
		cacheKey = cache.Key(http.MethodGet, endpoint, nil) + "/" + tempID
	}

	queued, err := o.queue.Enqueue(ctx, models.QueuedMutation{
		OpKind:      oc.OpKind,
		EntityKind:  oc.EntityKind,
		Endpoint:    endpoint,
		Method:      method,
		Body:        body,
		Priority:    oc.Priority,
		TenantID:    oc.TenantID,
		ActorID:     oc.ActorID,
		CacheKey:    cacheKey,
	})
	if err != nil {
		return models.Record{}, &APIError{
			Class:   models.ErrClassUnknown,
			Message: classMessages[models.ErrClassUnknown],
			Silent:  oc.Silent,
			Err:     err,
		}
	}

	payload, err := models.OptimisticPayload(body, tempID)
	if err != nil {
		return models.Record{}, &APIError{
			Class:   models.ErrClassUnknown,
			Message: classMessages[models.ErrClassUnknown],
			Silent:  oc.Silent,
			Err:     err,
		}
	}

	// Optimistic records outlive ordinary caches; they must survive until
	// the queue reconciles them.
	opts := domain.CacheSetOptions{Priority: models.PriorityHigh}
	if err := o.cache.Set(ctx, cacheKey, payload, opts); err != nil {
		o.logger.Warn().Err(err).Str("key", cacheKey).Msg("optimistic cache write failed")
	}

	o.logger.Info().
		Str("mutation_id", queued.ID).
		Str("temp_id", tempID).
		Str("entity", oc.EntityKind).
		Msg("write queued for offline sync")

	return models.Record{Local: &models.LocalRecord{
		TempID:     tempID,
		MutationID: queued.ID,
		Body:       payload,
	}}, nil
}
