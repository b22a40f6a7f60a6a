package fullsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"syncline/internal/domain"
	"syncline/internal/events"
	"syncline/internal/metrics"
	"syncline/internal/models"

	"github.com/rs/zerolog"
)

// ErrSyncInProgress is returned when SyncAll is invoked while a run is active.
var ErrSyncInProgress = errors.New("full sync already in progress")

// Options configure the orchestrator.
type Options struct {
	// HistoryCap bounds the per-tenant run history (most recent kept).
	HistoryCap int
}

// Orchestrator sequences a bulk resynchronization of all entity kinds for a
// tenant. Entity kinds run strictly sequentially in registration order;
// a failing entity is recorded and skipped over, never aborting the run.
type Orchestrator struct {
	kv         domain.KVStore
	logger     zerolog.Logger
	historyCap int

	syncers []domain.EntitySyncer

	running   atomic.Bool
	progress  atomic.Pointer[models.FullSyncProgress]
	listeners *events.Registry[models.FullSyncProgress]
	now       func() time.Time
}

func New(kv domain.KVStore, logger zerolog.Logger, opts Options) *Orchestrator {
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = models.DefaultHistoryCap
	}
	o := &Orchestrator{
		kv:         kv,
		logger:     logger.With().Str("component", "full_sync").Logger(),
		historyCap: opts.HistoryCap,
		listeners:  events.NewRegistry[models.FullSyncProgress](),
		now:        time.Now,
	}
	idle := models.FullSyncProgress{Overall: models.OverallProgress{Status: models.SyncIdle}}
	o.progress.Store(&idle)
	return o
}

// Register appends a per-entity syncer. Callers register in dependency
// order: reference data, then relational data, then leaf records.
func (o *Orchestrator) Register(s domain.EntitySyncer) {
	o.syncers = append(o.syncers, s)
}

// SyncAll runs every registered entity syncer in order. A per-entity error
// yields a failed SyncRunResult and the loop continues; only a panic
// escaping that isolation fails the whole run.
func (o *Orchestrator) SyncAll(ctx context.Context, tenantID string, opts models.SyncOptions) (models.FullSyncProgress, error) {
	if !o.running.CompareAndSwap(false, true) {
		return o.Progress(), ErrSyncInProgress
	}
	defer o.running.Store(false)

	startedAt := o.now()
	progress := models.FullSyncProgress{
		Overall: models.OverallProgress{
			Status:    models.SyncRunning,
			StartedAt: startedAt,
		},
		Entities: make(map[string]models.EntityProgress, len(o.syncers)),
	}
	for _, s := range o.syncers {
		progress.Entities[s.EntityKind()] = models.EntityProgress{Status: models.EntityPending}
	}
	o.publish(&progress)

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("full sync aborted: %v", r)
			}
		}()
		o.runEntities(ctx, tenantID, opts, &progress)
	}()

	completedAt := o.now()
	progress.Overall.CompletedAt = completedAt
	progress.Overall.CurrentEntity = ""
	if runErr != nil {
		progress.Overall.Status = models.SyncFailed
		o.logger.Error().Err(runErr).Str("tenant", tenantID).Msg("full sync aborted")
	} else {
		progress.Overall.Status = models.SyncComplete
	}

	duration := completedAt.Sub(startedAt)
	metrics.ObserveSyncRun(progress.Overall.Status, duration.Seconds())

	run := models.SyncRun{
		TenantID:    tenantID,
		Status:      progress.Overall.Status,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    duration,
		Results:     append([]models.SyncRunResult(nil), progress.Results...),
	}
	if err := o.appendHistory(ctx, tenantID, run); err != nil {
		o.logger.Warn().Err(err).Str("tenant", tenantID).Msg("persist run history failed")
	}

	o.publish(&progress)
	o.logger.Info().
		Str("tenant", tenantID).
		Str("status", progress.Overall.Status).
		Dur("duration", duration).
		Int("entities", len(progress.Results)).
		Msg("full sync finished")

	return progress.Clone(), runErr
}

func (o *Orchestrator) runEntities(ctx context.Context, tenantID string, opts models.SyncOptions, progress *models.FullSyncProgress) {
	total := len(o.syncers)
	for i, syncer := range o.syncers {
		kind := syncer.EntityKind()

		progress.Overall.CurrentEntity = kind
		progress.Entities[kind] = models.EntityProgress{Status: models.EntitySyncing}
		o.publish(progress)

		started := o.now()
		counts, err := syncer.Sync(ctx, tenantID, opts)
		result := models.SyncRunResult{
			EntityKind: kind,
			Success:    err == nil,
			Counts:     counts,
			Duration:   o.now().Sub(started),
			Timestamp:  o.now(),
		}

		if err != nil {
			result.Message = err.Error()
			progress.Entities[kind] = models.EntityProgress{Status: models.EntityFailed, Percent: 100, Message: err.Error()}
			o.logger.Warn().Err(err).Str("entity", kind).Msg("entity sync failed")
		} else {
			progress.Entities[kind] = models.EntityProgress{Status: models.EntityComplete, Percent: 100}
			if persistErr := o.setLastSync(ctx, tenantID, kind, result.Timestamp); persistErr != nil {
				o.logger.Warn().Err(persistErr).Str("entity", kind).Msg("persist last sync failed")
			}
		}

		progress.Results = append(progress.Results, result)
		progress.Overall.Percent = float64(i+1) / float64(total) * 100
		o.publish(progress)
	}
}

// Progress returns the latest immutable snapshot.
func (o *Orchestrator) Progress() models.FullSyncProgress {
	return o.progress.Load().Clone()
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Subscribe registers a progress observer under id; every state mutation
// fans out a snapshot synchronously.
func (o *Orchestrator) Subscribe(id string, fn func(models.FullSyncProgress)) {
	o.listeners.Subscribe(id, fn)
}

// Unsubscribe removes the observer registered under id.
func (o *Orchestrator) Unsubscribe(id string) {
	o.listeners.Unsubscribe(id)
}

func (o *Orchestrator) publish(progress *models.FullSyncProgress) {
	snapshot := progress.Clone()
	o.progress.Store(&snapshot)
	o.listeners.Publish(snapshot.Clone())
}

func historyKey(tenantID string) string { return "synchistory:" + tenantID }

func lastSyncKey(tenantID, kind string) string {
	return "lastsync:" + tenantID + ":" + kind
}

// History returns the bounded run history for a tenant, oldest first.
func (o *Orchestrator) History(ctx context.Context, tenantID string) ([]models.SyncRun, error) {
	raw, ok, err := o.kv.Get(ctx, historyKey(tenantID))
	if err != nil {
		return nil, fmt.Errorf("load run history: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var runs []models.SyncRun
	if err := json.Unmarshal([]byte(raw), &runs); err != nil {
		return nil, fmt.Errorf("decode run history: %w", err)
	}
	return runs, nil
}

// LastSync returns the most recent successful sync time for an entity kind.
func (o *Orchestrator) LastSync(ctx context.Context, tenantID, kind string) (time.Time, bool, error) {
	raw, ok, err := o.kv.Get(ctx, lastSyncKey(tenantID, kind))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode last sync: %w", err)
	}
	return ts, true, nil
}

func (o *Orchestrator) setLastSync(ctx context.Context, tenantID, kind string, ts time.Time) error {
	return o.kv.Set(ctx, lastSyncKey(tenantID, kind), ts.Format(time.RFC3339Nano))
}

func (o *Orchestrator) appendHistory(ctx context.Context, tenantID string, run models.SyncRun) error {
	runs, err := o.History(ctx, tenantID)
	if err != nil {
		runs = nil
	}
	runs = append(runs, run)
	if len(runs) > o.historyCap {
		runs = runs[len(runs)-o.historyCap:]
	}
	raw, err := json.Marshal(runs)
	if err != nil {
		return fmt.Errorf("encode run history: %w", err)
	}
	return o.kv.Set(ctx, historyKey(tenantID), string(raw))
}
