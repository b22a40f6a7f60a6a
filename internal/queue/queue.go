package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"syncline/internal/domain"
	"syncline/internal/events"
	"syncline/internal/metrics"
	"syncline/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Storage keys inside the shared KV substrate.
const (
	pendingKey    = "queue:pending"
	deadLetterKey = "queue:deadletter"
)

// ErrQueueFull is returned when the active queue is at capacity.
var ErrQueueFull = errors.New("sync queue is full")

// Options configure a queue. Zero fields fall back to defaults.
type Options struct {
	BaseURL       string
	Retry         RetryPolicy
	QueueCap      int
	DeadLetterCap int
	DrainInterval time.Duration
}

// Queue is the durable retrying mutation queue. Mutations drain strictly in
// (priority desc, enqueuedAt asc) order; draining is single-flight.
type Queue struct {
	kv        domain.KVStore
	cache     domain.CacheStore
	transport domain.Transport
	conn      domain.ConnectivityMonitor
	logger    zerolog.Logger

	baseURL       string
	retry         RetryPolicy
	queueCap      int
	deadLetterCap int
	drainInterval time.Duration

	mu          sync.Mutex
	pending     []models.QueuedMutation
	deadLetters []models.FailedMutation
	lastDrainAt time.Time

	draining  atomic.Bool
	listeners *events.Registry[models.QueueStatus]
	now       func() time.Time
}

func New(kv domain.KVStore, cache domain.CacheStore, transport domain.Transport,
	conn domain.ConnectivityMonitor, logger zerolog.Logger, opts Options) (*Queue, error) {

	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = models.DefaultMaxAttempts
	}
	if opts.Retry.InitialDelay <= 0 {
		opts.Retry.InitialDelay = 2 * time.Second
	}
	if opts.Retry.MaxDelay <= 0 {
		opts.Retry.MaxDelay = time.Minute
	}
	if opts.Retry.BackoffFactor <= 0 {
		opts.Retry.BackoffFactor = 2
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = models.DefaultQueueCap
	}
	if opts.DeadLetterCap <= 0 {
		opts.DeadLetterCap = models.DefaultDeadLetterCap
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = models.DefaultDrainInterval
	}

	q := &Queue{
		kv:            kv,
		cache:         cache,
		transport:     transport,
		conn:          conn,
		logger:        logger.With().Str("component", "sync_queue").Logger(),
		baseURL:       opts.BaseURL,
		retry:         opts.Retry,
		queueCap:      opts.QueueCap,
		deadLetterCap: opts.DeadLetterCap,
		drainInterval: opts.DrainInterval,
		listeners:     events.NewRegistry[models.QueueStatus](),
		now:           time.Now,
	}

	if err := q.restore(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

// restore loads the persisted queue and dead-letter store.
func (q *Queue) restore(ctx context.Context) error {
	values, err := q.kv.MultiGet(ctx, []string{pendingKey, deadLetterKey})
	if err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}
	if raw, ok := values[pendingKey]; ok {
		if err := json.Unmarshal([]byte(raw), &q.pending); err != nil {
			q.logger.Warn().Err(err).Msg("discarding corrupt pending queue")
			q.pending = nil
		}
	}
	if raw, ok := values[deadLetterKey]; ok {
		if err := json.Unmarshal([]byte(raw), &q.deadLetters); err != nil {
			q.logger.Warn().Err(err).Msg("discarding corrupt dead-letter store")
			q.deadLetters = nil
		}
	}
	q.sortLocked()
	return nil
}

// Enqueue assigns identity and position to a mutation, persists the queue,
// and triggers an immediate drain when online.
func (q *Queue) Enqueue(ctx context.Context, m models.QueuedMutation) (models.QueuedMutation, error) {
	now := q.now()
	m.ID = fmt.Sprintf("mut_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
	m.EnqueuedAt = now
	m.Attempt = 0
	m.NextAttemptAt = time.Time{}
	if models.PriorityRank(m.Priority) == 0 {
		m.Priority = models.PriorityMedium
	}

	q.mu.Lock()
	if len(q.pending) >= q.queueCap {
		q.mu.Unlock()
		return models.QueuedMutation{}, ErrQueueFull
	}
	q.pending = append(q.pending, m)
	q.sortLocked()
	if err := q.persistLocked(ctx); err != nil {
		// Roll back the in-memory insert so state matches storage.
		q.removeLocked(m.ID)
		q.mu.Unlock()
		return models.QueuedMutation{}, err
	}
	q.mu.Unlock()

	q.logger.Info().
		Str("id", m.ID).
		Str("op", m.OpKind).
		Str("entity", m.EntityKind).
		Str("priority", m.Priority).
		Msg("mutation enqueued")
	q.notify()

	if q.conn.IsOnline() {
		if err := q.Drain(ctx); err != nil {
			q.logger.Warn().Err(err).Msg("post-enqueue drain failed")
		}
	}
	return m, nil
}

// Drain executes queued mutations in snapshot order. It is a no-op while
// offline or while another drain is running; the CAS closes the same-tick
// race between the ticker and the connectivity edge.
func (q *Queue) Drain(ctx context.Context) error {
	if !q.conn.IsOnline() {
		return nil
	}
	if !q.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer q.draining.Store(false)

	q.notify()

	now := q.now()
	q.mu.Lock()
	snapshot := make([]models.QueuedMutation, 0, len(q.pending))
	for _, m := range q.pending {
		if m.Eligible(now) {
			snapshot = append(snapshot, m)
		}
	}
	q.mu.Unlock()

	var firstErr error
	for _, m := range snapshot {
		if err := ctx.Err(); err != nil {
			firstErr = err
			break
		}
		if err := q.execute(ctx, m); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	q.mu.Lock()
	q.lastDrainAt = q.now()
	err := q.persistLocked(ctx)
	q.mu.Unlock()
	if err != nil && firstErr == nil {
		firstErr = err
	}

	metrics.IncQueueDrain()
	q.notify()
	return firstErr
}

// execute runs one mutation against the upstream and settles its fate.
func (q *Queue) execute(ctx context.Context, m models.QueuedMutation) error {
	resp, err := q.transport.Do(ctx, m.Method, q.baseURL+m.Endpoint, m.QueryParams, m.Body)
	if err == nil {
		q.settleSuccess(ctx, m, resp)
		return nil
	}

	var te *domain.TransportError
	if errors.As(err, &te) && te.Connectivity {
		// The link is gone; leave the mutation untouched for the next
		// drain instead of burning an attempt.
		q.conn.SetOnline(false)
		return err
	}

	q.settleFailure(m, err)
	return nil
}

func (q *Queue) settleSuccess(ctx context.Context, m models.QueuedMutation, resp *domain.Response) {
	q.mu.Lock()
	q.removeLocked(m.ID)
	if err := q.persistLocked(ctx); err != nil {
		q.logger.Warn().Err(err).Str("id", m.ID).Msg("persist after delivery failed")
	}
	q.mu.Unlock()

	// The authoritative server payload replaces any optimistic placeholder.
	if (m.OpKind == models.OpCreate || m.OpKind == models.OpUpdate) && m.CacheKey != "" && len(resp.Body) > 0 {
		opts := domain.CacheSetOptions{Priority: m.Priority}
		if err := q.cache.Set(ctx, m.CacheKey, resp.Body, opts); err != nil {
			q.logger.Warn().Err(err).Str("id", m.ID).Msg("cache reconcile failed")
		}
	}

	q.logger.Info().Str("id", m.ID).Str("entity", m.EntityKind).Msg("mutation delivered")
}

func (q *Queue) settleFailure(m models.QueuedMutation, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(m.ID)
	if idx < 0 {
		return
	}

	q.pending[idx].Attempt++
	attempt := q.pending[idx].Attempt

	if attempt >= q.retry.MaxAttempts {
		failed := models.FailedMutation{
			QueuedMutation: q.pending[idx],
			Error:          cause.Error(),
			FailedAt:       q.now(),
		}
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
		q.deadLetters = append(q.deadLetters, failed)
		if len(q.deadLetters) > q.deadLetterCap {
			q.deadLetters = q.deadLetters[len(q.deadLetters)-q.deadLetterCap:]
		}
		metrics.IncDeadLetter()
		q.logger.Error().Err(cause).Str("id", m.ID).Int("attempts", attempt).Msg("mutation dead-lettered")
		return
	}

	// Independent scheduling: the retry gate only delays this mutation,
	// never the rest of the drain pass.
	delay := q.retry.NextDelay(attempt)
	q.pending[idx].NextAttemptAt = q.now().Add(delay)
	q.logger.Warn().Err(cause).Str("id", m.ID).Int("attempt", attempt).Dur("retry_in", delay).Msg("mutation retry scheduled")
}

// Status returns the current queue snapshot.
func (q *Queue) Status() models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.QueueStatus{
		Online:      q.conn.IsOnline(),
		Draining:    q.draining.Load(),
		Pending:     len(q.pending),
		DeadLetters: len(q.deadLetters),
		LastDrainAt: q.lastDrainAt,
	}
}

// DeadLetters returns a copy of the dead-letter store, newest last.
func (q *Queue) DeadLetters() []models.FailedMutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.FailedMutation, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

// Subscribe registers a status listener under id; it receives a snapshot on
// every state change.
func (q *Queue) Subscribe(id string, fn func(models.QueueStatus)) {
	q.listeners.Subscribe(id, fn)
}

// Unsubscribe removes the listener registered under id.
func (q *Queue) Unsubscribe(id string) {
	q.listeners.Unsubscribe(id)
}

// Start wires the queue to the connectivity monitor and runs the periodic
// safety-net drain until ctx is done.
func (q *Queue) Start(ctx context.Context) {
	q.conn.Subscribe("sync_queue", func(online bool) {
		if online {
			if err := q.Drain(ctx); err != nil {
				q.logger.Warn().Err(err).Msg("edge-triggered drain failed")
			}
		}
	})
	defer q.conn.Unsubscribe("sync_queue")

	ticker := time.NewTicker(q.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Drain(ctx); err != nil {
				q.logger.Warn().Err(err).Msg("periodic drain failed")
			}
		}
	}
}

func (q *Queue) notify() {
	status := q.Status()
	metrics.SetQueueDepth(status.Pending)
	q.listeners.Publish(status)
}

// sortLocked orders by priority desc then enqueue time asc. Callers hold mu.
func (q *Queue) sortLocked() {
	sort.SliceStable(q.pending, func(i, j int) bool {
		ri, rj := models.PriorityRank(q.pending[i].Priority), models.PriorityRank(q.pending[j].Priority)
		if ri != rj {
			return ri > rj
		}
		return q.pending[i].EnqueuedAt.Before(q.pending[j].EnqueuedAt)
	})
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.pending {
		if q.pending[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(id string) {
	if idx := q.indexLocked(id); idx >= 0 {
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	}
}

func (q *Queue) persistLocked(ctx context.Context) error {
	pendingRaw, err := json.Marshal(q.pending)
	if err != nil {
		return fmt.Errorf("encode pending queue: %w", err)
	}
	deadRaw, err := json.Marshal(q.deadLetters)
	if err != nil {
		return fmt.Errorf("encode dead-letter store: %w", err)
	}
	pairs := map[string]string{
		pendingKey:    string(pendingRaw),
		deadLetterKey: string(deadRaw),
	}
	if err := q.kv.MultiSet(ctx, pairs); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}
