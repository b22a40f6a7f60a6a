package fullsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"syncline/internal/kvstore"
	"syncline/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSyncer struct {
	kind   string
	counts models.SyncCounts
	err    error
	panics bool

	mu     sync.Mutex
	called int
	block  chan struct{}
}

func (s *stubSyncer) EntityKind() string { return s.kind }

func (s *stubSyncer) Sync(ctx context.Context, tenantID string, opts models.SyncOptions) (models.SyncCounts, error) {
	s.mu.Lock()
	s.called++
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	if s.panics {
		panic("syncer blew up")
	}
	return s.counts, s.err
}

func (s *stubSyncer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.called
}

func newTestOrchestrator(opts Options, syncers ...*stubSyncer) *Orchestrator {
	o := New(kvstore.NewMemoryStore(), zerolog.Nop(), opts)
	for _, s := range syncers {
		o.Register(s)
	}
	return o
}

func TestSyncAllRunsEntitiesInRegistrationOrder(t *testing.T) {
	var order []string
	o := New(kvstore.NewMemoryStore(), zerolog.Nop(), Options{})
	for _, kind := range []string{models.EntityPipeline, models.EntityContact, models.EntityPayment} {
		kind := kind
		o.Register(&orderedSyncer{kind: kind, record: func() { order = append(order, kind) }})
	}

	progress, err := o.SyncAll(context.Background(), "t1", models.SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{models.EntityPipeline, models.EntityContact, models.EntityPayment}, order)
	assert.Equal(t, models.SyncComplete, progress.Overall.Status)
	assert.InDelta(t, 100, progress.Overall.Percent, 0.01)
}

type orderedSyncer struct {
	kind   string
	record func()
}

func (s *orderedSyncer) EntityKind() string { return s.kind }
func (s *orderedSyncer) Sync(ctx context.Context, tenantID string, opts models.SyncOptions) (models.SyncCounts, error) {
	s.record()
	return models.SyncCounts{Updated: 1}, nil
}

func TestSyncAllIsolatesEntityFailures(t *testing.T) {
	failing := &stubSyncer{kind: models.EntityContact, err: errors.New("upstream exploded")}
	after := &stubSyncer{kind: models.EntityPayment, counts: models.SyncCounts{Updated: 5}}
	o := newTestOrchestrator(Options{},
		&stubSyncer{kind: models.EntityPipeline},
		failing,
		after,
	)

	progress, err := o.SyncAll(context.Background(), "t1", models.SyncOptions{})
	require.NoError(t, err, "a failing entity must not fail the run")

	assert.Equal(t, 1, after.callCount(), "entities after the failure still run")
	assert.Equal(t, models.SyncComplete, progress.Overall.Status)

	require.Len(t, progress.Results, 3)
	assert.True(t, progress.Results[0].Success)
	assert.False(t, progress.Results[1].Success)
	assert.Equal(t, "upstream exploded", progress.Results[1].Message)
	assert.True(t, progress.Results[2].Success)

	assert.Equal(t, models.EntityFailed, progress.Entities[models.EntityContact].Status)
	assert.Equal(t, models.EntityComplete, progress.Entities[models.EntityPayment].Status)
}

func TestSyncAllPanicFailsTheRun(t *testing.T) {
	o := newTestOrchestrator(Options{},
		&stubSyncer{kind: models.EntityPipeline},
		&stubSyncer{kind: models.EntityContact, panics: true},
	)

	progress, err := o.SyncAll(context.Background(), "t1", models.SyncOptions{})
	require.Error(t, err)
	assert.Equal(t, models.SyncFailed, progress.Overall.Status)

	// A later run still works: the running flag was released.
	assert.False(t, o.Running())
}

func TestSyncAllRejectsConcurrentRuns(t *testing.T) {
	blocked := &stubSyncer{kind: models.EntityPipeline, block: make(chan struct{})}
	o := newTestOrchestrator(Options{}, blocked)

	done := make(chan struct{})
	go func() {
		_, _ = o.SyncAll(context.Background(), "t1", models.SyncOptions{})
		close(done)
	}()

	require.Eventually(t, func() bool { return o.Running() }, time.Second, time.Millisecond)

	_, err := o.SyncAll(context.Background(), "t1", models.SyncOptions{})
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(blocked.block)
	<-done
	assert.Equal(t, 1, blocked.callCount())
}

func TestSyncAllPersistsBoundedHistory(t *testing.T) {
	o := newTestOrchestrator(Options{HistoryCap: 2}, &stubSyncer{kind: models.EntityPipeline})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := o.SyncAll(ctx, "t1", models.SyncOptions{})
		require.NoError(t, err)
	}

	runs, err := o.History(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, runs, 2, "history keeps only the most recent runs")
	for _, run := range runs {
		assert.Equal(t, models.SyncComplete, run.Status)
		assert.Equal(t, "t1", run.TenantID)
	}
}

func TestSyncAllHistoryIsPerTenant(t *testing.T) {
	o := newTestOrchestrator(Options{}, &stubSyncer{kind: models.EntityPipeline})
	ctx := context.Background()

	_, err := o.SyncAll(ctx, "t1", models.SyncOptions{})
	require.NoError(t, err)

	runs, err := o.History(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSyncAllRecordsLastSuccessPerEntity(t *testing.T) {
	o := newTestOrchestrator(Options{},
		&stubSyncer{kind: models.EntityPipeline},
		&stubSyncer{kind: models.EntityContact, err: errors.New("nope")},
	)
	ctx := context.Background()

	_, err := o.SyncAll(ctx, "t1", models.SyncOptions{})
	require.NoError(t, err)

	_, ok, err := o.LastSync(ctx, "t1", models.EntityPipeline)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = o.LastSync(ctx, "t1", models.EntityContact)
	require.NoError(t, err)
	assert.False(t, ok, "failed entities record no last-success timestamp")
}

func TestSubscribersReceiveProgressSnapshots(t *testing.T) {
	o := newTestOrchestrator(Options{},
		&stubSyncer{kind: models.EntityPipeline},
		&stubSyncer{kind: models.EntityContact},
	)

	var mu sync.Mutex
	var statuses []string
	o.Subscribe("test", func(p models.FullSyncProgress) {
		mu.Lock()
		statuses = append(statuses, p.Overall.Status)
		mu.Unlock()
	})
	defer o.Unsubscribe("test")

	_, err := o.SyncAll(context.Background(), "t1", models.SyncOptions{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, statuses)
	assert.Equal(t, models.SyncRunning, statuses[0])
	assert.Equal(t, models.SyncComplete, statuses[len(statuses)-1])
}

func TestProgressSnapshotIsIsolated(t *testing.T) {
	o := newTestOrchestrator(Options{}, &stubSyncer{kind: models.EntityPipeline})

	_, err := o.SyncAll(context.Background(), "t1", models.SyncOptions{})
	require.NoError(t, err)

	first := o.Progress()
	first.Entities[models.EntityPipeline] = models.EntityProgress{Status: "tampered"}

	second := o.Progress()
	assert.Equal(t, models.EntityComplete, second.Entities[models.EntityPipeline].Status)
}
