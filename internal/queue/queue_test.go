package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"syncline/internal/cache"
	"syncline/internal/connectivity"
	"syncline/internal/domain"
	"syncline/internal/kvstore"
	"syncline/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport scripts responses per endpoint and records the order of
// attempted calls.
type fakeTransport struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]*domain.Response
	errs      map[string]error
	block     chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string]*domain.Response),
		errs:      make(map[string]error),
	}
}

func (f *fakeTransport) Do(ctx context.Context, method, url string, params map[string]string, body []byte) (*domain.Response, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if resp, ok := f.responses[url]; ok {
		return resp, nil
	}
	return &domain.Response{StatusCode: 200, Body: []byte(`{"id":"srv_1"}`)}, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fixture struct {
	kv        domain.KVStore
	cache     *cache.Store
	transport *fakeTransport
	conn      *connectivity.Monitor
	queue     *Queue
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	return newFixtureWithKV(t, kv, opts)
}

func newFixtureWithKV(t *testing.T, kv domain.KVStore, opts Options) *fixture {
	t.Helper()
	cacheStore := cache.New(kv, zerolog.Nop(), cache.Options{})
	transport := newFakeTransport()
	conn := connectivity.New(func(ctx context.Context) bool { return true }, time.Minute, zerolog.Nop())
	opts.BaseURL = "https://api.test"

	q, err := New(kv, cacheStore, transport, conn, zerolog.Nop(), opts)
	require.NoError(t, err)
	return &fixture{kv: kv, cache: cacheStore, transport: transport, conn: conn, queue: q}
}

func TestEnqueueWhileOfflinePersistsWithoutNetwork(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.SetOnline(false)

	_, err := f.queue.Enqueue(context.Background(), models.QueuedMutation{
		OpKind:     models.OpCreate,
		EntityKind: models.EntityContact,
		Endpoint:   "/contacts",
		Method:     "POST",
		Body:       []byte(`{"name":"Ada"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, f.transport.callCount())
	status := f.queue.Status()
	assert.Equal(t, 1, status.Pending)
	assert.False(t, status.Online)

	// The queue must survive a restart from the same substrate.
	restarted := newFixtureWithKV(t, f.kv, Options{})
	assert.Equal(t, 1, restarted.queue.Status().Pending)
}

func TestEnqueueWhileOnlineDrainsImmediately(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.queue.Enqueue(context.Background(), models.QueuedMutation{
		OpKind:   models.OpCreate,
		Endpoint: "/contacts",
		Method:   "POST",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.transport.callCount())
	assert.Equal(t, 0, f.queue.Status().Pending)
}

func TestDrainOrdersByPriorityThenAge(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.SetOnline(false)
	ctx := context.Background()

	enqueue := func(endpoint, priority string) {
		_, err := f.queue.Enqueue(ctx, models.QueuedMutation{
			OpKind: models.OpUpdate, Endpoint: endpoint, Method: "PUT", Priority: priority,
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	enqueue("/low-old", models.PriorityLow)
	enqueue("/medium", models.PriorityMedium)
	enqueue("/high", models.PriorityHigh)
	enqueue("/low-new", models.PriorityLow)

	f.conn.SetOnline(true)
	require.NoError(t, f.queue.Drain(ctx))

	assert.Equal(t, []string{
		"https://api.test/high",
		"https://api.test/medium",
		"https://api.test/low-old",
		"https://api.test/low-new",
	}, f.transport.callOrder())
	assert.Equal(t, 0, f.queue.Status().Pending)
}

func TestDrainIsNoOpWhileOffline(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.SetOnline(false)

	_, err := f.queue.Enqueue(context.Background(), models.QueuedMutation{Endpoint: "/x", Method: "POST"})
	require.NoError(t, err)

	require.NoError(t, f.queue.Drain(context.Background()))
	assert.Equal(t, 0, f.transport.callCount())
	assert.Equal(t, 1, f.queue.Status().Pending)
}

func TestDrainIsSingleFlight(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.SetOnline(false)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, models.QueuedMutation{Endpoint: "/slow", Method: "POST"})
	require.NoError(t, err)

	f.transport.block = make(chan struct{})
	f.conn.SetOnline(true)

	done := make(chan struct{})
	go func() {
		_ = f.queue.Drain(ctx)
		close(done)
	}()

	// Wait until the first drain is in flight, then a second Drain must
	// return without touching the transport again.
	require.Eventually(t, func() bool { return f.queue.Status().Draining }, time.Second, time.Millisecond)
	require.NoError(t, f.queue.Drain(ctx))

	close(f.transport.block)
	<-done

	assert.Equal(t, 1, f.transport.callCount())
}

func TestFailedMutationRetriesThenDeadLetters(t *testing.T) {
	f := newFixture(t, Options{Retry: RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2}})
	f.conn.SetOnline(false)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.queue.now = func() time.Time { return now }

	f.transport.errs["https://api.test/contacts"] = &domain.TransportError{StatusCode: 500}

	_, err := f.queue.Enqueue(ctx, models.QueuedMutation{
		OpKind: models.OpCreate, EntityKind: models.EntityContact,
		Endpoint: "/contacts", Method: "POST",
	})
	require.NoError(t, err)
	f.conn.SetOnline(true)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.queue.Drain(ctx))
		now = now.Add(time.Minute)
	}

	status := f.queue.Status()
	assert.Equal(t, 0, status.Pending)
	assert.Equal(t, 1, status.DeadLetters)

	letters := f.queue.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, 3, letters[0].Attempt)
	assert.Equal(t, models.EntityContact, letters[0].EntityKind)
	assert.NotEmpty(t, letters[0].Error)
}

func TestRetryGateDelaysOnlyTheFailedMutation(t *testing.T) {
	f := newFixture(t, Options{Retry: RetryPolicy{MaxAttempts: 3, InitialDelay: time.Minute, MaxDelay: time.Hour, BackoffFactor: 2}})
	f.conn.SetOnline(false)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.queue.now = func() time.Time { return now }

	f.transport.errs["https://api.test/failing"] = &domain.TransportError{StatusCode: 500}

	_, err := f.queue.Enqueue(ctx, models.QueuedMutation{Endpoint: "/failing", Method: "POST"})
	require.NoError(t, err)
	f.conn.SetOnline(true)
	require.NoError(t, f.queue.Drain(ctx))
	require.Equal(t, 1, f.queue.Status().Pending)

	// The failed mutation is gated for a minute; a fresh one drains now.
	_, err = f.queue.Enqueue(ctx, models.QueuedMutation{Endpoint: "/healthy", Method: "POST"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.queue.Status().Pending, "gated mutation must not be retried early")
	calls := f.transport.callOrder()
	assert.Equal(t, "https://api.test/healthy", calls[len(calls)-1])
}

func TestConnectivityFailureDoesNotBurnAttempt(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.SetOnline(false)
	ctx := context.Background()

	f.transport.errs["https://api.test/contacts"] = &domain.TransportError{Connectivity: true}

	_, err := f.queue.Enqueue(ctx, models.QueuedMutation{Endpoint: "/contacts", Method: "POST"})
	require.NoError(t, err)

	f.conn.SetOnline(true)
	drainErr := f.queue.Drain(ctx)
	assert.Error(t, drainErr)

	status := f.queue.Status()
	assert.Equal(t, 1, status.Pending)
	assert.False(t, status.Online, "connectivity failure must flip the monitor offline")
	assert.Empty(t, f.queue.DeadLetters())
}

func TestSuccessReconcilesOptimisticCache(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.SetOnline(false)
	ctx := context.Background()

	serverBody := []byte(`{"id":"srv_42","name":"Ada"}`)
	f.transport.responses["https://api.test/contacts"] = &domain.Response{StatusCode: 201, Body: serverBody}

	require.NoError(t, f.cache.Set(ctx, "GET:/contacts/temp_1", []byte(`{"id":"temp_1","isLocalOnly":true}`), domain.CacheSetOptions{}))

	_, err := f.queue.Enqueue(ctx, models.QueuedMutation{
		OpKind: models.OpCreate, Endpoint: "/contacts", Method: "POST",
		CacheKey: "GET:/contacts/temp_1",
	})
	require.NoError(t, err)

	f.conn.SetOnline(true)
	require.NoError(t, f.queue.Drain(ctx))

	got, ok, err := f.cache.Get(ctx, "GET:/contacts/temp_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, serverBody, got, "server payload replaces the optimistic record")
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	f := newFixture(t, Options{QueueCap: 1})
	f.conn.SetOnline(false)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, models.QueuedMutation{Endpoint: "/a", Method: "POST"})
	require.NoError(t, err)

	_, err = f.queue.Enqueue(ctx, models.QueuedMutation{Endpoint: "/b", Method: "POST"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDeadLetterStoreIsBounded(t *testing.T) {
	f := newFixture(t, Options{
		DeadLetterCap: 2,
		Retry:         RetryPolicy{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 2},
	})
	f.conn.SetOnline(false)
	ctx := context.Background()

	for _, endpoint := range []string{"/a", "/b", "/c"} {
		f.transport.errs["https://api.test"+endpoint] = &domain.TransportError{StatusCode: 422}
		_, err := f.queue.Enqueue(ctx, models.QueuedMutation{Endpoint: endpoint, Method: "POST"})
		require.NoError(t, err)
	}

	f.conn.SetOnline(true)
	require.NoError(t, f.queue.Drain(ctx))

	letters := f.queue.DeadLetters()
	require.Len(t, letters, 2)
	assert.Equal(t, "/b", letters[0].Endpoint, "oldest dead letter beyond the cap is dropped")
	assert.Equal(t, "/c", letters[1].Endpoint)
}

func TestStatusSubscribersReceiveSnapshots(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.SetOnline(false)

	var mu sync.Mutex
	var seen []models.QueueStatus
	f.queue.Subscribe("test", func(s models.QueueStatus) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer f.queue.Unsubscribe("test")

	_, err := f.queue.Enqueue(context.Background(), models.QueuedMutation{Endpoint: "/x", Method: "POST"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 1, seen[len(seen)-1].Pending)
}
