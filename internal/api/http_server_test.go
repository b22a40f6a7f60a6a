package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"syncline/internal/cache"
	"syncline/internal/config"
	"syncline/internal/connectivity"
	"syncline/internal/domain"
	"syncline/internal/fullsync"
	"syncline/internal/kvstore"
	"syncline/internal/models"
	"syncline/internal/queue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type okTransport struct{}

func (okTransport) Do(ctx context.Context, method, url string, params map[string]string, body []byte) (*domain.Response, error) {
	return &domain.Response{StatusCode: 200, Body: []byte(`[]`)}, nil
}

type noopSyncer struct{ kind string }

func (s noopSyncer) EntityKind() string { return s.kind }
func (s noopSyncer) Sync(ctx context.Context, tenantID string, opts models.SyncOptions) (models.SyncCounts, error) {
	return models.SyncCounts{Updated: 1}, nil
}

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	cacheStore := cache.New(kv, zerolog.Nop(), cache.Options{})
	conn := connectivity.New(func(ctx context.Context) bool { return true }, time.Minute, zerolog.Nop())

	q, err := queue.New(kv, cacheStore, okTransport{}, conn, zerolog.Nop(), queue.Options{})
	require.NoError(t, err)

	syncer := fullsync.New(kv, zerolog.Nop(), fullsync.Options{})
	syncer.Register(noopSyncer{kind: models.EntityContact})

	cfg := config.APIConfig{Enabled: true, Port: 0}
	return NewHTTPServer(cfg, "t1", q, cacheStore, conn, syncer, zerolog.Nop())
}

func doRequest(t *testing.T, srv *HTTPServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["online"])
}

func TestQueueStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/queue/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.QueueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Online)
	assert.Equal(t, 0, status.Pending)
}

func TestQueueStatusRejectsPost(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/queue/status")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDeadLettersEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/queue/deadletters")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"dead_letters":[]}`, rec.Body.String())
}

func TestQueueDrainEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/queue/drain")
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.QueueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 0, status.Pending)
}

func TestSyncProgressEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/sync/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var progress models.FullSyncProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	assert.Equal(t, models.SyncIdle, progress.Overall.Status)
}

func TestSyncHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/sync/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestSyncRunEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync/run")
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The run is asynchronous; wait for it to land in history.
	require.Eventually(t, func() bool {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/sync/history")
		var body struct {
			Runs []models.SyncRun `json:"runs"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			return false
		}
		return len(body.Runs) == 1 && body.Runs[0].Status == models.SyncComplete
	}, time.Second, 5*time.Millisecond)
}

func TestCacheStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.CacheStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Entries)
}

func TestRateLimit(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	cacheStore := cache.New(kv, zerolog.Nop(), cache.Options{})
	conn := connectivity.New(func(ctx context.Context) bool { return true }, time.Minute, zerolog.Nop())
	q, err := queue.New(kv, cacheStore, okTransport{}, conn, zerolog.Nop(), queue.Options{})
	require.NoError(t, err)
	syncer := fullsync.New(kv, zerolog.Nop(), fullsync.Options{})

	cfg := config.APIConfig{Enabled: true, RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 2}}
	srv := NewHTTPServer(cfg, "t1", q, cacheStore, conn, syncer, zerolog.Nop())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := doRequest(t, srv, http.MethodGet, "/healthz")
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
