package domain

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"syncline/internal/models"
)

// Response is a successful (2xx) upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// TransportError distinguishes "no response received" from "response
// received with a non-2xx status". It is the only error type the transport
// returns.
type TransportError struct {
	Connectivity bool
	StatusCode   int
	Body         []byte
	Err          error
}

func (e *TransportError) Error() string {
	if e.Connectivity {
		return fmt.Sprintf("transport: no response: %v", e.Err)
	}
	return fmt.Sprintf("transport: upstream returned %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport performs a single HTTP exchange against the upstream system.
type Transport interface {
	Do(ctx context.Context, method, url string, params map[string]string, body []byte) (*Response, error)
}

// KVStore is the persisted string-keyed, string-valued substrate every
// higher-level structure serializes into.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	MultiGet(ctx context.Context, keys []string) (map[string]string, error)
	MultiSet(ctx context.Context, pairs map[string]string) error
	MultiRemove(ctx context.Context, keys []string) error
	Close() error
}

// CacheSetOptions control the expiry of one cache write. A zero TTL falls
// back to the priority band's default.
type CacheSetOptions struct {
	TTL      time.Duration
	Priority string
}

// CacheStore is a TTL/priority cache over the KV substrate.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetStale(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, opts CacheSetOptions) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context, prefix string) error
	Cleanup(ctx context.Context) error
	Stats(ctx context.Context) (models.CacheStats, error)
}

// MutationQueue is the durable retrying queue of offline writes.
type MutationQueue interface {
	Enqueue(ctx context.Context, m models.QueuedMutation) (models.QueuedMutation, error)
	Drain(ctx context.Context) error
	Status() models.QueueStatus
	DeadLetters() []models.FailedMutation
	Subscribe(id string, fn func(models.QueueStatus))
	Unsubscribe(id string)
}

// ConnectivityMonitor tracks whether the upstream system is reachable and
// fans out online/offline edges to subscribers.
type ConnectivityMonitor interface {
	IsOnline() bool
	SetOnline(online bool)
	Refresh(ctx context.Context) bool
	Subscribe(id string, fn func(online bool))
	Unsubscribe(id string)
}

// EntitySyncer is the opaque per-entity routine a full sync delegates to.
// Implementations own their own paged fetch against the upstream system.
type EntitySyncer interface {
	EntityKind() string
	Sync(ctx context.Context, tenantID string, opts models.SyncOptions) (models.SyncCounts, error)
}
