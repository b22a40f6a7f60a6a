package models

import (
	"encoding/json"
	"time"
)

// QueuedMutation is a write that could not reach the upstream system and
// awaits execution by the sync queue.
type QueuedMutation struct {
	ID          string            `json:"id"`
	OpKind      string            `json:"op_kind"`
	EntityKind  string            `json:"entity_kind"`
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method"`
	Body        json.RawMessage   `json:"body,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
	Attempt     int               `json:"attempt"`
	Priority    string            `json:"priority"`
	TenantID    string            `json:"tenant_id,omitempty"`
	ActorID     string            `json:"actor_id,omitempty"`

	// CacheKey names the cache entry holding the optimistic placeholder;
	// the authoritative server payload overwrites it after a successful drain.
	CacheKey string `json:"cache_key,omitempty"`

	// NextAttemptAt gates retry eligibility. Zero means eligible now.
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
}

// Eligible reports whether the mutation may be executed at the given instant.
func (m *QueuedMutation) Eligible(now time.Time) bool {
	return m.NextAttemptAt.IsZero() || !m.NextAttemptAt.After(now)
}

// FailedMutation is a mutation that exhausted its retry attempts.
type FailedMutation struct {
	QueuedMutation
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// QueueStatus is the observable state of the sync queue.
type QueueStatus struct {
	Online      bool      `json:"online"`
	Draining    bool      `json:"draining"`
	Pending     int       `json:"pending"`
	DeadLetters int       `json:"dead_letters"`
	LastDrainAt time.Time `json:"last_drain_at,omitempty"`
}
