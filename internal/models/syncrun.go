package models

import "time"

// Overall statuses of a full sync run.
const (
	SyncIdle     = "idle"
	SyncRunning  = "running"
	SyncComplete = "complete"
	SyncFailed   = "failed"
)

// Per-entity statuses within a run.
const (
	EntityPending  = "pending"
	EntitySyncing  = "syncing"
	EntityComplete = "complete"
	EntityFailed   = "failed"
)

// SyncOptions parameterize a per-entity sync routine.
type SyncOptions struct {
	FullSync bool      `json:"full_sync,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Until    time.Time `json:"until,omitempty"`
}

// SyncCounts are the record-level outcomes reported by an entity syncer.
type SyncCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// SyncRunResult is the outcome of one entity kind within one full sync.
type SyncRunResult struct {
	EntityKind string        `json:"entity_kind"`
	Success    bool          `json:"success"`
	Counts     SyncCounts    `json:"counts"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

// OverallProgress summarizes a full sync run.
type OverallProgress struct {
	Status        string    `json:"status"`
	Percent       float64   `json:"percent"`
	CurrentEntity string    `json:"current_entity,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
}

// EntityProgress is the state of one entity kind within a run.
type EntityProgress struct {
	Status  string  `json:"status"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// FullSyncProgress is the full observable state of a sync run. Subscribers
// always receive a deep copy; the orchestrator owns the original.
type FullSyncProgress struct {
	Overall  OverallProgress           `json:"overall"`
	Entities map[string]EntityProgress `json:"entities"`
	Results  []SyncRunResult           `json:"results"`
}

// Clone returns a deep copy safe to hand to subscribers.
func (p FullSyncProgress) Clone() FullSyncProgress {
	out := FullSyncProgress{Overall: p.Overall}
	if p.Entities != nil {
		out.Entities = make(map[string]EntityProgress, len(p.Entities))
		for k, v := range p.Entities {
			out.Entities[k] = v
		}
	}
	if p.Results != nil {
		out.Results = make([]SyncRunResult, len(p.Results))
		copy(out.Results, p.Results)
	}
	return out
}

// SyncRun is one archived full-sync run in the bounded history.
type SyncRun struct {
	TenantID    string          `json:"tenant_id"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration"`
	Results     []SyncRunResult `json:"results"`
}
