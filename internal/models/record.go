package models

import (
	"encoding/json"
	"fmt"
)

// Record is the result of a write: either the authoritative payload returned
// by the upstream system, or a locally synthesized stand-in queued for later
// delivery. Exactly one variant is set; callers branch explicitly instead of
// probing marker fields.
type Record struct {
	Remote *RemoteRecord `json:"remote,omitempty"`
	Local  *LocalRecord  `json:"local,omitempty"`
}

// IsLocal reports whether the record is a pending optimistic stand-in.
func (r Record) IsLocal() bool { return r.Local != nil }

// Payload returns the JSON body of whichever variant is set.
func (r Record) Payload() json.RawMessage {
	if r.Local != nil {
		return r.Local.Body
	}
	if r.Remote != nil {
		return r.Remote.Body
	}
	return nil
}

// RemoteRecord wraps a server-confirmed payload.
type RemoteRecord struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// LocalRecord wraps an optimistic payload awaiting sync. Body already carries
// the temp id and the is_local_only/pending_sync markers so it can be cached
// and rendered in place of the real record.
type LocalRecord struct {
	TempID     string          `json:"temp_id"`
	MutationID string          `json:"mutation_id"`
	Body       json.RawMessage `json:"body"`
}

// OptimisticPayload merges a client-generated temp id and the local-only
// markers into a write body, producing the payload cached until the queued
// mutation is confirmed upstream.
func OptimisticPayload(body json.RawMessage, tempID string) (json.RawMessage, error) {
	fields := make(map[string]any)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("decode write body: %w", err)
		}
	}
	fields["id"] = tempID
	fields["isLocalOnly"] = true
	fields["pendingSync"] = true

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode optimistic payload: %w", err)
	}
	return out, nil
}

// ExtractID pulls the record id out of a server payload. Upstream ids may be
// strings or numbers; both are normalized to a string.
func ExtractID(body json.RawMessage) string {
	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	switch v := probe.ID.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
