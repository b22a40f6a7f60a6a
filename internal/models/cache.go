package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is a single cached payload with its expiry metadata.
type CacheEntry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
	Priority  string          `json:"priority"`
	SizeBytes int64           `json:"size_bytes"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// NamespaceStats aggregates cache usage for one key namespace.
type NamespaceStats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
}

// CacheStats is a diagnostic snapshot of the cache store.
type CacheStats struct {
	Entries    int                       `json:"entries"`
	TotalBytes int64                     `json:"total_bytes"`
	Namespaces map[string]NamespaceStats `json:"namespaces"`
}
