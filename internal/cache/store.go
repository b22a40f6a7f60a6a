package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"syncline/internal/domain"
	"syncline/internal/metrics"
	"syncline/internal/models"

	"github.com/rs/zerolog"
)

// storagePrefix namespaces cache entries inside the shared KV substrate.
const storagePrefix = "cache:"

const (
	// cleanupThreshold triggers a cleanup pass before a write once usage is
	// within 10% of the capacity ceiling.
	cleanupThreshold = 0.9

	// evictionTarget is the usage level phase-2 eviction drives down to.
	evictionTarget = 0.8
)

// Options configure a cache store. Zero fields fall back to defaults.
type Options struct {
	CapacityBytes int64
	HighTTL       time.Duration
	MediumTTL     time.Duration
	LowTTL        time.Duration
}

// Store is a TTL/priority cache persisted in the KV substrate. The capacity
// ceiling is a soft bound checked opportunistically, not on every write.
type Store struct {
	kv     domain.KVStore
	logger zerolog.Logger

	capacity int64
	ttls     map[string]time.Duration

	mu         sync.Mutex
	totalBytes int64
	sized      bool

	now func() time.Time
}

func New(kv domain.KVStore, logger zerolog.Logger, opts Options) *Store {
	if opts.CapacityBytes <= 0 {
		opts.CapacityBytes = models.DefaultCacheCapacityBytes
	}
	if opts.HighTTL <= 0 {
		opts.HighTTL = models.DefaultTTLHigh
	}
	if opts.MediumTTL <= 0 {
		opts.MediumTTL = models.DefaultTTLMedium
	}
	if opts.LowTTL <= 0 {
		opts.LowTTL = models.DefaultTTLLow
	}

	return &Store{
		kv:       kv,
		logger:   logger.With().Str("component", "cache").Logger(),
		capacity: opts.CapacityBytes,
		ttls: map[string]time.Duration{
			models.PriorityHigh:   opts.HighTTL,
			models.PriorityMedium: opts.MediumTTL,
			models.PriorityLow:    opts.LowTTL,
		},
		now: time.Now,
	}
}

// Key builds the canonical cache key for a request: method, endpoint and
// params sorted so equivalent requests always collide.
func Key(method, endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return method + ":" + endpoint
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(':')
	b.WriteString(endpoint)
	b.WriteByte('?')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[name]))
	}
	return b.String()
}

// Get returns the payload if present and unexpired. An expired entry is
// lazily deleted and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		metrics.IncCacheMiss()
		return nil, false, err
	}
	if entry.Expired(s.now()) {
		if err := s.Remove(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("lazy eviction failed")
		}
		metrics.IncCacheMiss()
		return nil, false, nil
	}
	metrics.IncCacheHit()
	return entry.Payload, true, nil
}

// GetStale returns the payload regardless of expiry. It is the explicit
// escape hatch for degraded reads while offline.
func (s *Store) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Payload, true, nil
}

// Set writes a payload under key. TTL defaults by priority band unless an
// explicit TTL is supplied. A cleanup pass runs first when total usage is
// within 10% of the capacity ceiling.
func (s *Store) Set(ctx context.Context, key string, payload []byte, opts domain.CacheSetOptions) error {
	priority := opts.Priority
	if _, ok := s.ttls[priority]; !ok {
		priority = models.PriorityMedium
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.ttls[priority]
	}

	entry := models.CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: s.now(),
		TTL:       ttl,
		Priority:  priority,
		SizeBytes: int64(len(payload)),
	}

	if err := s.ensureUsage(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	nearCeiling := float64(s.totalBytes+entry.SizeBytes) >= cleanupThreshold*float64(s.capacity)
	s.mu.Unlock()
	if nearCeiling {
		if err := s.Cleanup(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("pre-write cleanup failed")
		}
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	// Replacing an entry must not double-count its size.
	if old, ok, _ := s.load(ctx, key); ok {
		s.addUsage(-old.SizeBytes)
	}
	if err := s.kv.Set(ctx, storagePrefix+key, string(raw)); err != nil {
		return fmt.Errorf("persist cache entry: %w", err)
	}
	s.addUsage(entry.SizeBytes)
	return nil
}

// Remove deletes a single entry.
func (s *Store) Remove(ctx context.Context, key string) error {
	if entry, ok, _ := s.load(ctx, key); ok {
		s.addUsage(-entry.SizeBytes)
	}
	if err := s.kv.Remove(ctx, storagePrefix+key); err != nil {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// Clear deletes every entry sharing the prefix, or everything when the
// prefix is empty.
func (s *Store) Clear(ctx context.Context, prefix string) error {
	keys, err := s.kv.ListKeys(ctx, storagePrefix+prefix)
	if err != nil {
		return fmt.Errorf("list cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.kv.MultiRemove(ctx, keys); err != nil {
		return fmt.Errorf("clear cache prefix %q: %w", prefix, err)
	}
	s.invalidateUsage()
	return nil
}

// Cleanup removes expired entries, then if usage still exceeds the ceiling
// evicts unexpired entries lowest-priority-first (oldest first within a
// band) until usage falls to 80% of the ceiling.
func (s *Store) Cleanup(ctx context.Context) error {
	entries, err := s.loadAll(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	var expired []string
	var live []models.CacheEntry
	for _, e := range entries {
		if e.Expired(now) {
			expired = append(expired, storagePrefix+e.Key)
		} else {
			live = append(live, e)
		}
	}
	if len(expired) > 0 {
		if err := s.kv.MultiRemove(ctx, expired); err != nil {
			return fmt.Errorf("evict expired entries: %w", err)
		}
		metrics.AddCacheEvictions(len(expired))
	}

	var total int64
	for _, e := range live {
		total += e.SizeBytes
	}

	if total > s.capacity {
		sort.Slice(live, func(i, j int) bool {
			ri, rj := models.PriorityRank(live[i].Priority), models.PriorityRank(live[j].Priority)
			if ri != rj {
				return ri < rj
			}
			return live[i].CreatedAt.Before(live[j].CreatedAt)
		})

		target := int64(evictionTarget * float64(s.capacity))
		var victims []string
		for _, e := range live {
			if total <= target {
				break
			}
			victims = append(victims, storagePrefix+e.Key)
			total -= e.SizeBytes
		}
		if len(victims) > 0 {
			if err := s.kv.MultiRemove(ctx, victims); err != nil {
				return fmt.Errorf("evict over-capacity entries: %w", err)
			}
			metrics.AddCacheEvictions(len(victims))
			s.logger.Info().Int("evicted", len(victims)).Int64("bytes", total).Msg("capacity eviction")
		}
	}

	s.setUsage(total)
	return nil
}

// Stats returns a diagnostic usage snapshot. Not on the hot path.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	entries, err := s.loadAll(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}

	stats := models.CacheStats{Namespaces: make(map[string]models.NamespaceStats)}
	for _, e := range entries {
		stats.Entries++
		stats.TotalBytes += e.SizeBytes

		ns := namespaceOf(e.Key)
		agg := stats.Namespaces[ns]
		agg.Entries++
		agg.TotalBytes += e.SizeBytes
		stats.Namespaces[ns] = agg
	}
	return stats, nil
}

// namespaceOf extracts the leading segment of a cache key, e.g.
// "GET:/contacts?page=1" -> "GET:/contacts".
func namespaceOf(key string) string {
	if i := strings.IndexByte(key, '?'); i >= 0 {
		return key[:i]
	}
	return key
}

func (s *Store) load(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	raw, ok, err := s.kv.Get(ctx, storagePrefix+key)
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("load cache entry: %w", err)
	}
	if !ok {
		return models.CacheEntry{}, false, nil
	}
	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// A corrupt entry is dropped rather than served.
		_ = s.kv.Remove(ctx, storagePrefix+key)
		return models.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (s *Store) loadAll(ctx context.Context) ([]models.CacheEntry, error) {
	keys, err := s.kv.ListKeys(ctx, storagePrefix)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	values, err := s.kv.MultiGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load cache entries: %w", err)
	}

	entries := make([]models.CacheEntry, 0, len(values))
	for _, raw := range values {
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ensureUsage lazily seeds the in-memory usage counter from storage.
func (s *Store) ensureUsage(ctx context.Context) error {
	s.mu.Lock()
	sized := s.sized
	s.mu.Unlock()
	if sized {
		return nil
	}

	entries, err := s.loadAll(ctx)
	if err != nil {
		return err
	}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	s.setUsage(total)
	return nil
}

func (s *Store) addUsage(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sized {
		return
	}
	s.totalBytes += delta
	if s.totalBytes < 0 {
		s.totalBytes = 0
	}
}

func (s *Store) setUsage(total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalBytes = total
	s.sized = true
}

func (s *Store) invalidateUsage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sized = false
	s.totalBytes = 0
}
