package kvstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"syncline/internal/domain"

	"github.com/rs/zerolog"
)

// recoveryInterval is how long the failover waits before probing the
// primary again after marking it down.
const recoveryInterval = time.Minute

// FailoverStore wraps a durable primary substrate with an in-memory
// fallback. After a primary failure all traffic goes to the fallback until a
// recovery probe succeeds.
type FailoverStore struct {
	primary  domain.KVStore
	fallback domain.KVStore
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverStore(primary, fallback domain.KVStore, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *FailoverStore) markDown(err error) {
	s.logger.Error().Err(err).Msg("Primary KV store failed, falling back to memory")
	s.isDown.Store(true)
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()
}

// shouldProbe reports whether enough time passed to retry the primary.
func (s *FailoverStore) shouldProbe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastCheck) <= recoveryInterval {
		return false
	}
	s.lastCheck = time.Now()
	return true
}

func (s *FailoverStore) recover() {
	s.isDown.Store(false)
	s.logger.Info().Msg("Primary KV store recovered")
}

func (s *FailoverStore) Get(ctx context.Context, key string) (string, bool, error) {
	if !s.isDown.Load() {
		v, ok, err := s.primary.Get(ctx, key)
		if err == nil {
			return v, ok, nil
		}
		s.markDown(err)
	} else if s.shouldProbe() {
		v, ok, err := s.primary.Get(ctx, key)
		if err == nil {
			s.recover()
			return v, ok, nil
		}
	}
	return s.fallback.Get(ctx, key)
}

func (s *FailoverStore) Set(ctx context.Context, key, value string) error {
	if !s.isDown.Load() {
		err := s.primary.Set(ctx, key, value)
		if err == nil {
			return nil
		}
		s.markDown(err)
	}
	return s.fallback.Set(ctx, key, value)
}

func (s *FailoverStore) Remove(ctx context.Context, key string) error {
	if !s.isDown.Load() {
		err := s.primary.Remove(ctx, key)
		if err == nil {
			return nil
		}
		s.markDown(err)
	}
	return s.fallback.Remove(ctx, key)
}

func (s *FailoverStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if !s.isDown.Load() {
		keys, err := s.primary.ListKeys(ctx, prefix)
		if err == nil {
			return keys, nil
		}
		s.markDown(err)
	}
	return s.fallback.ListKeys(ctx, prefix)
}

func (s *FailoverStore) MultiGet(ctx context.Context, keys []string) (map[string]string, error) {
	if !s.isDown.Load() {
		out, err := s.primary.MultiGet(ctx, keys)
		if err == nil {
			return out, nil
		}
		s.markDown(err)
	}
	return s.fallback.MultiGet(ctx, keys)
}

func (s *FailoverStore) MultiSet(ctx context.Context, pairs map[string]string) error {
	if !s.isDown.Load() {
		err := s.primary.MultiSet(ctx, pairs)
		if err == nil {
			return nil
		}
		s.markDown(err)
	}
	return s.fallback.MultiSet(ctx, pairs)
}

func (s *FailoverStore) MultiRemove(ctx context.Context, keys []string) error {
	if !s.isDown.Load() {
		err := s.primary.MultiRemove(ctx, keys)
		if err == nil {
			return nil
		}
		s.markDown(err)
	}
	return s.fallback.MultiRemove(ctx, keys)
}

func (s *FailoverStore) Close() error {
	if err := s.primary.Close(); err != nil {
		return err
	}
	return s.fallback.Close()
}
