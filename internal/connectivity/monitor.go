package connectivity

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"syncline/internal/events"

	"github.com/rs/zerolog"
)

// ProbeFunc performs a one-shot reachability check against the upstream.
type ProbeFunc func(ctx context.Context) bool

// Monitor tracks upstream reachability and fans out online/offline edges to
// subscribers. State starts online: the engine assumes connectivity until a
// probe or a transport failure says otherwise.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   zerolog.Logger

	online    atomic.Bool
	listeners *events.Registry[bool]
}

func New(probe ProbeFunc, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m := &Monitor{
		probe:     probe,
		interval:  interval,
		logger:    logger.With().Str("component", "connectivity").Logger(),
		listeners: events.NewRegistry[bool](),
	}
	m.online.Store(true)
	return m
}

// HTTPProbe builds a probe that issues a HEAD request against a health URL.
// Any response at all counts as reachable; only a transport-level failure
// means offline.
func HTTPProbe(client *http.Client, url string) ProbeFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// IsOnline returns the last known connectivity state.
func (m *Monitor) IsOnline() bool { return m.online.Load() }

// SetOnline records a state observed elsewhere (e.g. a transport failure)
// and fans out the edge if the state changed.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	m.logger.Info().Bool("online", online).Msg("connectivity changed")
	m.listeners.Publish(online)
}

// Refresh runs the probe once and returns the resulting state.
func (m *Monitor) Refresh(ctx context.Context) bool {
	if m.probe == nil {
		return m.IsOnline()
	}
	online := m.probe(ctx)
	m.SetOnline(online)
	return online
}

// Subscribe registers an edge listener under id.
func (m *Monitor) Subscribe(id string, fn func(online bool)) {
	m.listeners.Subscribe(id, fn)
}

// Unsubscribe removes the listener registered under id.
func (m *Monitor) Unsubscribe(id string) {
	m.listeners.Unsubscribe(id)
}

// Start probes on a ticker until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}
