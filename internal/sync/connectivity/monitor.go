// Package connectivity turns periodic reachability probes into the
// edge-triggered online/offline signal the sync coordinator consumes.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how often the probe runs when none is configured.
const DefaultInterval = 30 * time.Second

// probeTimeout bounds a single reachability check.
const probeTimeout = 10 * time.Second

// Monitor tracks whether the remote backend is reachable. State changes
// are delivered to subscribers exactly once per edge, never per probe.
type Monitor struct {
	probe    func(ctx context.Context) error
	interval time.Duration
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex

	online      bool
	isRunning   bool
	subscribers []func(online bool)
}

// NewMonitor creates a Monitor around a reachability probe. The monitor
// starts optimistically online; the first probe corrects it if needed.
func NewMonitor(probe func(ctx context.Context) error, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger.Named("connectivity"),
		online:   true,
	}
}

// IsOnline returns the current connectivity flag.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers a callback fired on every online/offline edge.
// Callbacks run on the monitor goroutine and should return quickly.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// SetOnline feeds an externally observed state, for platforms that deliver
// their own connectivity events. Probing continues either way.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	subscribers := make([]func(bool), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	if was == online {
		return
	}

	m.logger.Info("connectivity changed", zap.Bool("online", online))
	for _, fn := range subscribers {
		fn(online)
	}
}

// Start begins probing. Calling it while already running is a no-op.
// The first probe runs immediately rather than an interval later.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(stopCh)

	m.logger.Info("connectivity monitor started", zap.Duration("interval", m.interval))
}

// Stop halts probing and waits for the loop to exit. Safe to call twice.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()
	m.logger.Info("connectivity monitor stopped")
}

func (m *Monitor) probeLoop(stopCh chan struct{}) {
	defer m.wg.Done()

	m.runProbe()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.runProbe()
		}
	}
}

func (m *Monitor) runProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	err := m.probe(ctx)
	if err != nil {
		m.logger.Debug("reachability probe failed", zap.Error(err))
	}
	m.SetOnline(err == nil)
}
