package scanner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnectivityReason says why a connectivity event was emitted.
type ConnectivityReason string

const (
	// ReasonTransition marks a change between online and offline.
	ReasonTransition ConnectivityReason = "transition"
	// ReasonTick is the periodic sync trigger while online.
	ReasonTick ConnectivityReason = "tick"
	// ReasonNudge asks for a sync right away, e.g. after a scan was queued.
	ReasonNudge ConnectivityReason = "nudge"
)

// ConnectivityEvent is the single message type driving synchronisation.
type ConnectivityEvent struct {
	Online bool
	Reason ConnectivityReason
	At     time.Time
}

// MonitorConfig tunes the probe loop.
type MonitorConfig struct {
	ProbeInterval time.Duration
	SyncInterval  time.Duration
	ProbeTimeout  time.Duration
}

// ConnectivityMonitor probes the server and publishes connectivity events.
type ConnectivityMonitor struct {
	prober Prober
	cfg    MonitorConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	known    bool
	online   bool
	lastTick time.Time
	subs     []chan ConnectivityEvent
	closed   bool
}

// NewConnectivityMonitor builds a monitor. The state is unknown until the first probe.
func NewConnectivityMonitor(prober Prober, cfg MonitorConfig, logger *zap.Logger) *ConnectivityMonitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 || cfg.ProbeTimeout > cfg.ProbeInterval {
		cfg.ProbeTimeout = cfg.ProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectivityMonitor{prober: prober, cfg: cfg, logger: logger, now: time.Now}
}

// Subscribe returns a channel of events. When the subscriber falls behind,
// older undelivered events are replaced by newer ones.
func (m *ConnectivityMonitor) Subscribe(buffer int) <-chan ConnectivityEvent {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan ConnectivityEvent, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch
	}
	m.subs = append(m.subs, ch)
	return ch
}

// Online reports the last observed state.
func (m *ConnectivityMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.online
}

// Poll probes once and publishes whatever event the result implies.
func (m *ConnectivityMonitor) Poll(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.prober.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.Debug("server probe failed", zap.Error(err))
	}
	m.Notify(err == nil)
}

// Notify feeds an externally observed state into the monitor.
func (m *ConnectivityMonitor) Notify(online bool) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case !m.known || m.online != online:
		m.known = true
		m.online = online
		m.lastTick = now
		m.logger.Info("connectivity changed", zap.Bool("online", online))
		m.publishLocked(ConnectivityEvent{Online: online, Reason: ReasonTransition, At: now})
	case online && now.Sub(m.lastTick) >= m.cfg.SyncInterval:
		m.lastTick = now
		m.publishLocked(ConnectivityEvent{Online: true, Reason: ReasonTick, At: now})
	}
}

// Nudge asks subscribers to sync now if the server is reachable.
func (m *ConnectivityMonitor) Nudge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known || !m.online {
		return
	}
	m.publishLocked(ConnectivityEvent{Online: true, Reason: ReasonNudge, At: m.now()})
}

// Run probes on ProbeInterval until ctx is done, then closes all subscriptions.
func (m *ConnectivityMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	defer m.close()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

func (m *ConnectivityMonitor) publishLocked(event ConnectivityEvent) {
	if m.closed {
		return
	}
	for _, ch := range m.subs {
		select {
		case ch <- event:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}

func (m *ConnectivityMonitor) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}
