package directory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultProbeTimeout = 3 * time.Second

// StaticConnectivity is a fixed online/offline signal.
type StaticConnectivity bool

// IsOnline implements Connectivity.
func (s StaticConnectivity) IsOnline() bool { return bool(s) }

// Prober is anything with an active health check.
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// ProbeMonitor tracks remote reachability by probing on an interval.
//
// It starts offline until the first probe succeeds, so a node that boots
// without network never waits on the remote.
//
// Thread Safety:
//   - IsOnline is lock-free and safe for concurrent use.
type ProbeMonitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	online   atomic.Bool
	logger   Logger

	onChange func(online bool)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewProbeMonitor creates a monitor for prober. It does nothing until Start.
func NewProbeMonitor(prober Prober, interval time.Duration) *ProbeMonitor {
	return &ProbeMonitor{
		prober:   prober,
		interval: interval,
		timeout:  defaultProbeTimeout,
		logger:   noopLogger{},
		done:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the monitor.
func (m *ProbeMonitor) SetLogger(logger Logger) {
	m.logger = logger
}

// OnChange registers a callback fired when reachability flips. Set before Start.
func (m *ProbeMonitor) OnChange(fn func(online bool)) {
	m.onChange = fn
}

// IsOnline implements Connectivity.
func (m *ProbeMonitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline overrides the current state until the next probe.
func (m *ProbeMonitor) SetOnline(online bool) {
	m.set(online)
}

// Probe runs one health check and records the result.
func (m *ProbeMonitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.HealthCheck(ctx)
	if err != nil {
		m.logger.Debug("directory probe failed", "error", err)
	}
	m.set(err == nil)
	return err == nil
}

// Start launches the probe loop and returns immediately. The loop probes
// once straight away and then on every interval until ctx is cancelled or
// Close is called. Start after Close does nothing.
func (m *ProbeMonitor) Start(ctx context.Context) {
	select {
	case <-m.done:
		return
	default:
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Probe(ctx)
		if m.interval <= 0 {
			return
		}

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

// Close stops the probe loop and waits for it to exit.
func (m *ProbeMonitor) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *ProbeMonitor) set(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	m.logger.Info("directory reachability changed", "online", online)
	if m.onChange != nil {
		m.onChange(online)
	}
}
