// Package metrics exposes rollcall's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/rollcall/internal/directory"
)

// Recorder is what the scan pipeline reports to. Tests and disabled
// setups can pass Nop.
type Recorder interface {
	RecordScan(outcome, source string, duration time.Duration)
	RecordReaderState(state string)
	SetDirectorySize(n int)
	SetRemoteOnline(online bool)
}

// Collector implements Recorder on Prometheus metrics.
type Collector struct {
	scans          *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	readerState    *prometheus.GaugeVec
	readerChanges  *prometheus.CounterVec
	reg            prometheus.Registerer
	directorySize  prometheus.Gauge
	remoteOnline   prometheus.Gauge
	readerStateSet []string
}

// NewCollector creates a Collector and registers its metrics with reg.
//
// Parameters:
//   - reg: registry to register with
//   - outcomes: outcome kinds to pre-create so they report 0
//   - readerStates: every reader state name
func NewCollector(reg prometheus.Registerer, outcomes, readerStates []string) *Collector {
	c := &Collector{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_scans_total",
			Help: "Scans handled, by outcome and source.",
		}, []string{"outcome", "source"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_scan_duration_seconds",
			Help:    "Time from frame to outcome.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		readerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rollcall_reader_state",
			Help: "1 for the reader's current state, 0 otherwise.",
		}, []string{"state"}),
		readerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_reader_state_changes_total",
			Help: "Reader state transitions, by new state.",
		}, []string{"state"}),
		directorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rollcall_directory_cache_people",
			Help: "People in the local directory snapshot.",
		}),
		remoteOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rollcall_directory_remote_online",
			Help: "1 when the remote directory is reachable.",
		}),
		readerStateSet: readerStates,
		reg:            reg,
	}

	reg.MustRegister(
		c.scans,
		c.scanDuration,
		c.readerState,
		c.readerChanges,
		c.directorySize,
		c.remoteOnline,
	)

	for _, o := range outcomes {
		for _, s := range []string{"device", "manual"} {
			c.scans.WithLabelValues(o, s)
		}
	}
	for _, s := range readerStates {
		c.readerState.WithLabelValues(s).Set(0)
	}

	return c
}

// RecordScan counts one scan and observes its duration.
func (c *Collector) RecordScan(outcome, source string, duration time.Duration) {
	c.scans.WithLabelValues(outcome, source).Inc()
	c.scanDuration.Observe(duration.Seconds())
}

// RecordReaderState sets the state gauge to state and counts the change.
func (c *Collector) RecordReaderState(state string) {
	for _, s := range c.readerStateSet {
		c.readerState.WithLabelValues(s).Set(0)
	}
	c.readerState.WithLabelValues(state).Set(1)
	c.readerChanges.WithLabelValues(state).Inc()
}

// WatchResolver exports the resolver's own counters. stats is read at
// scrape time.
func (c *Collector) WatchResolver(stats func() directory.ResolverStats) {
	series := []struct {
		outcome string
		get     func(directory.ResolverStats) uint64
	}{
		{"local_hit", func(s directory.ResolverStats) uint64 { return s.LocalHits }},
		{"remote_hit", func(s directory.ResolverStats) uint64 { return s.RemoteHits }},
		{"remote_skipped", func(s directory.ResolverStats) uint64 { return s.RemoteSkipped }},
		{"remote_failure", func(s directory.ResolverStats) uint64 { return s.RemoteFailures }},
		{"miss", func(s directory.ResolverStats) uint64 { return s.Misses }},
	}
	for _, sr := range series {
		c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "rollcall_resolutions_total",
			Help:        "Identity resolutions, by outcome.",
			ConstLabels: prometheus.Labels{"outcome": sr.outcome},
		}, func() float64 { return float64(sr.get(stats())) }))
	}
}

// SetDirectorySize records the local snapshot size.
func (c *Collector) SetDirectorySize(n int) {
	c.directorySize.Set(float64(n))
}

// SetRemoteOnline records remote directory reachability.
func (c *Collector) SetRemoteOnline(online bool) {
	v := 0.0
	if online {
		v = 1
	}
	c.remoteOnline.Set(v)
}

// Handler serves gatherer in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordScan(string, string, time.Duration) {}
func (Nop) RecordReaderState(string)                 {}
func (Nop) SetDirectorySize(int)                     {}
func (Nop) SetRemoteOnline(bool)                     {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
