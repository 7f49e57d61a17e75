package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/rollcall/internal/attendance"
	"github.com/nerrad567/rollcall/internal/reader"
)

// SystemMetrics is the JSON snapshot served on /api/v1/metrics. The
// Prometheus exposition lives on /metrics.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Scans         ScanMetrics    `json:"scans"`
	Reader        *reader.Stats  `json:"reader,omitempty"`
	Directory     *DirMetrics    `json:"directory,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// ScanMetrics summarises the dispatcher.
type ScanMetrics struct {
	Handled uint64          `json:"handled"`
	Mode    attendance.Mode `json:"mode"`
	// RateLimitedClients is the number of addresses with a live limiter.
	RateLimitedClients int `json:"rate_limited_clients"`
}

// DirMetrics describes the local directory snapshot.
type DirMetrics struct {
	CachedPeople int `json:"cached_people"`
}

// handleSystemMetrics returns a JSON snapshot of runtime and pipeline state.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Scans: ScanMetrics{
			Handled: s.scans.Handled(),
			Mode:    s.scans.Mode(),
		},
	}

	if s.limiter != nil {
		metrics.Scans.RateLimitedClients = s.limiter.Len()
	}
	if s.reader != nil {
		stats := s.reader.Stats()
		metrics.Reader = &stats
	}
	if s.cache != nil {
		metrics.Directory = &DirMetrics{CachedPeople: s.cache.Size()}
	}

	writeJSON(w, http.StatusOK, metrics)
}
