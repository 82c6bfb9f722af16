package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"airmap/pkg/tracker"
)

// RecorderStats reports snapshot recorder throughput. *store.SnapshotRecorder satisfies it.
type RecorderStats interface {
	Saved() int64
	Dropped() int64
}

type StatsHandler struct {
	tracker  *tracker.Tracker
	recorder RecorderStats
	started  time.Time

	mu     sync.Mutex
	maxMem uint64
}

// NewStatsHandler creates the stats handler. recorder may be nil.
func NewStatsHandler(t *tracker.Tracker, recorder RecorderStats) *StatsHandler {
	if t == nil {
		t = tracker.New()
	}
	return &StatsHandler{
		tracker:  t,
		recorder: recorder,
		started:  time.Now(),
	}
}

type ProviderStatsDTO struct {
	tracker.ProviderStats
	HitRate int64 `json:"hit_rate"`
}

type DiagnosticsStats struct {
	UptimeSec   int64  `json:"uptime_sec"`
	MemoryMB    uint64 `json:"memory_mb"`
	MemoryMaxMB uint64 `json:"memory_max_mb"`
	Goroutines  int    `json:"goroutines"`
}

type SnapshotStats struct {
	Saved   int64 `json:"saved"`
	Dropped int64 `json:"dropped"`
}

type StatsResponse struct {
	Diagnostics DiagnosticsStats            `json:"diagnostics"`
	Providers   map[string]ProviderStatsDTO `json:"providers"`
	Snapshots   *SnapshotStats              `json:"snapshots,omitempty"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	resp := StatsResponse{
		Diagnostics: h.gatherDiagnostics(),
		Providers:   make(map[string]ProviderStatsDTO, len(snapshot)),
	}

	for provider, stats := range snapshot {
		totalCache := stats.CacheHits + stats.CacheMisses
		hitRate := int64(0)
		if totalCache > 0 {
			hitRate = (stats.CacheHits * 100) / totalCache
		}
		resp.Providers[provider] = ProviderStatsDTO{ProviderStats: stats, HitRate: hitRate}
	}

	if h.recorder != nil {
		resp.Snapshots = &SnapshotStats{Saved: h.recorder.Saved(), Dropped: h.recorder.Dropped()}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode stats response", "error", err)
	}
}

func (h *StatsHandler) gatherDiagnostics() DiagnosticsStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	h.mu.Lock()
	if m.Sys > h.maxMem {
		h.maxMem = m.Sys
	}
	maxMem := h.maxMem
	h.mu.Unlock()

	return DiagnosticsStats{
		UptimeSec:   int64(time.Since(h.started).Seconds()),
		MemoryMB:    bToMb(m.Sys),
		MemoryMaxMB: bToMb(maxMem),
		Goroutines:  runtime.NumGoroutine(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
