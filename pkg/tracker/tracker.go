package tracker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker tracks usage statistics per provider. Providers are either remote
// hosts (transport level) or loader resources such as "aircraft".
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
	APISuccess     int64 `json:"success"`
	APIFailures    int64 `json:"failures"`
	APICancelled   int64 `json:"cancelled"`
	LastItems      int64 `json:"last_items"`
	LastDurationMs int64 `json:"last_duration_ms"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

// TrackCacheHit increments the cache hit counter.
func (t *Tracker) TrackCacheHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheMisses, 1)
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
}

func (t *Tracker) TrackCancelled(provider string) {
	atomic.AddInt64(&t.getStats(provider).APICancelled, 1)
}

// TrackCall records the outcome of one completed call: its duration, the number
// of items it produced and whether it succeeded.
func (t *Tracker) TrackCall(provider string, d time.Duration, items int, err error) {
	s := t.getStats(provider)
	atomic.StoreInt64(&s.LastDurationMs, d.Milliseconds())
	if err != nil {
		atomic.AddInt64(&s.APIFailures, 1)
		return
	}
	atomic.StoreInt64(&s.LastItems, int64(items))
	atomic.AddInt64(&s.APISuccess, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.stats))
	for k, v := range t.stats {
		result[k] = ProviderStats{
			CacheHits:      atomic.LoadInt64(&v.CacheHits),
			CacheMisses:    atomic.LoadInt64(&v.CacheMisses),
			APISuccess:     atomic.LoadInt64(&v.APISuccess),
			APIFailures:    atomic.LoadInt64(&v.APIFailures),
			APICancelled:   atomic.LoadInt64(&v.APICancelled),
			LastItems:      atomic.LoadInt64(&v.LastItems),
			LastDurationMs: atomic.LoadInt64(&v.LastDurationMs),
		}
	}
	return result
}

// Reset zeroes every counter but keeps known providers listed.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.stats {
		t.stats[k] = &ProviderStats{}
	}
}
