// Package tieredcache implements C7, the hot/warm/cold in-memory cache
// that sits in front of every compute-heavy HTTP handler. It is grounded on
// the teacher's pkg/history/cache.L1Cache and Manager: a mutex-guarded
// map with per-entry TTLs and Prometheus counters, generalized to three
// named layers sharing one entry map (spec §4.7).
package tieredcache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Layer names one of the three TTL tiers.
type Layer string

const (
	LayerHot  Layer = "hot"
	LayerWarm Layer = "warm"
	LayerCold Layer = "cold"
)

// DefaultTTL returns the documented default TTL for layer (spec §4.7
// "Semantics"): hot 5m, warm 45m, cold 24h.
func DefaultTTL(layer Layer) time.Duration {
	switch layer {
	case LayerHot:
		return 5 * time.Minute
	case LayerWarm:
		return 45 * time.Minute
	case LayerCold:
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

type entry struct {
	value     any
	layer     Layer
	expiresAt time.Time
}

// KeyStats is one key's hit/miss/eviction counters. Misses stays zero: a
// stats record only exists while its entry does, and a live entry can
// never itself produce a miss — the aggregate hit rate in DebugInfo tracks
// misses separately for that reason.
type KeyStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Metrics are the Prometheus counters exported for cache operations,
// grounded on the teacher's cache.Metrics shape.
type Metrics struct {
	Hits      *prometheus.CounterVec
	Misses    *prometheus.CounterVec
	Evictions *prometheus.CounterVec
	Size      *prometheus.GaugeVec
}

// NewMetrics registers the tiered-cache counters under the lineage
// namespace.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage_observer",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of tiered cache hits.",
		}, []string{"layer"}),
		Misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage_observer",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of tiered cache misses.",
		}, []string{"layer"}),
		Evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage_observer",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of tiered cache evictions.",
		}, []string{"layer"}),
		Size: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lineage_observer",
			Subsystem: "cache",
			Name:      "size_entries",
			Help:      "Current number of entries held in the tiered cache.",
		}, []string{"layer"}),
	}
}

// Cache is the tiered get/set/delete/clear/invalidate_layer/stats surface
// described in spec §4.7. One shared entries map backs all three layers;
// the layer tag on each entry is what invalidate_layer filters on.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   map[string]*KeyStats
	metrics *Metrics

	// totalHits/totalMisses are aggregate running counters, independent of
	// the per-key stats map: a KeyStats record cannot outlive its entry
	// (the |stats| ≤ |entries| invariant), but the aggregate hit rate in
	// debug_info() must still reflect misses against keys that were never
	// set or have since expired.
	totalHits   int64
	totalMisses int64
}

// New creates an empty Cache. metrics may be nil to skip Prometheus
// instrumentation (e.g. in tests).
func New(metrics *Metrics) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		stats:   make(map[string]*KeyStats),
		metrics: metrics,
	}
}

// Get returns the cached value for key, or (nil, false) on miss. An expired
// entry is deleted along with its statistics record in the same operation
// and counted as a miss (spec §4.7 "Semantics").
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.totalMisses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		delete(c.stats, key)
		c.totalMisses++
		if c.metrics != nil {
			c.metrics.Misses.WithLabelValues(string(e.layer)).Inc()
		}
		return nil, false
	}
	c.statsFor(key).Hits++
	c.totalHits++
	if c.metrics != nil {
		c.metrics.Hits.WithLabelValues(string(e.layer)).Inc()
	}
	return e.value, true
}

func (c *Cache) statsFor(key string) *KeyStats {
	s, ok := c.stats[key]
	if !ok {
		s = &KeyStats{}
		c.stats[key] = s
	}
	return s
}

// Set stores value under key in layer with ttl (or the layer's default TTL
// when ttl is zero).
func (c *Cache) Set(key string, value any, layer Layer, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL(layer)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, layer: layer, expiresAt: time.Now().Add(ttl)}
	if c.metrics != nil {
		c.metrics.Size.WithLabelValues(string(layer)).Set(float64(c.countLayerLocked(layer)))
	}
}

// Delete removes key's entry and statistics record, returning whether an
// entry was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	delete(c.stats, key)
	return ok
}

// Clear removes all entries and all statistics (spec §4.7 "Semantics").
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.stats = make(map[string]*KeyStats)
}

// InvalidateLayer deletes every entry tagged with layer, incrementing each
// key's eviction counter before the statistics record is deleted — the
// increment is only observable through metrics, never through a later
// Stats call, since the statistics record does not outlive its entry
// (spec §4.7 "Semantics").
func (c *Cache) InvalidateLayer(layer Layer) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for key, e := range c.entries {
		if e.layer != layer {
			continue
		}
		c.statsFor(key).Evictions++
		if c.metrics != nil {
			c.metrics.Evictions.WithLabelValues(string(layer)).Inc()
		}
		delete(c.entries, key)
		delete(c.stats, key)
		count++
	}
	return count
}

// Stats returns the statistics record for key, if one exists.
func (c *Cache) Stats(key string) (KeyStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stats[key]
	if !ok {
		return KeyStats{}, false
	}
	return *s, true
}

// DebugInfo is the full aggregate snapshot returned by debug_info()
// (spec §4.7 "Contract").
type DebugInfo struct {
	EntryCount int64           `json:"entry_count"`
	StatCount  int64           `json:"stat_count"`
	ByLayer    map[Layer]int64 `json:"by_layer"`
	HitRate    float64         `json:"hit_rate"`
}

// DebugInfo aggregates entry/stat counts and the overall hit rate
// (spec §4.7 "Statistics": hits / (hits + misses)).
func (c *Cache) DebugInfo() DebugInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byLayer := map[Layer]int64{}
	for _, e := range c.entries {
		byLayer[e.layer]++
	}
	info := DebugInfo{
		EntryCount: int64(len(c.entries)),
		StatCount:  int64(len(c.stats)),
		ByLayer:    byLayer,
	}
	if total := c.totalHits + c.totalMisses; total > 0 {
		info.HitRate = float64(c.totalHits) / float64(total)
	}
	return info
}

func (c *Cache) countLayerLocked(layer Layer) int {
	n := 0
	for _, e := range c.entries {
		if e.layer == layer {
			n++
		}
	}
	return n
}
