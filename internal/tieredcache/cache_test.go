package tieredcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New(nil)
	c.Set("k1", "v1", LayerHot, 0)

	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestCache_GetMissOnUnknownKey(t *testing.T) {
	c := New(nil)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestCache_EntryExpiresAfterTTL(t *testing.T) {
	c := New(nil)
	c.Set("k1", "v1", LayerHot, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestCache_SetZeroTTLUsesLayerDefault(t *testing.T) {
	c := New(nil)
	c.Set("k1", "v1", LayerCold, 0)
	_, ok := c.Get("k1")
	assert.True(t, ok) // cold default is 24h, won't have expired
}

func TestCache_Delete(t *testing.T) {
	c := New(nil)
	c.Set("k1", "v1", LayerHot, 0)

	assert.True(t, c.Delete("k1"))
	assert.False(t, c.Delete("k1"))
	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestCache_Clear(t *testing.T) {
	c := New(nil)
	c.Set("k1", "v1", LayerHot, 0)
	c.Set("k2", "v2", LayerWarm, 0)
	c.Clear()

	info := c.DebugInfo()
	assert.Equal(t, int64(0), info.EntryCount)
	assert.Equal(t, int64(0), info.StatCount)
}

func TestCache_InvalidateLayerOnlyAffectsThatLayer(t *testing.T) {
	c := New(nil)
	c.Set("hot1", "a", LayerHot, 0)
	c.Set("warm1", "b", LayerWarm, 0)

	n := c.InvalidateLayer(LayerHot)
	assert.Equal(t, 1, n)

	_, ok := c.Get("hot1")
	assert.False(t, ok)
	_, ok = c.Get("warm1")
	assert.True(t, ok)
}

func TestCache_StatsTrackHits(t *testing.T) {
	c := New(nil)
	c.Set("k1", "v1", LayerHot, 0)
	c.Get("k1")
	c.Get("k1")

	stats, ok := c.Stats("k1")
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Hits)
}

func TestCache_StatsDoNotOutliveEntry(t *testing.T) {
	c := New(nil)
	c.Set("k1", "v1", LayerHot, 0)
	c.Get("k1")
	c.Delete("k1")

	_, ok := c.Stats("k1")
	assert.False(t, ok)
}

func TestCache_DebugInfoHitRate(t *testing.T) {
	c := New(nil)
	c.Set("k1", "v1", LayerHot, 0)
	c.Get("k1")   // hit
	c.Get("k2")   // miss

	info := c.DebugInfo()
	assert.InDelta(t, 0.5, info.HitRate, 0.01)
}

func TestCache_DebugInfoByLayer(t *testing.T) {
	c := New(nil)
	c.Set("k1", "v1", LayerHot, 0)
	c.Set("k2", "v2", LayerHot, 0)
	c.Set("k3", "v3", LayerWarm, 0)

	info := c.DebugInfo()
	assert.Equal(t, int64(2), info.ByLayer[LayerHot])
	assert.Equal(t, int64(1), info.ByLayer[LayerWarm])
}

func TestDefaultTTL(t *testing.T) {
	assert.Equal(t, 5*time.Minute, DefaultTTL(LayerHot))
	assert.Equal(t, 45*time.Minute, DefaultTTL(LayerWarm))
	assert.Equal(t, 24*time.Hour, DefaultTTL(LayerCold))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(nil)
	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func(n int) {
			key := "k"
			c.Set(key, n, LayerHot, 0)
			c.Get(key)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 16; i++ {
		<-done
	}
}
