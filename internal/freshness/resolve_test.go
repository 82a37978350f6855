package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
)

var fixedNow = time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

func TestResolve_PrefersSourcesArtifact(t *testing.T) {
	sources := artifact.FreshnessMap{
		"model.x": {MaxLoadedAt: "2026-07-31T10:00:00Z"},
	}
	rec := &artifact.CatalogRecord{Stats: map[string]any{"max_loaded_at": "2026-07-31T09:00:00Z"}}

	got := Resolve(sources, "model.x", rec, nil, nil, fixedNow)
	require.True(t, got.Found)
	assert.Equal(t, SourceSourcesArtifact, got.Source)
	assert.Equal(t, "2026-07-31T10:00:00Z", got.Timestamp.Format(time.RFC3339))
}

func TestResolve_FallsBackToCatalogStats(t *testing.T) {
	rec := &artifact.CatalogRecord{Stats: map[string]any{"max_loaded_at": map[string]any{"value": "2026-07-31T09:00:00Z"}}}

	got := Resolve(nil, "model.x", rec, nil, nil, fixedNow)
	require.True(t, got.Found)
	assert.Equal(t, SourceCatalogStats, got.Source)
}

func TestResolve_FallsBackToManifestMeta(t *testing.T) {
	meta := map[string]any{"last_updated_at": "2026-07-31T08:00:00Z"}

	got := Resolve(nil, "model.x", nil, meta, nil, fixedNow)
	require.True(t, got.Found)
	assert.Equal(t, SourceManifestMeta, got.Source)
}

func TestResolve_LegacyCreatedAtHeuristic(t *testing.T) {
	createdAt := 3600.0 // one hour ago, in seconds

	got := Resolve(nil, "model.x", nil, nil, &createdAt, fixedNow)
	require.True(t, got.Found)
	assert.Equal(t, SourceManifestCreatedAtOld, got.Source)
	assert.Equal(t, fixedNow.Add(-1*time.Hour), got.Timestamp)
}

func TestResolve_LegacyCreatedAtRejectsImplausibleValue(t *testing.T) {
	tooOld := float64(100 * 365 * 24 * 3600) // 100 years — looks like an epoch timestamp, not an offset

	got := Resolve(nil, "model.x", nil, nil, &tooOld, fixedNow)
	assert.False(t, got.Found)
	assert.Equal(t, SourceUnknown, got.Source)
}

func TestResolve_Unknown(t *testing.T) {
	got := Resolve(nil, "model.x", nil, nil, nil, fixedNow)
	assert.False(t, got.Found)
	assert.Equal(t, SourceUnknown, got.Source)
}

func TestLagMinutes(t *testing.T) {
	ts := fixedNow.Add(-90 * time.Minute)
	assert.Equal(t, 90, LagMinutes(ts, fixedNow))
}

func TestLagMinutes_FutureTimestampClampsToZero(t *testing.T) {
	ts := fixedNow.Add(10 * time.Minute)
	assert.Equal(t, 0, LagMinutes(ts, fixedNow))
}
