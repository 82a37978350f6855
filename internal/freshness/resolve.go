// Package freshness implements the shared last-updated resolution priority
// chain used by both the lineage engine's output enrichment and the
// broad-checks evaluator's freshness check (spec §4.4, §4.5).
package freshness

import (
	"math"
	"time"

	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
)

// Source names which link in the priority chain produced the timestamp.
type Source string

const (
	SourceSourcesArtifact      Source = "sources-artifact"
	SourceCatalogStats         Source = "catalog-stats"
	SourceManifestMeta         Source = "manifest-meta"
	SourceManifestCreatedAtOld Source = "manifest-created-at-legacy"
	SourceUnknown              Source = "unknown"
)

// legacyCreatedAtGuard bounds the "seconds-ago" heuristic: only a created_at
// value inside (0, 50 years in seconds) is plausible as a relative offset
// rather than an absolute epoch timestamp (spec §4.5, §8 "legacy created-at
// heuristic").
const legacyCreatedAtGuard = 50 * 365 * 24 * 3600

// Result is a resolved last-updated timestamp plus the chain link that
// produced it.
type Result struct {
	Timestamp time.Time
	Source    Source
	Found     bool
}

// Resolve walks the four-link priority chain in spec §4.5 "Freshness check":
// sources-freshness artifact, then catalog statistics/metadata, then
// manifest node meta, then the legacy created_at seconds-ago heuristic.
func Resolve(sources artifact.FreshnessMap, assetID string, rec *artifact.CatalogRecord, meta map[string]any, createdAt *float64, now time.Time) Result {
	if sources != nil {
		if fr, ok := sources[assetID]; ok {
			if ts, ok := parseTimestamp(fr.MaxLoadedAt); ok {
				return Result{ts, SourceSourcesArtifact, true}
			}
			if ts, ok := parseTimestamp(fr.SnapshottedAt); ok {
				return Result{ts, SourceSourcesArtifact, true}
			}
		}
	}

	if rec != nil {
		for _, key := range []string{"max_loaded_at", "last_modified", "updated_at"} {
			if v, ok := rec.Stats[key]; ok {
				if ts, ok := parseStatTimestamp(v); ok {
					return Result{ts, SourceCatalogStats, true}
				}
			}
		}
		if ts, ok := parseTimestamp(rec.Metadata.UpdatedAt); ok {
			return Result{ts, SourceCatalogStats, true}
		}
	}

	for _, key := range []string{"last_updated_at", "max_loaded_at", "modified_at", "updated_at"} {
		if v, ok := meta[key]; ok {
			if s, ok := v.(string); ok {
				if ts, ok := parseTimestamp(s); ok {
					return Result{ts, SourceManifestMeta, true}
				}
			}
		}
	}

	if createdAt != nil && *createdAt > 0 && *createdAt < legacyCreatedAtGuard {
		return Result{now.Add(-time.Duration(*createdAt * float64(time.Second))), SourceManifestCreatedAtOld, true}
	}

	return Result{Source: SourceUnknown}
}

// LagMinutes computes max(0, round((now - ts) / 60)) per spec §4.5.
func LagMinutes(ts, now time.Time) int {
	seconds := now.Sub(ts).Seconds()
	if seconds < 0 {
		seconds = 0
	}
	return int(math.Round(seconds / 60))
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func parseStatTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		return parseTimestamp(t)
	case map[string]any:
		if inner, ok := t["value"]; ok {
			return parseStatTimestamp(inner)
		}
	case float64:
		return time.Unix(int64(t), 0).UTC(), true
	}
	return time.Time{}, false
}
