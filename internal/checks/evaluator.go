// Package checks implements C5, the broad-checks evaluator: schema,
// volume, and freshness comparisons between a current and previous
// artifact pair for a single node (spec §4.5).
package checks

import (
	"fmt"
	"sort"
	"time"

	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
	"github.com/vitaliisemenov/lineage-observer/internal/compare"
	"github.com/vitaliisemenov/lineage-observer/internal/freshness"
	"github.com/vitaliisemenov/lineage-observer/internal/reference"
)

// Status is the outcome of one check.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusUnknown Status = "unknown"
)

// TypeChange records a column whose declared type differs between the
// current and previous artifact.
type TypeChange struct {
	Column   string `json:"column"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// SchemaCheck is the schema-drift result (spec §4.5 "Schema check").
type SchemaCheck struct {
	Status         Status       `json:"status"`
	AddedColumns   []string     `json:"added_columns"`
	RemovedColumns []string     `json:"removed_columns"`
	TypeChanges    []TypeChange `json:"type_changes"`
}

// VolumeCheck is the row-count-deviation result (spec §4.5 "Volume check").
type VolumeCheck struct {
	Status           Status   `json:"status"`
	CurrentRowCount  *int64   `json:"current_row_count,omitempty"`
	PreviousRowCount *int64   `json:"previous_row_count,omitempty"`
	DeviationPct     *float64 `json:"deviation_pct,omitempty"`
	ThresholdPct     float64  `json:"threshold_pct"`
}

// FreshnessCheck is the staleness-lag result (spec §4.5 "Freshness check").
type FreshnessCheck struct {
	Status           Status           `json:"status"`
	LastUpdated      string           `json:"last_updated,omitempty"`
	LagMinutes       *int             `json:"lag_minutes,omitempty"`
	ThresholdMinutes int              `json:"threshold_minutes"`
	IsReferenceLike  bool             `json:"is_reference_like"`
	FreshnessSource  freshness.Source `json:"freshness_source"`
}

// Result is the combined broad-checks outcome for one node, one comparison
// pair (spec §3, "Broad Checks").
type Result struct {
	Schema    SchemaCheck    `json:"schema"`
	Volume    VolumeCheck    `json:"volume"`
	Freshness FreshnessCheck `json:"freshness"`
	StyleKey  string         `json:"style_key"`
	FailCount int            `json:"fail_count"`
}

// Thresholds carries the configurable check thresholds (spec §10
// "Environment variables").
type Thresholds struct {
	VolumePct              float64
	FreshnessMinutes       int
	ReferenceFreshnessMins int
}

// DefaultThresholds matches the documented defaults: 25% volume deviation,
// 180 minutes freshness, 10080 minutes (7 days) for reference-like nodes.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VolumePct:              25,
		FreshnessMinutes:       180,
		ReferenceFreshnessMins: 10080,
	}
}

// Evaluate computes the broad checks for id against the current/previous
// comparison pair (spec §4.5).
func Evaluate(pair *compare.Pair, id string, th Thresholds, now time.Time) Result {
	curAsset, _ := lookup(pair.Current.Manifest, id)
	prevAsset, _ := lookup(pair.Previous.Manifest, id)
	curRec, _ := catalogFor(pair.Current.Catalog, id)
	prevRec, _ := catalogFor(pair.Previous.Catalog, id)

	schema := evaluateSchema(curAsset, curRec, prevAsset, prevRec)
	volume := evaluateVolume(curRec, prevRec, th.VolumePct)
	freshCheck := evaluateFreshness(pair, id, curAsset, curRec, th, now)

	result := Result{Schema: schema, Volume: volume, Freshness: freshCheck}
	result.StyleKey, result.FailCount = styleKey(schema.Status, volume.Status, freshCheck.Status)
	return result
}

func lookup(m *artifact.Manifest, id string) (*artifact.Asset, bool) {
	if m == nil {
		return nil, false
	}
	a, ok := m.Union[id]
	return a, ok
}

func catalogFor(c *artifact.Catalog, id string) (*artifact.CatalogRecord, bool) {
	if c == nil {
		return nil, false
	}
	rec, ok := c.Union[id]
	return rec, ok
}

// evaluateSchema merges manifest-declared and catalog-actual types,
// preferring the catalog, and diffs the current/previous column-type maps
// (spec §4.5 "Schema check").
func evaluateSchema(curAsset *artifact.Asset, curRec *artifact.CatalogRecord, prevAsset *artifact.Asset, prevRec *artifact.CatalogRecord) SchemaCheck {
	curTypes := columnTypes(curAsset, curRec)
	prevTypes := columnTypes(prevAsset, prevRec)

	check := SchemaCheck{AddedColumns: []string{}, RemovedColumns: []string{}, TypeChanges: []TypeChange{}}

	if len(prevTypes) == 0 {
		check.Status = StatusUnknown
		return check
	}

	for col := range curTypes {
		if _, ok := prevTypes[col]; !ok {
			check.AddedColumns = append(check.AddedColumns, col)
		}
	}
	for col := range prevTypes {
		if _, ok := curTypes[col]; !ok {
			check.RemovedColumns = append(check.RemovedColumns, col)
		}
	}
	for col, curType := range curTypes {
		if prevType, ok := prevTypes[col]; ok && prevType != curType {
			check.TypeChanges = append(check.TypeChanges, TypeChange{Column: col, Previous: prevType, Current: curType})
		}
	}
	sortStrings(check.AddedColumns)
	sortStrings(check.RemovedColumns)
	sortTypeChanges(check.TypeChanges)

	if len(check.AddedColumns) > 0 || len(check.RemovedColumns) > 0 || len(check.TypeChanges) > 0 {
		check.Status = StatusFail
	} else {
		check.Status = StatusPass
	}
	return check
}

func columnTypes(a *artifact.Asset, rec *artifact.CatalogRecord) map[string]string {
	types := make(map[string]string)
	if a != nil {
		for name, col := range a.Columns {
			types[name] = col.DataType
		}
	}
	if rec != nil {
		for name, col := range rec.Columns {
			if col.Type != "" {
				types[name] = col.Type
			} else if _, ok := types[name]; !ok {
				types[name] = ""
			}
		}
	}
	return types
}

// evaluateVolume compares catalog row counts, tolerating the catalog's
// numeric-shape variance (spec §4.5 "Volume check").
func evaluateVolume(curRec, prevRec *artifact.CatalogRecord, thresholdPct float64) VolumeCheck {
	check := VolumeCheck{ThresholdPct: thresholdPct}
	curCount := rowCountOf(curRec)
	prevCount := rowCountOf(prevRec)
	check.CurrentRowCount = curCount
	check.PreviousRowCount = prevCount

	if curCount == nil || prevCount == nil || *prevCount <= 0 {
		check.Status = StatusUnknown
		return check
	}
	deviation := float64(*curCount-*prevCount) / float64(*prevCount) * 100
	check.DeviationPct = &deviation
	if abs(deviation) > thresholdPct {
		check.Status = StatusFail
	} else {
		check.Status = StatusPass
	}
	return check
}

func rowCountOf(rec *artifact.CatalogRecord) *int64 {
	if rec == nil {
		return nil
	}
	for _, key := range []string{"num_rows", "row_count"} {
		if v, ok := rec.Stats[key]; ok {
			if n, ok := numericStat(v); ok {
				return &n
			}
		}
	}
	return nil
}

func numericStat(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case map[string]any:
		if inner, ok := t["value"]; ok {
			return numericStat(inner)
		}
	case string:
		var f float64
		if n, err := fmt.Sscanf(t, "%f", &f); err == nil && n == 1 {
			return int64(f), true
		}
	}
	return 0, false
}

func sortStrings(s []string) {
	sort.Strings(s)
}

func sortTypeChanges(tc []TypeChange) {
	sort.Slice(tc, func(i, j int) bool { return tc[i].Column < tc[j].Column })
}

// evaluateFreshness resolves last_updated via the shared priority chain and
// applies the reference-aware threshold (spec §4.5 "Freshness check").
func evaluateFreshness(pair *compare.Pair, id string, curAsset *artifact.Asset, curRec *artifact.CatalogRecord, th Thresholds, now time.Time) FreshnessCheck {
	check := FreshnessCheck{}
	isRef := false
	if curAsset != nil {
		isRef = reference.Classify(curAsset).IsReference
	}
	check.IsReferenceLike = isRef
	if isRef {
		check.ThresholdMinutes = th.ReferenceFreshnessMins
	} else {
		check.ThresholdMinutes = th.FreshnessMinutes
	}

	var meta map[string]any
	var createdAt *float64
	if curAsset != nil {
		meta = curAsset.Meta
		createdAt = curAsset.CreatedAt
	}
	r := freshness.Resolve(pair.Current.Sources, id, curRec, meta, createdAt, now)
	check.FreshnessSource = r.Source
	if !r.Found {
		check.Status = StatusUnknown
		return check
	}
	check.LastUpdated = r.Timestamp.UTC().Format(time.RFC3339)
	lag := freshness.LagMinutes(r.Timestamp, now)
	check.LagMinutes = &lag
	if lag > check.ThresholdMinutes {
		check.Status = StatusFail
	} else {
		check.Status = StatusPass
	}
	return check
}

// styleKey joins failing check names in the fixed order schema, volume,
// freshness (spec §4.5 "Combined style key").
func styleKey(schema, volume, fresh Status) (string, int) {
	var parts []string
	count := 0
	if schema == StatusFail {
		parts = append(parts, "schema")
		count++
	}
	if volume == StatusFail {
		parts = append(parts, "volume")
		count++
	}
	if fresh == StatusFail {
		parts = append(parts, "freshness")
		count++
	}
	if len(parts) == 0 {
		return "none", count
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "+" + p
	}
	return out, count
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
