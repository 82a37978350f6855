// Package reference implements C2, the reference-data classifier: a pure
// function deciding whether an asset is slow-changing "reference" data
// (dimensions, lookups, seeds), which earns it a longer freshness threshold
// (spec §4.2, §4.5).
package reference

import (
	"strings"

	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
)

// Reason names which rule in the decision order matched.
type Reason string

const (
	ReasonMetaReferenceTable Reason = "meta.reference_table"
	ReasonMetaDataClass      Reason = "meta.data_class=reference"
	ReasonTag                Reason = "tag"
	ReasonSeed               Reason = "seed"
	ReasonHardcodedName      Reason = "hardcoded_table_name"
	ReasonNamePattern        Reason = "name_pattern"
	ReasonKeyValueColumns    Reason = "key_value_columns"
	ReasonNotReference       Reason = "not_reference"
)

// Classification is the result of classifying one asset.
type Classification struct {
	IsReference bool
	Reason      Reason
}

var referenceTags = map[string]struct{}{
	"ref":        {},
	"reference":  {},
	"lookup":     {},
	"static":     {},
	"dimension":  {},
}

// hardcodedReferenceNames is a fixed allowlist of well-known slow-changing
// reference entities, matched case-insensitively on the asset's name.
var hardcodedReferenceNames = map[string]struct{}{
	"dim_date":          {},
	"dim_time":          {},
	"dim_calendar":      {},
	"country_codes":     {},
	"currency_codes":    {},
	"timezones":         {},
	"us_states":         {},
	"zip_codes":         {},
	"postal_codes":      {},
	"holidays":          {},
}

var namePatternSubstrings = []string{"lookup", "reference", "_type", "_reason"}

// keyValueColumnPairs are the canonical (key, value) column-name pairs that
// mark a node as a small lookup/reference table by shape alone.
var keyValueColumnPairs = [][2]string{
	{"id", "name"},
	{"id", "description"},
	{"code", "name"},
	{"code", "description"},
	{"key", "value"},
	{"type", "description"},
	{"status", "description"},
}

// Classify decides whether asset is reference-like, following the
// first-match-wins decision order in spec §4.2.
func Classify(a *artifact.Asset) Classification {
	if v, ok := a.Meta["reference_table"]; ok {
		if b, ok := v.(bool); ok && b {
			return Classification{true, ReasonMetaReferenceTable}
		}
	}
	if v, ok := a.Meta["data_class"]; ok {
		if s, ok := v.(string); ok && strings.EqualFold(s, "reference") {
			return Classification{true, ReasonMetaDataClass}
		}
	}
	for _, tag := range a.Tags {
		if _, ok := referenceTags[strings.ToLower(tag)]; ok {
			return Classification{true, ReasonTag}
		}
	}
	if a.Kind == artifact.KindSeed || strings.EqualFold(a.Config.Materialized, "seed") {
		return Classification{true, ReasonSeed}
	}
	if _, ok := hardcodedReferenceNames[strings.ToLower(a.Name)]; ok {
		return Classification{true, ReasonHardcodedName}
	}
	lowerName := strings.ToLower(a.Name)
	for _, substr := range namePatternSubstrings {
		if strings.Contains(lowerName, substr) {
			return Classification{true, ReasonNamePattern}
		}
	}
	if matchesKeyValueShape(a.Columns) {
		return Classification{true, ReasonKeyValueColumns}
	}
	return Classification{false, ReasonNotReference}
}

func matchesKeyValueShape(columns map[string]artifact.Column) bool {
	if len(columns) == 0 {
		return false
	}
	lower := make(map[string]struct{}, len(columns))
	for name := range columns {
		lower[strings.ToLower(name)] = struct{}{}
	}
	for _, pair := range keyValueColumnPairs {
		_, hasA := lower[pair[0]]
		_, hasB := lower[pair[1]]
		if hasA && hasB {
			return true
		}
	}
	return false
}
