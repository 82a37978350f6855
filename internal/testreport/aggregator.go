// Package testreport implements C6, the test aggregator: it enumerates the
// test nodes attached to an asset, classifies each one, synthesizes the
// broad-check tests, and applies the request's type/status filters
// (spec §4.6).
package testreport

import (
	"strconv"
	"strings"
	"time"

	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
	"github.com/vitaliisemenov/lineage-observer/internal/checks"
	"github.com/vitaliisemenov/lineage-observer/internal/compare"
)

// Type classifies one test's operational concern.
type Type string

const (
	TypeFreshness Type = "freshness"
	TypeVolume    Type = "volume"
	TypeQuality   Type = "quality"
	TypeOther     Type = "other"
)

// Severity mirrors a test node's configured severity.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Status is a test's pass/fail/unknown outcome.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusUnknown Status = "unknown"
)

// genericTestNamespace is the namespace dbt's built-in generic tests
// (unique, not_null, relationships, accepted_values, dbt_freshness) are
// declared under. Anything else falls through to name-substring matching.
const genericTestNamespace = "dbt"

// Test is one entry in a TestReport's test list (spec §4.6 "Contract").
type Test struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        Type     `json:"type"`
	Status      Status   `json:"status"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Column      string   `json:"column,omitempty"`
}

// Report is the full per-node test summary (spec §4.6 "Contract").
type Report struct {
	TotalTests   int           `json:"total_tests"`
	FailingTests int           `json:"failing_tests"`
	Tests        []Test        `json:"tests"`
	Broad        checks.Result `json:"broad_checks"`
}

// Filter narrows the assembled report by test type and status
// (spec §4.6 "Filtering").
type Filter struct {
	Type   Type
	Status Status
}

// TestsFor implements the tests_for(node_id, {current, previous}) contract
// (spec §4.6).
func TestsFor(pair *compare.Pair, nodeID string, th checks.Thresholds, now time.Time, filter Filter) Report {
	var tests []Test
	if pair.Current.Manifest != nil {
		for id, asset := range pair.Current.Manifest.Union {
			if asset.Kind != artifact.KindTest {
				continue
			}
			if !dependsOnNode(asset, nodeID) && asset.FileKeyName != nodeID {
				continue
			}
			tests = append(tests, classify(id, asset))
		}
	}

	broad := checks.Evaluate(pair, nodeID, th, now)
	tests = append(tests, synthesize(broad)...)

	failingTests := 0
	for _, t := range tests {
		if t.Status == StatusFail {
			failingTests++
		}
	}

	tests = applyFilter(tests, filter)

	return Report{
		TotalTests:   len(tests),
		FailingTests: failingTests,
		Tests:        tests,
		Broad:        broad,
	}
}

func dependsOnNode(test *artifact.Asset, nodeID string) bool {
	for _, id := range test.ParentIDs() {
		if id == nodeID {
			return true
		}
	}
	return false
}

// classify builds the Test entry for a manifest test node, preferring
// test_metadata over the name-substring fallback (spec §4.6
// "Classification", "Enumeration").
func classify(id string, asset *artifact.Asset) Test {
	t := Test{
		ID:       id,
		Name:     asset.Name,
		Status:   StatusUnknown,
		Severity: severityOf(asset),
	}
	if asset.TestMetadata != nil {
		t.Name = asset.TestMetadata.Name
		if col, ok := asset.TestMetadata.Kwargs["column_name"]; ok {
			if s, ok := col.(string); ok {
				t.Column = s
			}
		}
	}
	t.Type = classifyType(asset)
	t.Description = defaultDescription(t)
	return t
}

func severityOf(asset *artifact.Asset) Severity {
	if strings.EqualFold(asset.Config.Severity, "error") {
		return SeverityError
	}
	return SeverityWarning
}

func classifyType(asset *artifact.Asset) Type {
	if asset.TestMetadata != nil && asset.TestMetadata.Namespace == genericTestNamespace {
		switch asset.TestMetadata.Name {
		case "dbt_freshness", "freshness":
			return TypeFreshness
		case "unique", "not_null", "relationships", "accepted_values":
			return TypeQuality
		default:
			return TypeOther
		}
	}
	name := strings.ToLower(asset.Name)
	switch {
	case strings.Contains(name, "freshness"):
		return TypeFreshness
	case strings.Contains(name, "row_count"), strings.Contains(name, "volume"), strings.Contains(name, "not_empty"):
		return TypeVolume
	case strings.Contains(name, "not_null"), strings.Contains(name, "unique"),
		strings.Contains(name, "accepted_values"), strings.Contains(name, "relationships"),
		strings.Contains(name, "type_check"):
		return TypeQuality
	default:
		return TypeOther
	}
}

func defaultDescription(t Test) string {
	if t.Column != "" {
		return t.Name + " on column " + t.Column
	}
	return t.Name
}

// synthesize appends the three broad-check synthetic tests with statuses
// and numeric-fact descriptions drawn from the broad-checks result
// (spec §4.6 "Broad-check synthesis").
func synthesize(b checks.Result) []Test {
	return []Test{
		{
			ID:          "broad:schema_drift",
			Name:        "schema_drift",
			Type:        TypeOther,
			Status:      Status(b.Schema.Status),
			Severity:    severityFor(b.Schema.Status),
			Description: schemaDescription(b),
		},
		{
			ID:          "broad:volume_change",
			Name:        "volume_change",
			Type:        TypeVolume,
			Status:      Status(b.Volume.Status),
			Severity:    severityFor(b.Volume.Status),
			Description: volumeDescription(b),
		},
		{
			ID:          "broad:freshness_lag",
			Name:        "freshness_lag",
			Type:        TypeFreshness,
			Status:      Status(b.Freshness.Status),
			Severity:    severityFor(b.Freshness.Status),
			Description: freshnessDescription(b),
		},
	}
}

func severityFor(status checks.Status) Severity {
	if status == checks.StatusFail {
		return SeverityError
	}
	return SeverityWarning
}

func schemaDescription(b checks.Result) string {
	return "added=" + itoa(len(b.Schema.AddedColumns)) +
		" removed=" + itoa(len(b.Schema.RemovedColumns)) +
		" type_changes=" + itoa(len(b.Schema.TypeChanges))
}

func volumeDescription(b checks.Result) string {
	if b.Volume.DeviationPct == nil {
		return "row count comparison unavailable"
	}
	return "deviation=" + ftoa(*b.Volume.DeviationPct) + "% threshold=" + ftoa(b.Volume.ThresholdPct) + "%"
}

func freshnessDescription(b checks.Result) string {
	if b.Freshness.LagMinutes == nil {
		return "last_updated unavailable"
	}
	return "lag=" + itoa(*b.Freshness.LagMinutes) + "min threshold=" + itoa(b.Freshness.ThresholdMinutes) + "min"
}

func itoa(n int) string { return strconv.Itoa(n) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) }

func applyFilter(tests []Test, f Filter) []Test {
	if f.Type == "" && f.Status == "" {
		return tests
	}
	out := make([]Test, 0, len(tests))
	for _, t := range tests {
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t)
	}
	return out
}
