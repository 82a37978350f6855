package testreport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
	"github.com/vitaliisemenov/lineage-observer/internal/checks"
	"github.com/vitaliisemenov/lineage-observer/internal/compare"
)

var fixedNow = time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

func basicPair(nodeID string, tests ...*artifact.Asset) *compare.Pair {
	union := map[string]*artifact.Asset{
		nodeID: {UniqueID: nodeID, Name: "orders"},
	}
	for i, tst := range tests {
		union[tst.UniqueID] = tst
		_ = i
	}
	return &compare.Pair{
		Current:  compare.Slot{Manifest: &artifact.Manifest{Union: union}},
		Previous: compare.Slot{Manifest: &artifact.Manifest{Union: map[string]*artifact.Asset{nodeID: {UniqueID: nodeID}}}},
	}
}

func TestTestsFor_EnumeratesAttachedGenericTests(t *testing.T) {
	nodeID := "model.x.orders"
	test := &artifact.Asset{
		UniqueID:     "test.x.not_null_orders_id",
		Name:         "not_null_orders_id",
		Kind:         artifact.KindTest,
		DependsOn:    artifact.DependsOn{Nodes: []string{nodeID}},
		TestMetadata: &artifact.TestMetadata{Name: "not_null", Namespace: "dbt"},
	}
	pair := basicPair(nodeID, test)

	report := TestsFor(pair, nodeID, checks.DefaultThresholds(), fixedNow, Filter{})
	require.GreaterOrEqual(t, len(report.Tests), 4) // the enumerated test + 3 synthetic broad checks

	var found bool
	for _, tt := range report.Tests {
		if tt.ID == "test.x.not_null_orders_id" {
			found = true
			assert.Equal(t, TypeQuality, tt.Type)
			assert.Equal(t, StatusUnknown, tt.Status)
		}
	}
	assert.True(t, found)
}

func TestTestsFor_IgnoresTestsForOtherNodes(t *testing.T) {
	nodeID := "model.x.orders"
	unrelated := &artifact.Asset{
		UniqueID:  "test.x.unrelated",
		Kind:      artifact.KindTest,
		DependsOn: artifact.DependsOn{Nodes: []string{"model.x.other"}},
	}
	pair := basicPair(nodeID, unrelated)

	report := TestsFor(pair, nodeID, checks.DefaultThresholds(), fixedNow, Filter{})
	for _, tt := range report.Tests {
		assert.NotEqual(t, "test.x.unrelated", tt.ID)
	}
}

func TestTestsFor_ClassifyByNameFallback(t *testing.T) {
	nodeID := "model.x.orders"
	test := &artifact.Asset{
		UniqueID:  "test.x.custom_row_count_check",
		Name:      "custom_row_count_check",
		Kind:      artifact.KindTest,
		DependsOn: artifact.DependsOn{Nodes: []string{nodeID}},
	}
	pair := basicPair(nodeID, test)

	report := TestsFor(pair, nodeID, checks.DefaultThresholds(), fixedNow, Filter{})
	var tt Test
	for _, c := range report.Tests {
		if c.ID == "test.x.custom_row_count_check" {
			tt = c
		}
	}
	assert.Equal(t, TypeVolume, tt.Type)
}

func TestTestsFor_SynthesizesBroadChecks(t *testing.T) {
	nodeID := "model.x.orders"
	pair := basicPair(nodeID)

	report := TestsFor(pair, nodeID, checks.DefaultThresholds(), fixedNow, Filter{})
	ids := map[string]bool{}
	for _, tt := range report.Tests {
		ids[tt.ID] = true
	}
	assert.True(t, ids["broad:schema_drift"])
	assert.True(t, ids["broad:volume_change"])
	assert.True(t, ids["broad:freshness_lag"])
}

func TestTestsFor_FailingCountReflectsAllTests(t *testing.T) {
	nodeID := "model.x.orders"
	curRec := &artifact.CatalogRecord{Stats: map[string]any{"row_count": float64(1000)}}
	prevRec := &artifact.CatalogRecord{Stats: map[string]any{"row_count": float64(100)}}
	pair := basicPair(nodeID)
	pair.Current.Catalog = &artifact.Catalog{Union: map[string]*artifact.CatalogRecord{nodeID: curRec}}
	pair.Previous.Catalog = &artifact.Catalog{Union: map[string]*artifact.CatalogRecord{nodeID: prevRec}}

	report := TestsFor(pair, nodeID, checks.DefaultThresholds(), fixedNow, Filter{})
	assert.GreaterOrEqual(t, report.FailingTests, 1)
}

func TestTestsFor_FilterByType(t *testing.T) {
	nodeID := "model.x.orders"
	pair := basicPair(nodeID)

	report := TestsFor(pair, nodeID, checks.DefaultThresholds(), fixedNow, Filter{Type: TypeVolume})
	for _, tt := range report.Tests {
		assert.Equal(t, TypeVolume, tt.Type)
	}
}

func TestTestsFor_FilterByStatus(t *testing.T) {
	nodeID := "model.x.orders"
	pair := basicPair(nodeID)

	report := TestsFor(pair, nodeID, checks.DefaultThresholds(), fixedNow, Filter{Status: StatusUnknown})
	for _, tt := range report.Tests {
		assert.Equal(t, StatusUnknown, tt.Status)
	}
}

func TestTestsFor_SeverityDefaultsToWarning(t *testing.T) {
	nodeID := "model.x.orders"
	test := &artifact.Asset{
		UniqueID:  "test.x.some_test",
		Name:      "some_test",
		Kind:      artifact.KindTest,
		DependsOn: artifact.DependsOn{Nodes: []string{nodeID}},
	}
	pair := basicPair(nodeID, test)

	report := TestsFor(pair, nodeID, checks.DefaultThresholds(), fixedNow, Filter{})
	for _, tt := range report.Tests {
		if tt.ID == "test.x.some_test" {
			assert.Equal(t, SeverityWarning, tt.Severity)
		}
	}
}

func TestTestsFor_SeverityErrorFromConfig(t *testing.T) {
	nodeID := "model.x.orders"
	test := &artifact.Asset{
		UniqueID:  "test.x.strict_test",
		Name:      "strict_test",
		Kind:      artifact.KindTest,
		DependsOn: artifact.DependsOn{Nodes: []string{nodeID}},
		Config:    artifact.NodeConfig{Severity: "error"},
	}
	pair := basicPair(nodeID, test)

	report := TestsFor(pair, nodeID, checks.DefaultThresholds(), fixedNow, Filter{})
	for _, tt := range report.Tests {
		if tt.ID == "test.x.strict_test" {
			assert.Equal(t, SeverityError, tt.Severity)
		}
	}
}
