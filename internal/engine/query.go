// Package engine composes the Artifact Store (C1), Comparison Resolver
// (C3), Lineage Engine (C4), Broad-Checks Evaluator (C5), Test Aggregator
// (C6), and Tiered Cache (C7) into the two read operations the HTTP
// surface (C8) exposes: the lineage DAG query and the error/test report
// query (spec §4.8 "HTTP Surface").
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vitaliisemenov/lineage-observer/internal/apierrors"
	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
	"github.com/vitaliisemenov/lineage-observer/internal/checks"
	"github.com/vitaliisemenov/lineage-observer/internal/compare"
	"github.com/vitaliisemenov/lineage-observer/internal/lineage"
	"github.com/vitaliisemenov/lineage-observer/internal/testreport"
	"github.com/vitaliisemenov/lineage-observer/internal/tieredcache"
)

// Engine holds the long-lived collaborators a request is served against.
type Engine struct {
	Store      *artifact.Store
	Resolver   *compare.Resolver
	Cache      *tieredcache.Cache
	Thresholds checks.Thresholds
}

// New wires the request-serving collaborators together.
func New(store *artifact.Store, resolver *compare.Resolver, cache *tieredcache.Cache, th checks.Thresholds) *Engine {
	return &Engine{Store: store, Resolver: resolver, Cache: cache, Thresholds: th}
}

// DAGRequest carries the /dag/{id} query parameters (spec §6).
type DAGRequest struct {
	NodeID   string
	MaxDepth int
	Fresh    bool
	Compare  compare.Request
}

// Metadata describes the artifact versions and comparison used to answer
// a request, returned alongside every lineage/error response (spec §6).
type Metadata struct {
	ManifestVersion string `json:"manifestVersion"`
	GeneratedAt     string `json:"generatedAt"`
	CatalogVersion  string `json:"catalogVersion"`
	Comparison      string `json:"comparison"`
}

// DAGResult is the envelope returned by DAG (spec §6 response shape).
type DAGResult struct {
	Data          *lineage.View
	Cached        bool
	ComputeTimeMs int64
	NodeID        string
	Metadata      Metadata
}

// DAG answers a /dag/{id} request, consulting the warm cache layer unless
// the caller asked for fresh=true (spec §4.7 "Cache keys", §4.8).
func (e *Engine) DAG(ctx context.Context, req DAGRequest) (*DAGResult, error) {
	bundle, err := e.Store.Bundle(ctx)
	if err != nil {
		return nil, apierrors.ArtifactAbsent(err.Error())
	}

	key := dagCacheKey(req)
	if !req.Fresh {
		if v, ok := e.Cache.Get(key); ok {
			result := v.(*DAGResult)
			cached := *result
			cached.Cached = true
			return &cached, nil
		}
	}

	start := time.Now()

	if _, ok := bundle.Asset(req.NodeID); !ok {
		return nil, apierrors.NodeUnknown(req.NodeID)
	}

	pair, err := e.Resolver.Resolve(ctx, req.Compare, bundle)
	if err != nil {
		return nil, comparisonError(err)
	}

	view, err := lineage.ComputeDAG(ctx, bundle, pair.Current.Sources, req.NodeID, req.MaxDepth)
	if err != nil {
		return nil, apierrors.NodeUnknown(req.NodeID)
	}

	result := &DAGResult{
		Data:          view,
		Cached:        false,
		ComputeTimeMs: time.Since(start).Milliseconds(),
		NodeID:        req.NodeID,
		Metadata:      buildMetadata(bundle, pair),
	}
	e.Cache.Set(key, result, tieredcache.LayerWarm, 0)
	return result, nil
}

// ErrorsRequest carries the /errors/{id} query parameters (spec §6).
type ErrorsRequest struct {
	NodeID  string
	Filter  testreport.Filter
	Compare compare.Request
}

// ErrorsResult is the envelope returned by Errors (spec §6 response shape).
type ErrorsResult struct {
	Data          testreport.Report
	Cached        bool
	ComputeTimeMs int64
}

// Errors answers a /errors/{id} request, consulting the hot cache layer
// (spec §4.7 "Cache keys": a 5-minute TTL fits the faster-changing test
// status surface).
func (e *Engine) Errors(ctx context.Context, req ErrorsRequest) (*ErrorsResult, error) {
	bundle, err := e.Store.Bundle(ctx)
	if err != nil {
		return nil, apierrors.ArtifactAbsent(err.Error())
	}
	if _, ok := bundle.Asset(req.NodeID); !ok {
		return nil, apierrors.NodeUnknown(req.NodeID)
	}

	key := errorsCacheKey(req)
	if v, ok := e.Cache.Get(key); ok {
		result := v.(*ErrorsResult)
		cached := *result
		cached.Cached = true
		return &cached, nil
	}

	start := time.Now()

	pair, err := e.Resolver.Resolve(ctx, req.Compare, bundle)
	if err != nil {
		return nil, comparisonError(err)
	}

	report := testreport.TestsFor(pair, req.NodeID, e.Thresholds, start, req.Filter)

	result := &ErrorsResult{
		Data:          report,
		Cached:        false,
		ComputeTimeMs: time.Since(start).Milliseconds(),
	}
	e.Cache.Set(key, result, tieredcache.LayerHot, 0)
	return result, nil
}

// InvalidateNode clears any cached dag/errors entries touching id. Exact
// per-node keying isn't retained by the cache, so invalidation falls back
// to the coarser warm+hot layer clear and reports that as the affected
// count (spec §6 "POST /dag/{id}?action=invalidate").
func (e *Engine) InvalidateNode(id string) int {
	n := e.Cache.InvalidateLayer(tieredcache.LayerWarm)
	n += e.Cache.InvalidateLayer(tieredcache.LayerHot)
	return n
}

// comparisonError maps a comparison-resolution failure to the API error
// taxonomy: an artifact that cannot be read or parsed (artifact.LoadError)
// is ARTIFACT_MALFORMED (503); anything else, such as a rejected path or an
// incomplete explicit manifest/catalog pair, is PARAMETER_INVALID (400).
func comparisonError(err error) *apierrors.APIError {
	var loadErr *artifact.LoadError
	if errors.As(err, &loadErr) {
		return apierrors.ArtifactMalformed("comparison", err)
	}
	return apierrors.ParameterInvalid(err.Error())
}

func buildMetadata(bundle *artifact.Bundle, pair *compare.Pair) Metadata {
	m := Metadata{
		ManifestVersion: bundle.Manifest.Metadata.DbtVersion,
		GeneratedAt:     bundle.Manifest.Metadata.GeneratedAt,
		Comparison:      string(pair.Previous.Source),
	}
	if bundle.Catalog != nil {
		m.CatalogVersion = bundle.Catalog.Metadata.Type
	}
	return m
}

func dagCacheKey(req DAGRequest) string {
	return strings.Join([]string{
		"dag", req.NodeID, itoa(req.MaxDepth),
		sentinel(req.Compare.CurrentSnapshot), sentinel(req.Compare.PreviousSnapshot),
		sentinel(req.Compare.PreviousManifestPath), sentinel(req.Compare.PreviousCatalogPath),
	}, "|")
}

func errorsCacheKey(req ErrorsRequest) string {
	return strings.Join([]string{
		"errors", req.NodeID, string(req.Filter.Type), string(req.Filter.Status),
		sentinel(req.Compare.CurrentSnapshot), sentinel(req.Compare.PreviousSnapshot),
		sentinel(req.Compare.PreviousManifestPath), sentinel(req.Compare.PreviousCatalogPath),
	}, "|")
}

// sentinel normalizes an unset comparison parameter to "auto" so cache
// keys stay stable regardless of whether the query string omitted it or
// supplied an empty value (spec §4.7 "Cache keys").
func sentinel(s string) string {
	if s == "" {
		return "auto"
	}
	return s
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
