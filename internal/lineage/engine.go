// Package lineage implements C4, the bounded upstream/downstream lineage
// traversal engine (spec §4.4).
package lineage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
	"github.com/vitaliisemenov/lineage-observer/internal/freshness"
	"github.com/vitaliisemenov/lineage-observer/internal/reference"
)

// NotFoundError is returned when the requested root id is absent from the
// merged node view.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("lineage: node not found: %s", e.ID)
}

// View is the computed-per-request lineage result (spec §3, "Lineage
// View").
type View struct {
	Root        *artifact.Asset
	Ancestors   []*artifact.Asset
	Descendants []*artifact.Asset
	ParentDepth map[string]int
	ChildDepth  map[string]int
	Depth       struct {
		Upstream   int
		Downstream int
	}
}

// ClampDepth bounds max_depth to [0, 100] per spec §4.4.
func ClampDepth(maxDepth int) int {
	if maxDepth < 0 {
		return 0
	}
	if maxDepth > 100 {
		return 100
	}
	return maxDepth
}

// ComputeDAG computes the bounded upstream/downstream closure from rootID,
// enriching each reached asset with catalog-derived fields and reference
// classification (spec §4.4 Algorithm and Output enrichment).
//
// ctx is checked cooperatively at each node visit so a cancelled request
// abandons the DFS without writing any cache entry (spec §5 "Cancellation
// and timeouts").
func ComputeDAG(ctx context.Context, b *artifact.Bundle, sources artifact.FreshnessMap, rootID string, maxDepth int) (*View, error) {
	root, ok := b.Asset(rootID)
	if !ok {
		return nil, &NotFoundError{ID: rootID}
	}
	maxDepth = ClampDepth(maxDepth)

	parentDepth, err := traverse(ctx, rootID, maxDepth, func(id string) []string {
		a, ok := b.Asset(id)
		if !ok {
			return nil
		}
		return a.ParentIDs()
	})
	if err != nil {
		return nil, err
	}
	childDepth, err := traverse(ctx, rootID, maxDepth, func(id string) []string {
		return b.ChildIndex[id]
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	view := &View{
		Root:        enrich(b, sources, root, now),
		ParentDepth: parentDepth,
		ChildDepth:  childDepth,
		Ancestors:   orderedAssets(b, sources, parentDepth, now),
		Descendants: orderedAssets(b, sources, childDepth, now),
	}
	for _, d := range parentDepth {
		if d > view.Depth.Upstream {
			view.Depth.Upstream = d
		}
	}
	for _, d := range childDepth {
		if d > view.Depth.Downstream {
			view.Depth.Downstream = d
		}
	}
	return view, nil
}

// traverse is the shared DFS shape for both directions (spec §4.4
// "Algorithm"): depth 0 is the root and is never recorded; a candidate
// depth replaces the recorded one only if strictly smaller (shortest-path
// guarantee, spec §8). Whenever a node's recorded depth is lowered, its own
// edges are re-walked with the new depth so the improvement propagates to
// everything reachable from it — a diamond that reconverges and then
// continues (a -> b -> d -> e, a -> d directly) must still resolve e's
// depth via the shorter a->d path, not get stuck with the depth first
// found via b. Termination is guaranteed without a separate visited set:
// a node is only re-entered when its candidate depth is strictly smaller
// than its last recorded one, and depth is bounded below by 0, so each
// node can be re-entered at most maxDepth times (spec §8 "Cycle
// tolerance").
func traverse(ctx context.Context, rootID string, maxDepth int, edgesOf func(string) []string) (map[string]int, error) {
	depth := make(map[string]int)

	var visit func(id string, d int) error
	visit = func(id string, d int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d >= maxDepth {
			return nil
		}
		for _, next := range edgesOf(id) {
			if next == rootID {
				continue
			}
			candidate := d + 1
			if existing, ok := depth[next]; ok && existing <= candidate {
				continue
			}
			depth[next] = candidate
			if err := visit(next, candidate); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(rootID, 0); err != nil {
		return nil, err
	}
	return depth, nil
}

func orderedAssets(b *artifact.Bundle, sources artifact.FreshnessMap, depths map[string]int, now time.Time) []*artifact.Asset {
	ids := make([]string, 0, len(depths))
	for id := range depths {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic order (spec §4.4 "Determinism")
	out := make([]*artifact.Asset, 0, len(ids))
	for _, id := range ids {
		if a, ok := b.Asset(id); ok {
			out = append(out, enrich(b, sources, a, now))
		}
	}
	return out
}

// enrich populates the catalog-derived fields and reference classification
// described in spec §4.4 "Output enrichment". It returns a shallow copy so
// the memoized bundle's assets are never mutated by a request.
func enrich(b *artifact.Bundle, sources artifact.FreshnessMap, a *artifact.Asset, now time.Time) *artifact.Asset {
	out := *a
	out.Columns = mergedColumns(b, a)
	out.Children = append([]string(nil), b.ChildIndex[a.UniqueID]...)

	rec, _ := b.CatalogFor(a.UniqueID)
	if rec != nil {
		if rc := rowCount(rec); rc != nil {
			out.RowCount = rc
		}
	}

	if r := freshness.Resolve(sources, a.UniqueID, rec, a.Meta, a.CreatedAt, now); r.Found {
		out.LastUpdated = r.Timestamp.UTC().Format(time.RFC3339)
	}

	class := reference.Classify(a)
	out.IsReference = class.IsReference
	out.ReferenceReason = string(class.Reason)

	return &out
}

// mergedColumns unions the manifest's declared columns with the catalog's
// actual columns, preferring the catalog's declared type (spec §4.4).
func mergedColumns(b *artifact.Bundle, a *artifact.Asset) map[string]artifact.Column {
	merged := make(map[string]artifact.Column, len(a.Columns))
	for name, col := range a.Columns {
		merged[name] = col
	}
	if rec, ok := b.CatalogFor(a.UniqueID); ok {
		for name, col := range rec.Columns {
			existing := merged[name]
			if col.Type != "" {
				existing.DataType = col.Type
			}
			merged[name] = existing
		}
	}
	return merged
}

func rowCount(rec *artifact.CatalogRecord) *int64 {
	for _, key := range []string{"num_rows", "row_count"} {
		if v, ok := rec.Stats[key]; ok {
			if n, ok := numericStat(v); ok {
				return &n
			}
		}
	}
	return nil
}

// numericStat tolerates the catalog's three numeric shapes: a bare
// primitive, a {"value": primitive} wrapper, or a numeric string (spec §4.5
// "Volume check").
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
		if _, err := fmt.Sscanf(t, "%f", &f); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}
