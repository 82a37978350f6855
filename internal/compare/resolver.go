// Package compare implements C3, the point-in-time comparison resolver: it
// selects the (current, previous) artifact pair the rest of a request
// operates against, from query parameters, snapshot directories, or backup
// files (spec §4.3).
package compare

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
)

// SourceTag names where a Slot's data came from, for the response
// metadata's "comparison" descriptor.
type SourceTag string

const (
	SourceCurrent  SourceTag = "current"
	SourceSnapshot SourceTag = "snapshot"
	SourceExplicit SourceTag = "explicit"
	SourceBackup   SourceTag = "backup"
	SourceAuto     SourceTag = "auto"
	SourceNone     SourceTag = "none"
)

// Slot is one side of a comparison pair.
type Slot struct {
	Manifest  *artifact.Manifest
	Catalog   *artifact.Catalog
	Sources   artifact.FreshnessMap
	Source    SourceTag
	Label     string // snapshot label, when Source == SourceSnapshot
}

// Pair is the resolved (current, previous) comparison.
type Pair struct {
	Current  Slot
	Previous Slot
}

// Request carries the comparison-relevant query parameters from an
// incoming HTTP request (spec §4.3 "Resolution rules").
type Request struct {
	CurrentSnapshot       string
	PreviousSnapshot      string
	CurrentManifestPath   string
	CurrentCatalogPath    string
	PreviousManifestPath  string
	PreviousCatalogPath   string
}

// Resolver resolves comparison pairs against a working directory that
// holds the current bundle's files, its optional *_backup.json siblings,
// and a samples/adventureworks-batches/ snapshot tree.
type Resolver struct {
	workDir      string
	snapshotRoot string
	store        *artifact.Store
}

// NewResolver creates a Resolver. workDir bounds path-safety checks
// (spec §4.3 "Path safety"); snapshotRoot is the directory holding labelled
// snapshot subdirectories (spec §6 "Artifact file layout").
func NewResolver(workDir, snapshotRoot string, store *artifact.Store) *Resolver {
	return &Resolver{workDir: workDir, snapshotRoot: snapshotRoot, store: store}
}

// Resolve implements the current/previous selection rules of spec §4.3.
func (r *Resolver) Resolve(ctx context.Context, req Request, current *artifact.Bundle) (*Pair, error) {
	curSlot, err := r.resolveCurrent(ctx, req, current)
	if err != nil {
		return nil, err
	}
	prevSlot, err := r.resolvePrevious(ctx, req, current)
	if err != nil {
		return nil, err
	}
	return &Pair{Current: curSlot, Previous: prevSlot}, nil
}

func (r *Resolver) resolveCurrent(ctx context.Context, req Request, current *artifact.Bundle) (Slot, error) {
	if req.CurrentSnapshot != "" {
		return r.loadSnapshot(ctx, req.CurrentSnapshot)
	}
	if req.CurrentManifestPath != "" || req.CurrentCatalogPath != "" {
		if req.CurrentManifestPath == "" || req.CurrentCatalogPath == "" {
			return Slot{}, fmt.Errorf("compare: current manifest/catalog paths must both be supplied")
		}
		return r.loadExplicit(ctx, req.CurrentManifestPath, req.CurrentCatalogPath)
	}
	return Slot{Manifest: current.Manifest, Catalog: current.Catalog, Source: SourceCurrent}, nil
}

func (r *Resolver) resolvePrevious(ctx context.Context, req Request, current *artifact.Bundle) (Slot, error) {
	if req.PreviousSnapshot != "" {
		return r.loadSnapshot(ctx, req.PreviousSnapshot)
	}
	if req.PreviousManifestPath != "" || req.PreviousCatalogPath != "" {
		if req.PreviousManifestPath == "" || req.PreviousCatalogPath == "" {
			return Slot{}, fmt.Errorf("compare: previous manifest/catalog paths must both be supplied")
		}
		return r.loadExplicit(ctx, req.PreviousManifestPath, req.PreviousCatalogPath)
	}
	if slot, ok, err := r.loadBackup(ctx); err != nil {
		return Slot{}, err
	} else if ok {
		return slot, nil
	}
	if slot, ok, err := r.loadLastDifferingSnapshot(ctx, current); err != nil {
		return Slot{}, err
	} else if ok {
		return slot, nil
	}
	return Slot{Source: SourceNone}, nil
}

func (r *Resolver) loadExplicit(ctx context.Context, manifestRel, catalogRel string) (Slot, error) {
	manifestPath, err := artifact.ResolvePath(r.workDir, manifestRel)
	if err != nil {
		return Slot{}, err
	}
	catalogPath, err := artifact.ResolvePath(r.workDir, catalogRel)
	if err != nil {
		return Slot{}, err
	}
	return r.loadTriple(ctx, manifestPath, catalogPath, "", SourceExplicit, "")
}

func (r *Resolver) loadBackup(ctx context.Context) (Slot, bool, error) {
	manifestPath := filepath.Join(r.workDir, "manifest_backup.json")
	catalogPath := filepath.Join(r.workDir, "catalog_backup.json")
	if !fileExists(manifestPath) || !fileExists(catalogPath) {
		return Slot{}, false, nil
	}
	slot, err := r.loadTriple(ctx, manifestPath, catalogPath, "", SourceBackup, "")
	if err != nil {
		return Slot{}, false, err
	}
	return slot, true, nil
}

func (r *Resolver) loadSnapshot(ctx context.Context, label string) (Slot, error) {
	dir := filepath.Join(r.snapshotRoot, label)
	manifestPath := filepath.Join(dir, "manifest.json")
	catalogPath := filepath.Join(dir, "catalog.json")
	sourcesPath := filepath.Join(dir, "sources.json")
	slot, err := r.loadTriple(ctx, manifestPath, catalogPath, sourcesPath, SourceSnapshot, label)
	if err != nil {
		return Slot{}, fmt.Errorf("compare: failed to load snapshot %q: %w", label, err)
	}
	return slot, nil
}

// loadLastDifferingSnapshot falls back to the lexicographically-last
// snapshot label whose generated_at differs from the current bundle's
// (spec §4.3, final previous-slot fallback).
func (r *Resolver) loadLastDifferingSnapshot(ctx context.Context, current *artifact.Bundle) (Slot, bool, error) {
	labels, err := r.listSnapshotLabels()
	if err != nil || len(labels) == 0 {
		return Slot{}, false, nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(labels)))
	for _, label := range labels {
		slot, err := r.loadSnapshot(ctx, label)
		if err != nil {
			continue
		}
		if slot.Manifest != nil && slot.Manifest.Metadata.GeneratedAt != current.Manifest.Metadata.GeneratedAt {
			return slot, true, nil
		}
	}
	return Slot{}, false, nil
}

// listSnapshotLabels reads the sibling index.json if present, else lists
// the snapshot-root subdirectories directly.
func (r *Resolver) listSnapshotLabels() ([]string, error) {
	indexPath := filepath.Join(filepath.Dir(r.snapshotRoot), "index.json")
	if data, err := os.ReadFile(indexPath); err == nil {
		var labels []string
		if jsonErr := json.Unmarshal(data, &labels); jsonErr == nil {
			return labels, nil
		}
	}
	entries, err := os.ReadDir(r.snapshotRoot)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, e := range entries {
		if e.IsDir() {
			labels = append(labels, e.Name())
		}
	}
	return labels, nil
}

func (r *Resolver) loadTriple(ctx context.Context, manifestPath, catalogPath, sourcesPath string, tag SourceTag, label string) (Slot, error) {
	store, err := artifact.NewStore(manifestPath, catalogPath, sourcesPath, 1, nil)
	if err != nil {
		return Slot{}, err
	}
	bundle, err := store.Bundle(ctx)
	if err != nil {
		return Slot{}, err
	}
	var sources artifact.FreshnessMap
	if sourcesPath != "" {
		sources, _ = store.LoadSources(ctx, sourcesPath)
	}
	return Slot{
		Manifest: bundle.Manifest,
		Catalog:  bundle.Catalog,
		Sources:  sources,
		Source:   tag,
		Label:    label,
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
