package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store loads, parses, and memoizes the manifest/catalog bundle for the
// process lifetime (spec §4.1, C1). The memoized bundle is held behind an
// atomic.Pointer so readers never block on the loader's mutex once a bundle
// is in place — the same shape the teacher's config.ReloadCoordinator uses
// to publish a new *Config without making readers contend with the writer.
type Store struct {
	manifestPath string
	catalogPath  string
	sourcesPath  string

	logger *slog.Logger

	current   atomic.Pointer[Bundle]
	loadMu    sync.Mutex // serializes concurrent first-load / reload attempts
	lastValid atomic.Pointer[string]

	freshnessCache *lru.Cache[string, freshnessCacheEntry]
}

type freshnessCacheEntry struct {
	modTime time.Time
	data    FreshnessMap
}

// NewStore creates a Store bound to the given artifact paths. freshnessLRU
// bounds the number of distinct sources.json paths (one per snapshot label
// visited) kept in memory at once; spec §4.1 only requires "cached per
// absolute path, validated against mtime" — the bound keeps that cache from
// growing without limit across many distinct snapshots over a long-running
// process.
func NewStore(manifestPath, catalogPath, sourcesPath string, freshnessLRU int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if freshnessLRU <= 0 {
		freshnessLRU = 32
	}
	cache, err := lru.New[string, freshnessCacheEntry](freshnessLRU)
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to create freshness cache: %w", err)
	}
	return &Store{
		manifestPath:   manifestPath,
		catalogPath:    catalogPath,
		sourcesPath:    sourcesPath,
		logger:         logger,
		freshnessCache: cache,
	}, nil
}

// Bundle returns the memoized current bundle, loading and validating it on
// first use, and re-validating it if its signature has drifted since the
// last check (spec §3 Lifecycle, §4.1 Re-validation).
func (s *Store) Bundle(ctx context.Context) (*Bundle, error) {
	if b := s.current.Load(); b != nil {
		sig := Signature(b.Manifest)
		if last := s.lastValid.Load(); last != nil && *last == sig {
			return b, nil
		}
		// Signature drifted (or never validated) — fall through to reload.
	}
	return s.reload(ctx)
}

// ClearAll drops the memoized bundle and freshness cache, forcing the next
// Bundle() call to load from disk (spec C1 contract: clear_all()). Used by
// the cache-admin reset surface and by the SIGHUP reload handler.
func (s *Store) ClearAll() {
	s.current.Store(nil)
	s.lastValid.Store(nil)
	s.freshnessCache.Purge()
}

func (s *Store) reload(ctx context.Context) (*Bundle, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	// Another goroutine may have already reloaded while we waited.
	if b := s.current.Load(); b != nil {
		sig := Signature(b.Manifest)
		if last := s.lastValid.Load(); last != nil && *last == sig {
			return b, nil
		}
	}

	manifest, err := s.loadManifest(ctx, s.manifestPath)
	if err != nil {
		return nil, err
	}
	catalog, err := s.loadCatalog(ctx, s.catalogPath)
	if err != nil {
		s.logger.Warn("catalog load failed, continuing without catalog", "path", s.catalogPath, "error", err)
		catalog = nil
	}

	bundle := &Bundle{
		Manifest:   manifest,
		Catalog:    catalog,
		ChildIndex: BuildChildIndex(manifest.Union),
		Signature:  Signature(manifest),
	}

	result := Validate(manifest)
	if !result.MetadataPresent || !result.HasNodes {
		s.logger.Warn("manifest failed structural validation (advisory only)",
			"metadata_present", result.MetadataPresent,
			"has_nodes", result.HasNodes,
			"cycles_detected", len(result.Cycles))
	} else if len(result.Cycles) > 0 {
		s.logger.Warn("dependency graph contains cycles (advisory only)", "cycles", len(result.Cycles))
	}

	s.current.Store(bundle)
	sig := bundle.Signature
	s.lastValid.Store(&sig)
	return bundle, nil
}

func (s *Store) loadManifest(ctx context.Context, path string) (*Manifest, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	var raw RawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Path: path, Cause: fmt.Errorf("malformed manifest json: %w", err)}
	}
	if raw.Nodes == nil {
		raw.Nodes = map[string]*Asset{}
	}
	if raw.Sources == nil {
		raw.Sources = map[string]*Asset{}
	}
	if raw.Macros == nil {
		raw.Macros = map[string]*Asset{}
	}

	union := make(map[string]*Asset, len(raw.Nodes)+len(raw.Sources)+len(raw.Macros))
	for id, a := range raw.Nodes {
		a.UniqueID = id
		union[id] = a
	}
	for id, a := range raw.Sources {
		a.UniqueID = id
		if a.Kind == "" {
			a.Kind = KindSource
		}
		union[id] = a
	}
	for id, a := range raw.Macros {
		a.UniqueID = id
		if a.Kind == "" {
			a.Kind = KindMacro
		}
		union[id] = a
	}

	return &Manifest{
		Metadata: raw.Metadata,
		Nodes:    raw.Nodes,
		Sources:  raw.Sources,
		Macros:   raw.Macros,
		Union:    union,
	}, nil
}

func (s *Store) loadCatalog(ctx context.Context, path string) (*Catalog, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	var raw RawCatalog
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed catalog json: %w", err)
	}
	union := make(map[string]*CatalogRecord, len(raw.Nodes)+len(raw.Sources))
	for id, rec := range raw.Nodes {
		union[id] = rec
	}
	for id, rec := range raw.Sources {
		union[id] = rec
	}
	return &Catalog{Metadata: raw.Metadata, Union: union}, nil
}

// LoadSources loads and caches the source-freshness file at path, keyed by
// path and validated against the file's modification time (spec §4.1
// "Freshness map caching"). Returns (nil, nil) if the file is absent —
// freshness falls back to other sources per spec §4.1 "Failure modes".
func (s *Store) LoadSources(ctx context.Context, path string) (FreshnessMap, error) {
	if path == "" {
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if entry, ok := s.freshnessCache.Get(path); ok && entry.modTime.Equal(info.ModTime()) {
		return entry.data, nil
	}

	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	var fm FreshnessMap
	if err := json.Unmarshal(data, &fm); err != nil {
		return nil, fmt.Errorf("malformed sources json: %w", err)
	}
	s.freshnessCache.Add(path, freshnessCacheEntry{modTime: info.ModTime(), data: fm})
	return fm, nil
}

func readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Signature computes the bundle-drift fingerprint described in spec §4.1:
// "{dbt_version}:{generated_at}:{|nodes|}:{|sources|}:{|macros|}".
func Signature(m *Manifest) string {
	return fmt.Sprintf("%s:%s:%d:%d:%d",
		m.Metadata.DbtVersion, m.Metadata.GeneratedAt,
		len(m.Nodes), len(m.Sources), len(m.Macros))
}

// BuildChildIndex builds the inverse-dependency index in one pass over the
// merged node view (spec §4.1 Algorithm, §8 "Child Index correctness").
func BuildChildIndex(union map[string]*Asset) ChildIndex {
	idx := make(ChildIndex, len(union))
	for id, asset := range union {
		for _, parent := range asset.ParentIDs() {
			idx[parent] = append(idx[parent], id)
		}
	}
	return idx
}

// ResolvePath resolves a caller-supplied path against workDir and rejects
// it unless it stays within workDir and ends in ".json" (spec §4.3 "Path
// safety", §9 design note).
func ResolvePath(workDir, supplied string) (string, error) {
	if supplied == "" {
		return "", &PathError{Path: supplied, Reason: "empty path"}
	}
	if !strings.HasSuffix(supplied, ".json") {
		return "", &PathError{Path: supplied, Reason: "must have .json suffix"}
	}
	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return "", err
	}
	var candidate string
	if filepath.IsAbs(supplied) {
		candidate = filepath.Clean(supplied)
	} else {
		candidate = filepath.Clean(filepath.Join(absWork, supplied))
	}
	rel, err := filepath.Rel(absWork, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathError{Path: supplied, Reason: "resolves outside working directory"}
	}
	return candidate, nil
}
