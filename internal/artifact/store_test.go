package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `{
	"metadata": {"dbt_version": "1.7.0", "generated_at": "2026-07-31T00:00:00Z"},
	"nodes": {
		"model.x.orders": {
			"unique_id": "model.x.orders",
			"name": "orders",
			"resource_type": "model",
			"depends_on": {"nodes": ["source.x.raw.orders"]}
		}
	},
	"sources": {
		"source.x.raw.orders": {
			"unique_id": "source.x.raw.orders",
			"name": "orders",
			"resource_type": "source"
		}
	},
	"macros": {}
}`

const testCatalog = `{
	"metadata": {"type": "catalog"},
	"nodes": {
		"model.x.orders": {"metadata": {"type": "table"}, "stats": {"row_count": {"value": 42}}}
	},
	"sources": {}
}`

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStore_BundleLoadsAndMemoizes(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)
	catalogPath := writeFixture(t, dir, "catalog.json", testCatalog)

	store, err := NewStore(manifestPath, catalogPath, "", 0, nil)
	require.NoError(t, err)

	bundle, err := store.Bundle(context.Background())
	require.NoError(t, err)
	assert.Len(t, bundle.Manifest.Union, 2)
	asset, ok := bundle.Asset("model.x.orders")
	require.True(t, ok)
	assert.Equal(t, "orders", asset.Name)

	rec, ok := bundle.CatalogFor("model.x.orders")
	require.True(t, ok)
	assert.Equal(t, "table", rec.Metadata.Type)

	again, err := store.Bundle(context.Background())
	require.NoError(t, err)
	assert.Same(t, bundle, again)
}

func TestStore_MissingCatalogDegradesNotFails(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)
	missingCatalog := filepath.Join(dir, "does-not-exist.json")

	store, err := NewStore(manifestPath, missingCatalog, "", 0, nil)
	require.NoError(t, err)

	bundle, err := store.Bundle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, bundle.Catalog)
	_, ok := bundle.CatalogFor("model.x.orders")
	assert.False(t, ok)
}

func TestStore_MalformedManifestFails(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", "{not json")

	store, err := NewStore(manifestPath, "", "", 0, nil)
	require.NoError(t, err)

	_, err = store.Bundle(context.Background())
	assert.Error(t, err)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestStore_ClearAllForcesReload(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)

	store, err := NewStore(manifestPath, "", "", 0, nil)
	require.NoError(t, err)

	first, err := store.Bundle(context.Background())
	require.NoError(t, err)

	store.ClearAll()

	second, err := store.Bundle(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Signature, second.Signature)
}

func TestStore_ChangedManifestIsPickedUpOnlyAfterClearAll(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)

	store, err := NewStore(manifestPath, "", "", 0, nil)
	require.NoError(t, err)

	first, err := store.Bundle(context.Background())
	require.NoError(t, err)

	updated := `{
		"metadata": {"dbt_version": "1.8.0", "generated_at": "2026-08-01T00:00:00Z"},
		"nodes": {}, "sources": {}, "macros": {}
	}`
	writeFixture(t, dir, "manifest.json", updated)

	memoized, err := store.Bundle(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, memoized)

	store.ClearAll()

	second, err := store.Bundle(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Signature, second.Signature)
	assert.Empty(t, second.Manifest.Union)
}

func TestLoadSources_CachesByPathAndModTime(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)
	sourcesPath := writeFixture(t, dir, "sources.json", `{"source.x.raw.orders": {"max_loaded_at": "2026-07-31T10:00:00Z"}}`)

	store, err := NewStore(manifestPath, "", "", 0, nil)
	require.NoError(t, err)

	fm, err := store.LoadSources(context.Background(), sourcesPath)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-31T10:00:00Z", fm["source.x.raw.orders"].MaxLoadedAt)

	again, err := store.LoadSources(context.Background(), sourcesPath)
	require.NoError(t, err)
	assert.Equal(t, fm, again)
}

func TestLoadSources_MissingFileReturnsNilNotError(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)
	store, err := NewStore(manifestPath, "", "", 0, nil)
	require.NoError(t, err)

	fm, err := store.LoadSources(context.Background(), filepath.Join(dir, "missing.json"))
	assert.NoError(t, err)
	assert.Nil(t, fm)
}

func TestLoadSources_EmptyPathReturnsNilNil(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)
	store, err := NewStore(manifestPath, "", "", 0, nil)
	require.NoError(t, err)

	fm, err := store.LoadSources(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, fm)
}

func TestSignature_ChangesWithNodeCounts(t *testing.T) {
	a := &Manifest{Metadata: ManifestFileMetadata{DbtVersion: "1.7.0"}, Nodes: map[string]*Asset{"x": {}}}
	b := &Manifest{Metadata: ManifestFileMetadata{DbtVersion: "1.7.0"}, Nodes: map[string]*Asset{"x": {}, "y": {}}}
	assert.NotEqual(t, Signature(a), Signature(b))
}

func TestBuildChildIndex(t *testing.T) {
	union := map[string]*Asset{
		"a": {UniqueID: "a"},
		"b": {UniqueID: "b", DependsOn: DependsOn{Nodes: []string{"a"}}},
		"c": {UniqueID: "c", DependsOn: DependsOn{Nodes: []string{"a"}}},
	}
	idx := BuildChildIndex(union)
	assert.ElementsMatch(t, []string{"b", "c"}, idx["a"])
	assert.Empty(t, idx["b"])
}

func TestResolvePath_RejectsEmpty(t *testing.T) {
	_, err := ResolvePath("/work", "")
	assert.Error(t, err)
}

func TestResolvePath_RejectsNonJSONSuffix(t *testing.T) {
	_, err := ResolvePath("/work", "manifest.yaml")
	assert.Error(t, err)
}

func TestResolvePath_RejectsEscapeFromWorkDir(t *testing.T) {
	_, err := ResolvePath("/work/sub", "../../etc/passwd.json")
	assert.Error(t, err)
}

func TestResolvePath_AcceptsRelativePathWithinWorkDir(t *testing.T) {
	dir := t.TempDir()
	got, err := ResolvePath(dir, "target/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "target", "manifest.json"), got)
}

func TestResolvePath_AcceptsAbsolutePathWithinWorkDir(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "manifest.json")
	got, err := ResolvePath(dir, abs)
	require.NoError(t, err)
	assert.Equal(t, abs, got)
}

func TestStore_BundleRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)
	store, err := NewStore(manifestPath, "", "", 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Bundle(ctx)
	assert.Error(t, err)
}

func TestStore_ConcurrentBundleCallsReturnSameInstance(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)
	store, err := NewStore(manifestPath, "", "", 0, nil)
	require.NoError(t, err)

	results := make(chan *Bundle, 8)
	for i := 0; i < 8; i++ {
		go func() {
			b, err := store.Bundle(context.Background())
			require.NoError(t, err)
			results <- b
		}()
	}

	first := <-results
	for i := 1; i < 8; i++ {
		got := <-results
		assert.Same(t, first, got)
	}
}

func TestStore_NewStoreDefaultsFreshnessLRU(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)
	store, err := NewStore(manifestPath, "", "", -1, nil)
	require.NoError(t, err)
	assert.NotNil(t, store.freshnessCache)
}

func TestLoadSources_InvalidatesOnModTimeChange(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFixture(t, dir, "manifest.json", testManifest)
	sourcesPath := writeFixture(t, dir, "sources.json", `{"a": {"max_loaded_at": "2026-07-31T00:00:00Z"}}`)

	store, err := NewStore(manifestPath, "", "", 0, nil)
	require.NoError(t, err)

	first, err := store.LoadSources(context.Background(), sourcesPath)
	require.NoError(t, err)

	// Force a distinct mtime, then rewrite content.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(sourcesPath, []byte(`{"a": {"max_loaded_at": "2026-08-01T00:00:00Z"}}`), 0o644))
	require.NoError(t, os.Chtimes(sourcesPath, future, future))

	second, err := store.LoadSources(context.Background(), sourcesPath)
	require.NoError(t, err)
	assert.NotEqual(t, first["a"].MaxLoadedAt, second["a"].MaxLoadedAt)
}
