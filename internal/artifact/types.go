// Package artifact loads and indexes the manifest/catalog pair that the
// rest of the engine traverses: the declarative dependency graph (manifest)
// and its physical statistics counterpart (catalog).
package artifact

// Kind enumerates the resource types an Asset can represent.
type Kind string

const (
	KindModel    Kind = "model"
	KindSeed     Kind = "seed"
	KindTest     Kind = "test"
	KindSource   Kind = "source"
	KindSnapshot Kind = "snapshot"
	KindMacro    Kind = "macro"
	KindOther    Kind = "other"
)

// TestMetadata carries the generic-test attributes a manifest node of kind
// "test" declares: its namespace, the generic test name, and keyword args.
type TestMetadata struct {
	Name      string         `json:"name"`
	Namespace string         `json:"namespace"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
}

// Column is the declared shape of a column as the manifest records it.
type Column struct {
	Description string `json:"description,omitempty"`
	DataType    string `json:"data_type,omitempty"`
}

// DependsOn is the raw dependency edge set a manifest node declares.
type DependsOn struct {
	Nodes  []string `json:"nodes,omitempty"`
	Macros []string `json:"macros,omitempty"`
}

// NodeConfig carries the subset of a manifest node's `config` block the engine
// reads.
type NodeConfig struct {
	Materialized string `json:"materialized,omitempty"`
	Severity     string `json:"severity,omitempty"`
}

// Asset is one entity from the manifest's nodes ∪ sources ∪ macros union,
// keyed by its unique_id (see spec §3, "Asset").
type Asset struct {
	UniqueID     string            `json:"unique_id"`
	Name         string            `json:"name"`
	Kind         Kind              `json:"resource_type"`
	Database     string            `json:"database,omitempty"`
	Schema       string            `json:"schema,omitempty"`
	Description  string            `json:"description,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Columns      map[string]Column `json:"columns,omitempty"`
	Meta         map[string]any    `json:"meta,omitempty"`
	Config       NodeConfig        `json:"config,omitempty"`
	DependsOn    DependsOn         `json:"depends_on,omitempty"`
	TestMetadata *TestMetadata     `json:"test_metadata,omitempty"`
	FileKeyName  string            `json:"file_key_name,omitempty"`
	CreatedAt    *float64          `json:"created_at,omitempty"`

	// Enrichment fields, populated by the lineage engine (spec §4.4) rather
	// than read off disk. Left zero-valued on assets returned straight from
	// the store.
	RowCount        *int64   `json:"row_count,omitempty"`
	LastUpdated     string   `json:"last_updated,omitempty"`
	Children        []string `json:"children,omitempty"`
	IsReference     bool     `json:"is_reference"`
	ReferenceReason string   `json:"reference_reason,omitempty"`
}

// ParentIDs returns the deduplicated, order-preserving union of the node's
// dependency ids (manifest nodes and macros both count as parents for
// traversal purposes — spec §4.4).
func (a *Asset) ParentIDs() []string {
	seen := make(map[string]struct{}, len(a.DependsOn.Nodes)+len(a.DependsOn.Macros))
	out := make([]string, 0, len(a.DependsOn.Nodes)+len(a.DependsOn.Macros))
	for _, id := range a.DependsOn.Nodes {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range a.DependsOn.Macros {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Stat is a catalog statistic value, which upstream sometimes emits as a
// bare primitive and sometimes as a {"value": primitive} wrapper.
type Stat struct {
	Value any `json:"value"`
}

// CatalogColumn is the physical counterpart of a manifest Column.
type CatalogColumn struct {
	Type     string `json:"type,omitempty"`
	Index    int    `json:"index,omitempty"`
	Comment  string `json:"comment,omitempty"`
	Nullable *bool  `json:"nullable,omitempty"`
}

// CatalogMetadata is the per-entry metadata block in catalog.json.
type CatalogMetadata struct {
	Schema    string `json:"schema,omitempty"`
	Name      string `json:"name,omitempty"`
	Type      string `json:"type,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Comment   string `json:"comment,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// CatalogRecord is the physical statistics counterpart of an Asset, keyed
// by the same unique_id (spec §3, "Catalog Record").
type CatalogRecord struct {
	Metadata CatalogMetadata          `json:"metadata"`
	Columns  map[string]CatalogColumn `json:"columns,omitempty"`
	Stats    map[string]any           `json:"stats,omitempty"`
}

// ManifestFileMetadata is the top-level `metadata` block of manifest.json.
type ManifestFileMetadata struct {
	DbtSchemaVersion string `json:"dbt_schema_version"`
	DbtVersion       string `json:"dbt_version"`
	GeneratedAt      string `json:"generated_at"`
}

// RawManifest is the on-disk shape of manifest.json (spec §6, "Manifest
// JSON contract").
type RawManifest struct {
	Metadata ManifestFileMetadata `json:"metadata"`
	Nodes    map[string]*Asset    `json:"nodes"`
	Sources  map[string]*Asset    `json:"sources"`
	Macros   map[string]*Asset    `json:"macros"`
}

// RawCatalog is the on-disk shape of catalog.json.
type RawCatalog struct {
	Metadata CatalogMetadata           `json:"metadata"`
	Nodes    map[string]*CatalogRecord `json:"nodes"`
	Sources  map[string]*CatalogRecord `json:"sources"`
}

// FreshnessRecord is a single source's entry in sources.json.
type FreshnessRecord struct {
	MaxLoadedAt   string `json:"max_loaded_at,omitempty"`
	SnapshottedAt string `json:"snapshotted_at,omitempty"`
}

// FreshnessMap is the parsed sources.json: source unique_id -> freshness.
type FreshnessMap map[string]FreshnessRecord

// ChildIndex is the inverse of the depends_on relation: parent id -> the
// ordered ids of assets that declared it as a dependency (spec §3, "Child
// Index").
type ChildIndex map[string][]string

// Manifest is the parsed, merged in-memory manifest: the node/source/macro
// union plus the raw file metadata needed for the bundle signature.
type Manifest struct {
	Metadata ManifestFileMetadata
	Nodes    map[string]*Asset // nodes only
	Sources  map[string]*Asset
	Macros   map[string]*Asset
	// Union is nodes ∪ sources ∪ macros, built once at load time (spec §9
	// Open Question: the canonical merged view).
	Union map[string]*Asset
}

// Catalog is the parsed catalog.json, or nil if the catalog was absent
// (spec §4.1, "Failure modes": missing catalog degrades, it doesn't fail).
type Catalog struct {
	Metadata CatalogMetadata
	Union    map[string]*CatalogRecord
}

// Bundle is the combined in-memory representation described in spec §3,
// "Manifest Bundle": the asset map, the catalog map, and the derived Child
// Index.
type Bundle struct {
	Manifest   *Manifest
	Catalog    *Catalog // nil if no catalog was loaded
	ChildIndex ChildIndex
	Signature  string
}

// Asset looks the id up in the merged node ∪ source ∪ macro view.
func (b *Bundle) Asset(id string) (*Asset, bool) {
	a, ok := b.Manifest.Union[id]
	return a, ok
}

// CatalogFor looks up the catalog record for id, if a catalog is loaded.
func (b *Bundle) CatalogFor(id string) (*CatalogRecord, bool) {
	if b.Catalog == nil {
		return nil, false
	}
	rec, ok := b.Catalog.Union[id]
	return rec, ok
}
