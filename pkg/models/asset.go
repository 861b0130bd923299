package models

// Column holds one parsed column of a tabular asset. Values are kept as raw
// strings; typing is the profiler's concern.
type Column struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Table is a parsed tabular asset, bounded by the configured row sample.
type Table struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Columns []Column `json:"columns"`
}

// Column returns the named column, or nil when the table does not have it.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// AssetRecord is the metadata index entry for one ingested asset. Its
// presence is the idempotency marker: an asset with a record is never
// re-ingested.
type AssetRecord struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	ColumnCount int    `json:"column_count"`
	// SchemaHash fingerprints the table shape the record was built from.
	SchemaHash string `json:"schema_hash"`
	// Nodes maps column name to graph node id.
	Nodes map[string]string `json:"nodes"`
}

// ColumnPair identifies a pair of columns across two tables by name.
type ColumnPair struct {
	A string
	B string
}

// FDCandidate is one dependent/referenced column pair reported by
// functional-dependency discovery, addressed as "path/column" node ids.
type FDCandidate struct {
	DependentID  string `json:"dependent_id"`
	ReferencedID string `json:"referenced_id"`
}

// CrossAsset reports whether the candidate spans two different assets.
// Same-asset pairs are discarded before any edge is created.
func (c FDCandidate) CrossAsset() bool {
	return OwningAsset(c.DependentID) != OwningAsset(c.ReferencedID)
}
