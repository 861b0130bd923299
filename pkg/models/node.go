// Package models defines the domain types shared across the discovery service.
package models

import "strings"

// RelationType identifies a typed edge in the relationship graph.
type RelationType string

const (
	// RelationSibling connects all columns belonging to the same asset.
	RelationSibling RelationType = "SIBLING"

	// RelationMatch connects two columns of different assets that the schema
	// matcher found similar. Carries a similarity score in [0,1].
	RelationMatch RelationType = "MATCH"

	// RelationForeignKeyIND connects a dependent column to a referenced column
	// found by inclusion-dependency discovery.
	RelationForeignKeyIND RelationType = "FOREIGN_KEY_IND"

	// RelationForeignKeyMetanome connects a dependent column to a referenced
	// column found by the external functional-dependency discovery service.
	RelationForeignKeyMetanome RelationType = "FOREIGN_KEY_METANOME"
)

// SimilarityProperty is the edge property holding the schema-matcher score.
// A MATCH edge without it is considered unconfirmed and subject to pruning.
const SimilarityProperty = "similarity"

// Node represents one column of one ingested asset.
type Node struct {
	// ID is deterministic: "<source_path>/<column_name>". It is the join key
	// across the graph, the metadata index and the task layer.
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	SourceName string         `json:"source_name"`
	SourcePath string         `json:"source_path"`
	Profile    map[string]any `json:"profile,omitempty"`
}

// NodeID builds the deterministic node id for a column of an asset.
func NodeID(sourcePath, columnName string) string {
	return sourcePath + "/" + columnName
}

// OwningAsset derives the asset path that owns a node id by stripping the
// column suffix. The inverse of NodeID.
func OwningAsset(nodeID string) string {
	idx := strings.LastIndex(nodeID, "/")
	if idx < 0 {
		return nodeID
	}
	return nodeID[:idx]
}

// Relation is a typed edge between two column nodes. Direction is not
// semantically meaningful for traversal; FROM/TO ids restate direction
// explicitly for foreign-key edges because graph-native direction is
// unreliable across merge operations.
type Relation struct {
	ID          int64          `json:"id"`
	Type        RelationType   `json:"type"`
	StartNodeID string         `json:"start_node_id"`
	EndNodeID   string         `json:"end_node_id"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Similarity returns the schema-matcher score carried by the relation, and
// whether one is present at all.
func (r *Relation) Similarity() (float64, bool) {
	if r.Properties == nil {
		return 0, false
	}
	v, ok := r.Properties[SimilarityProperty]
	if !ok {
		return 0, false
	}
	switch f := v.(type) {
	case float64:
		return f, true
	case int64:
		return float64(f), true
	default:
		return 0, false
	}
}

// Path is one shortest path between two assets, expressed as its relations.
type Path struct {
	Relations []Relation `json:"relations"`
}

// RelatedResult explains one chain of MATCH hops connecting two assets.
type RelatedResult struct {
	Explanation string   `json:"explanation"`
	Links       []string `json:"links"`
}

// ColumnMatch is one corroborating column pair behind a joinable candidate.
type ColumnMatch struct {
	FromID     string       `json:"from_id"`
	ToID       string       `json:"to_id"`
	Relation   RelationType `json:"relation"`
	Similarity float64      `json:"similarity"`
}

// JoinableTable is one ranked candidate asset from a joinability lookup.
type JoinableTable struct {
	TableName string        `json:"table_name"`
	TablePath string        `json:"table_path"`
	Matches   []ColumnMatch `json:"matches"`
}
