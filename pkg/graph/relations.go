package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

// RelationService handles typed-edge operations in the relationship graph.
// Edges are stored directionally by the database but treated as undirected:
// merges and matches use undirected patterns throughout.
type RelationService struct {
	client *Client
	logger ectologger.Logger
}

// NewRelationService creates a new relation service
func NewRelationService(client *Client, logger ectologger.Logger) *RelationService {
	return &RelationService{
		client: client,
		logger: logger,
	}
}

// Neighbor is a node reachable over a single typed edge.
type Neighbor struct {
	Node     models.Node
	Relation models.Relation
}

// MergeRelation upserts a typed edge between two nodes. Merge is undirected,
// so two calls with swapped endpoints still yield exactly one edge.
func (s *RelationService) MergeRelation(ctx context.Context, aID, bID string, relType models.RelationType) error {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationService.MergeRelation")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (a:Column {id: $a_id}) WITH a
		MATCH (b:Column {id: $b_id})
		MERGE (a)-[r:%s]-(b)
		RETURN type(r)
	`, sanitizeRelType(relType))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"a_id": aID, "b_id": bID})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to merge %s relation %s -> %s", relType, aID, bID)
		return fmt.Errorf("failed to merge relation: %w", err)
	}
	return nil
}

// SetRelationProperties sets properties on an existing typed edge between two
// nodes, matching the edge in either direction.
func (s *RelationService) SetRelationProperties(ctx context.Context, aID, bID string, relType models.RelationType, props map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationService.SetRelationProperties")
	defer span.End()

	if len(props) == 0 {
		return nil
	}

	cypher := fmt.Sprintf(`
		MATCH (a:Column {id: $a_id})-[r:%s]-(b:Column {id: $b_id})
		SET r += $props
		RETURN r
	`, sanitizeRelType(relType))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"a_id": aID, "b_id": bID, "props": props})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to set relation properties: %w", err)
	}
	return nil
}

// CreateSubsumptionRelations merges SIBLING edges between every unordered
// pair of the asset's columns. O(k^2) in column count, acceptable for table
// widths.
func (s *RelationService) CreateSubsumptionRelations(ctx context.Context, sourcePath string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationService.CreateSubsumptionRelations")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (a:Column {source_path: $source_path}) WITH a
		MATCH (b:Column {source_path: $source_path})
		WHERE NOT (a.id = b.id)
		MERGE (a)-[s:%s]-(b)
		RETURN type(s)
	`, sanitizeRelType(models.RelationSibling))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"source_path": sourcePath})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to create sibling relations for %s: %w", sourcePath, err)
	}
	return nil
}

// DeleteByID deletes one edge by its database id.
func (s *RelationService) DeleteByID(ctx context.Context, relID int64) error {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationService.DeleteByID")
	defer span.End()

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH ()-[r]-() WHERE id(r) = $rel_id DELETE r",
			map[string]any{"rel_id": relID})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to delete relation %d: %w", relID, err)
	}
	return nil
}

// DeleteByType deletes every edge of the given type.
func (s *RelationService) DeleteByType(ctx context.Context, relType models.RelationType) error {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationService.DeleteByType")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH ()-[r:%s]-()
		DELETE r
	`, sanitizeRelType(relType))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s relations: %w", relType, err)
	}
	return nil
}

// MatchRelations returns every MATCH edge in the graph with its properties.
func (s *RelationService) MatchRelations(ctx context.Context) ([]models.Relation, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationService.MatchRelations")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (a:Column)-[r:%s]->(b:Column)
		RETURN id(r) AS rel_id, a.id AS a_id, b.id AS b_id, properties(r) AS props
	`, sanitizeRelType(models.RelationMatch))

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}

		var relations []models.Relation
		for result.Next(ctx) {
			record := result.Record()
			rel := models.Relation{Type: models.RelationMatch}
			if v, ok := record.Get("rel_id"); ok {
				rel.ID, _ = v.(int64)
			}
			if v, ok := record.Get("a_id"); ok {
				rel.StartNodeID, _ = v.(string)
			}
			if v, ok := record.Get("b_id"); ok {
				rel.EndNodeID, _ = v.(string)
			}
			if v, ok := record.Get("props"); ok {
				rel.Properties, _ = v.(map[string]any)
			}
			relations = append(relations, rel)
		}
		return relations, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list match relations: %w", err)
	}
	return res.([]models.Relation), nil
}

// ShortestPaths returns every shortest path connecting a column of fromPath
// to a column of toPath over MATCH and SIBLING edges. One path is produced
// per reachable column pair; sibling variants are collapsed by the caller.
func (s *RelationService) ShortestPaths(ctx context.Context, fromPath, toPath string) ([]models.Path, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationService.ShortestPaths")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (n:Column {source_path: $from_path}),
		      (m:Column {source_path: $to_path}),
		      p = shortestPath((n)-[:%s|%s*]-(m))
		RETURN p
	`, sanitizeRelType(models.RelationMatch), sanitizeRelType(models.RelationSibling))

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"from_path": fromPath, "to_path": toPath})
		if err != nil {
			return nil, err
		}

		var paths []models.Path
		for result.Next(ctx) {
			raw, ok := result.Record().Get("p")
			if !ok {
				continue
			}
			p, ok := raw.(neo4j.Path)
			if !ok {
				continue
			}
			paths = append(paths, pathFromNeo4j(p))
		}
		return paths, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query shortest paths: %w", err)
	}
	return res.([]models.Path), nil
}

// Neighbors returns every node reachable from nodeID over one edge of any of
// the given types, together with the connecting edge.
func (s *RelationService) Neighbors(ctx context.Context, nodeID string, relTypes ...models.RelationType) ([]Neighbor, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationService.Neighbors")
	defer span.End()

	if len(relTypes) == 0 {
		return nil, nil
	}

	names := make([]string, len(relTypes))
	for i, t := range relTypes {
		names[i] = sanitizeRelType(t)
	}

	cypher := fmt.Sprintf(`
		MATCH (a:Column {id: $node_id})-[r:%s]-(b:Column)
		RETURN id(r) AS rel_id, type(r) AS rel_type, properties(r) AS props, b
	`, strings.Join(names, "|"))

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"node_id": nodeID})
		if err != nil {
			return nil, err
		}

		var neighbors []Neighbor
		for result.Next(ctx) {
			record := result.Record()
			n := Neighbor{Relation: models.Relation{StartNodeID: nodeID}}
			if v, ok := record.Get("rel_id"); ok {
				n.Relation.ID, _ = v.(int64)
			}
			if v, ok := record.Get("rel_type"); ok {
				t, _ := v.(string)
				n.Relation.Type = models.RelationType(t)
			}
			if v, ok := record.Get("props"); ok {
				n.Relation.Properties, _ = v.(map[string]any)
			}
			if v, ok := record.Get("b"); ok {
				if node, ok := v.(neo4j.Node); ok {
					n.Node = nodeFromProps(node.Props)
					n.Relation.EndNodeID = n.Node.ID
				}
			}
			neighbors = append(neighbors, n)
		}
		return neighbors, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch neighbors of %s: %w", nodeID, err)
	}
	return res.([]Neighbor), nil
}

func pathFromNeo4j(p neo4j.Path) models.Path {
	// Relationship endpoints come back as internal node ids; resolve them to
	// the deterministic column ids through the path's node set.
	byInternalID := make(map[int64]string, len(p.Nodes))
	for _, n := range p.Nodes {
		if id, ok := n.Props["id"].(string); ok {
			byInternalID[n.Id] = id
		}
	}

	path := models.Path{Relations: make([]models.Relation, 0, len(p.Relationships))}
	for _, r := range p.Relationships {
		path.Relations = append(path.Relations, models.Relation{
			ID:          r.Id,
			Type:        models.RelationType(r.Type),
			StartNodeID: byInternalID[r.StartId],
			EndNodeID:   byInternalID[r.EndId],
			Properties:  r.Props,
		})
	}
	return path
}

// sanitizeRelType strips anything outside [A-Z_] from a relation type before
// interpolation. Cypher parameters cannot carry relationship types.
func sanitizeRelType(t models.RelationType) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || r == '_' {
			return r
		}
		return -1
	}, string(t))
}
