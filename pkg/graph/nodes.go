package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

// wellKnownNodeProps are the node fields the algorithms branch on; everything
// else on a node is an open-ended profiling property.
var wellKnownNodeProps = map[string]bool{
	"id":          true,
	"name":        true,
	"source_name": true,
	"source_path": true,
}

// NodeService handles column-node operations in the relationship graph
type NodeService struct {
	client *Client
	logger ectologger.Logger
}

// NewNodeService creates a new node service
func NewNodeService(client *Client, logger ectologger.Logger) *NodeService {
	return &NodeService{
		client: client,
		logger: logger,
	}
}

// CreateNode upserts the column node for (sourcePath, columnName). The id is
// deterministic, so a re-run merges onto the existing node instead of
// duplicating it.
func (s *NodeService) CreateNode(ctx context.Context, sourceName, sourcePath, columnName string) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.NodeService.CreateNode")
	defer span.End()

	node := &models.Node{
		ID:         models.NodeID(sourcePath, columnName),
		Name:       columnName,
		SourceName: sourceName,
		SourcePath: sourcePath,
	}

	cypher := `
		MERGE (n:Column {id: $id})
		SET n.name = $name,
		    n.source_name = $source_name,
		    n.source_path = $source_path
		RETURN n
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":          node.ID,
			"name":        node.Name,
			"source_name": node.SourceName,
			"source_path": node.SourcePath,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to create node %s", node.ID)
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	return node, nil
}

// SetProfile attaches profiling properties to a node. Existing values for the
// same keys are overwritten; other properties are left untouched.
func (s *NodeService) SetProfile(ctx context.Context, nodeID string, profile map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "graph.NodeService.SetProfile")
	defer span.End()

	if len(profile) == 0 {
		return nil
	}

	props := make(map[string]any, len(profile))
	for k, v := range profile {
		if wellKnownNodeProps[k] {
			continue
		}
		props[k] = v
	}

	cypher := `
		MATCH (n:Column {id: $id})
		SET n += $props
		RETURN n
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"id": nodeID, "props": props})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to set profiling properties on %s: %w", nodeID, err)
	}
	return nil
}

// DeleteProperty removes one profiling property from a node. Well-known
// identity properties cannot be removed.
func (s *NodeService) DeleteProperty(ctx context.Context, nodeID, key string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.NodeService.DeleteProperty")
	defer span.End()

	if wellKnownNodeProps[key] {
		return fmt.Errorf("property %s is part of the node identity", key)
	}
	if !validPropertyKey(key) {
		return fmt.Errorf("invalid property key %q", key)
	}

	// Property keys cannot be parameterized in Cypher.
	cypher := fmt.Sprintf(`
		MATCH (n:Column {id: $id})
		REMOVE n.%s
	`, key)

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"id": nodeID})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to remove property %s from %s: %w", key, nodeID, err)
	}
	return nil
}

func validPropertyKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// GetByAssetPath returns every column node belonging to the asset.
func (s *NodeService) GetByAssetPath(ctx context.Context, sourcePath string) ([]models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.NodeService.GetByAssetPath")
	defer span.End()

	cypher := `
		MATCH (n:Column {source_path: $source_path})
		RETURN n
	`

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"source_path": sourcePath})
		if err != nil {
			return nil, err
		}

		var nodes []models.Node
		for result.Next(ctx) {
			if raw, ok := result.Record().Get("n"); ok {
				if n, ok := raw.(neo4j.Node); ok {
					nodes = append(nodes, nodeFromProps(n.Props))
				}
			}
		}
		return nodes, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nodes for %s: %w", sourcePath, err)
	}
	return res.([]models.Node), nil
}

// DeleteAsset detaches and deletes every node of the asset.
func (s *NodeService) DeleteAsset(ctx context.Context, sourcePath string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.NodeService.DeleteAsset")
	defer span.End()

	cypher := `
		MATCH (n:Column {source_path: $source_path})
		DETACH DELETE n
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"source_path": sourcePath})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to delete asset %s: %w", sourcePath, err)
	}
	return nil
}

// PurgeAll removes every node and relation from the graph.
func (s *NodeService) PurgeAll(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "graph.NodeService.PurgeAll")
	defer span.End()

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to purge graph: %w", err)
	}
	return nil
}

func nodeFromProps(props map[string]any) models.Node {
	node := models.Node{}
	profile := make(map[string]any)
	for k, v := range props {
		switch k {
		case "id":
			node.ID, _ = v.(string)
		case "name":
			node.Name, _ = v.(string)
		case "source_name":
			node.SourceName, _ = v.(string)
		case "source_path":
			node.SourcePath, _ = v.(string)
		default:
			profile[k] = v
		}
	}
	if len(profile) > 0 {
		node.Profile = profile
	}
	return node
}
