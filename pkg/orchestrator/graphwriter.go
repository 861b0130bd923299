package orchestrator

import (
	"context"

	"github.com/OpertusMundi/discovery-service/pkg/graph"
	"github.com/OpertusMundi/discovery-service/pkg/models"
)

// GraphServices adapts the node and relation services to the GraphWriter
// surface the task handlers write through.
type GraphServices struct {
	Nodes     *graph.NodeService
	Relations *graph.RelationService
}

func (g *GraphServices) CreateNode(ctx context.Context, sourceName, sourcePath, columnName string) (*models.Node, error) {
	return g.Nodes.CreateNode(ctx, sourceName, sourcePath, columnName)
}

func (g *GraphServices) SetProfile(ctx context.Context, nodeID string, profile map[string]any) error {
	return g.Nodes.SetProfile(ctx, nodeID, profile)
}

func (g *GraphServices) CreateSubsumptionRelations(ctx context.Context, sourcePath string) error {
	return g.Relations.CreateSubsumptionRelations(ctx, sourcePath)
}

func (g *GraphServices) MergeRelation(ctx context.Context, aID, bID string, relType models.RelationType) error {
	return g.Relations.MergeRelation(ctx, aID, bID, relType)
}

func (g *GraphServices) SetRelationProperties(ctx context.Context, aID, bID string, relType models.RelationType, props map[string]any) error {
	return g.Relations.SetRelationProperties(ctx, aID, bID, relType, props)
}

func (g *GraphServices) DeleteRelationsByType(ctx context.Context, relType models.RelationType) error {
	return g.Relations.DeleteByType(ctx, relType)
}

func (g *GraphServices) DeleteAssetNodes(ctx context.Context, sourcePath string) error {
	return g.Nodes.DeleteAsset(ctx, sourcePath)
}

func (g *GraphServices) DeleteNodeProperty(ctx context.Context, nodeID, key string) error {
	return g.Nodes.DeleteProperty(ctx, nodeID, key)
}
