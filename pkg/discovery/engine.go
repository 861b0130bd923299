// Package discovery implements the relationship graph engine: relation
// expansion between assets, joinable-table aggregation and ranking, and
// spurious-edge pruning.
package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/OpertusMundi/discovery-service/pkg/graph"
	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

// NodeStore is the node surface of the relationship store the engine reads.
type NodeStore interface {
	GetByAssetPath(ctx context.Context, sourcePath string) ([]models.Node, error)
}

// RelationStore is the edge surface of the relationship store the engine
// traverses and prunes.
type RelationStore interface {
	ShortestPaths(ctx context.Context, fromPath, toPath string) ([]models.Path, error)
	Neighbors(ctx context.Context, nodeID string, relTypes ...models.RelationType) ([]graph.Neighbor, error)
	MatchRelations(ctx context.Context) ([]models.Relation, error)
	DeleteByID(ctx context.Context, relID int64) error
}

// PickPolicy decides which edge wins when the same column pair of a candidate
// asset is reachable through more than one relation.
type PickPolicy string

const (
	PickHighestScore PickPolicy = "highest-score"
	PickFirstFound   PickPolicy = "first-found"
)

// RankTieBreak decides how candidate assets with the same number of
// corroborating matches are ordered.
type RankTieBreak string

const (
	RankByMeanScore RankTieBreak = "mean-score"
	RankByMaxScore  RankTieBreak = "max-score"
)

// Options carries the configurable aggregation policies.
type Options struct {
	Pick PickPolicy
	Tie  RankTieBreak
}

// Engine owns the traversal and aggregation algorithms over the relationship
// graph.
type Engine struct {
	nodes     NodeStore
	relations RelationStore
	opts      Options
	logger    ectologger.Logger
}

// NewEngine creates a new graph engine.
func NewEngine(nodes NodeStore, relations RelationStore, opts Options, logger ectologger.Logger) *Engine {
	if opts.Pick == "" {
		opts.Pick = PickHighestScore
	}
	if opts.Tie == "" {
		opts.Tie = RankByMeanScore
	}
	return &Engine{
		nodes:     nodes,
		relations: relations,
		opts:      opts,
		logger:    logger,
	}
}

// GetRelatedBetween explains how two assets are connected: every shortest
// path between their columns is walked and rendered as a chain of MATCH
// hops. Sibling edges are only traversal glue within an asset and never
// appear in the returned links. An empty result means no relationship, which
// is a valid answer and not an error.
func (e *Engine) GetRelatedBetween(ctx context.Context, fromPath, toPath string) ([]models.RelatedResult, error) {
	ctx, span := tracing.StartSpan(ctx, "discovery.Engine.GetRelatedBetween")
	defer span.End()

	paths, err := e.relations.ShortestPaths(ctx, fromPath, toPath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand relations between %s and %s: %w", fromPath, toPath, err)
	}

	results := make([]models.RelatedResult, 0, len(paths))
	seen := make(map[string]bool)

	for _, path := range paths {
		var b strings.Builder
		fmt.Fprintf(&b, "Asset %s and asset %s are connected via the following path:", fromPath, toPath)

		var links []string
		current := fromPath

		for _, rel := range path.Relations {
			if rel.Type != models.RelationMatch {
				continue
			}

			// Storage direction is unreliable; resolve which endpoint belongs
			// to the asset we are currently standing on.
			from, to := rel.StartNodeID, rel.EndNodeID
			if !belongsTo(from, current) {
				from, to = to, from
			}

			fmt.Fprintf(&b, " %s -> %s ->", from, to)
			links = append(links, from, to)
			current = models.OwningAsset(to)
		}

		if len(links) == 0 {
			continue
		}

		// Sibling variants of the same chain collapse to one entry.
		key := strings.Join(links, "|")
		if seen[key] {
			continue
		}
		seen[key] = true

		results = append(results, models.RelatedResult{
			Explanation: b.String(),
			Links:       links,
		})
	}

	return results, nil
}

// DeleteSpuriousConnections retracts every MATCH edge that carries no
// similarity score. Such edges are unconfirmed byproducts of dependency
// discovery and must be pruned once both discovery passes have run. The pass
// is globally idempotent: a second run with no new ingestion deletes nothing.
func (e *Engine) DeleteSpuriousConnections(ctx context.Context) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "discovery.Engine.DeleteSpuriousConnections")
	defer span.End()

	relations, err := e.relations.MatchRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan match relations: %w", err)
	}

	deleted := make([]int64, 0)
	for _, rel := range relations {
		if _, ok := rel.Similarity(); ok {
			continue
		}
		if err := e.relations.DeleteByID(ctx, rel.ID); err != nil {
			return deleted, fmt.Errorf("failed to delete spurious relation %d: %w", rel.ID, err)
		}
		deleted = append(deleted, rel.ID)
	}

	if len(deleted) > 0 {
		e.logger.WithContext(ctx).Infof("Pruned %d spurious match relations", len(deleted))
	}
	return deleted, nil
}

// belongsTo reports whether the node id denotes a column of the asset.
func belongsTo(nodeID, assetPath string) bool {
	return models.OwningAsset(nodeID) == assetPath
}
