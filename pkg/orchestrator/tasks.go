// Package orchestrator composes the profiling pipeline: queue task handlers
// for ingestion, pairwise matching, dependency discovery and cleanup, and the
// run composition that fans them out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/OpertusMundi/discovery-service/pkg/events"
	"github.com/OpertusMundi/discovery-service/pkg/fingerprint"
	"github.com/OpertusMundi/discovery-service/pkg/matching"
	"github.com/OpertusMundi/discovery-service/pkg/metanome"
	"github.com/OpertusMundi/discovery-service/pkg/metrics"
	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/profiling"
	"github.com/OpertusMundi/discovery-service/pkg/queue"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

// Task names registered on the queue worker.
const (
	TaskIngestAsset = "ingest_asset"
	TaskProfilePair = "profile_pair"
	TaskDiscoverFKs = "discover_foreign_keys"
	TaskCleanup     = "cleanup_relations"
)

// AssetReader reads tabular assets from object storage.
type AssetReader interface {
	ListAssets(ctx context.Context) ([]string, error)
	ReadTabular(ctx context.Context, path string, rowLimit int) (*models.Table, error)
}

// MetadataStore is the asset metadata index. A present record marks the
// asset as ingested.
type MetadataStore interface {
	Put(ctx context.Context, record *models.AssetRecord) error
	Get(ctx context.Context, path string) (*models.AssetRecord, error)
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context) ([]models.AssetRecord, error)
	Delete(ctx context.Context, path string) error
}

// GraphWriter is the write surface of the relationship store the pipeline
// populates.
type GraphWriter interface {
	CreateNode(ctx context.Context, sourceName, sourcePath, columnName string) (*models.Node, error)
	SetProfile(ctx context.Context, nodeID string, profile map[string]any) error
	CreateSubsumptionRelations(ctx context.Context, sourcePath string) error
	MergeRelation(ctx context.Context, aID, bID string, relType models.RelationType) error
	SetRelationProperties(ctx context.Context, aID, bID string, relType models.RelationType, props map[string]any) error
	DeleteRelationsByType(ctx context.Context, relType models.RelationType) error
	DeleteAssetNodes(ctx context.Context, sourcePath string) error
	DeleteNodeProperty(ctx context.Context, nodeID, key string) error
}

// Pruner removes scoreless match edges after discovery settles.
type Pruner interface {
	DeleteSpuriousConnections(ctx context.Context) ([]int64, error)
}

// Config holds the pipeline tuning knobs.
type Config struct {
	// RowLimit bounds the row sample read per asset. Zero means unbounded.
	RowLimit int

	// Threshold is the minimum similarity for a MATCH edge.
	Threshold float64
}

// Tasks implements the queue handlers of the pipeline.
type Tasks struct {
	reader     AssetReader
	metadata   MetadataStore
	graph      GraphWriter
	pruner     Pruner
	profiler   profiling.Profiler
	matcher    matching.Matcher
	discoverer metanome.Discoverer
	emitter    events.Emitter
	cfg        Config
	logger     ectologger.Logger
}

// NewTasks wires the pipeline handlers.
func NewTasks(
	reader AssetReader,
	metadata MetadataStore,
	graph GraphWriter,
	pruner Pruner,
	profiler profiling.Profiler,
	matcher matching.Matcher,
	discoverer metanome.Discoverer,
	emitter events.Emitter,
	cfg Config,
	logger ectologger.Logger,
) *Tasks {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Tasks{
		reader:     reader,
		metadata:   metadata,
		graph:      graph,
		pruner:     pruner,
		profiler:   profiler,
		matcher:    matcher,
		discoverer: discoverer,
		emitter:    emitter,
		cfg:        cfg,
		logger:     logger,
	}
}

// Register binds every pipeline handler to the worker.
func (t *Tasks) Register(w *queue.Worker) {
	w.Register(TaskIngestAsset, t.IngestAsset)
	w.Register(TaskProfilePair, t.ProfilePair)
	w.Register(TaskDiscoverFKs, t.DiscoverForeignKeys)
	w.Register(TaskCleanup, t.Cleanup)
}

// IngestAsset parses one asset, creates its column nodes with profiling
// properties and sibling edges, and commits the metadata record last. An
// asset that already has a record is a successful no-op.
func (t *Tasks) IngestAsset(ctx context.Context, job *models.Job) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Tasks.IngestAsset")
	defer span.End()

	if len(job.Args) < 1 {
		return fmt.Errorf("ingest task %s carries no asset path", job.ID)
	}
	path := job.Args[0]

	exists, err := t.metadata.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		t.logger.WithContext(ctx).Infof("Asset %s already ingested, skipping", path)
		return nil
	}

	table, err := t.reader.ReadTabular(ctx, path, t.cfg.RowLimit)
	if err != nil {
		return err
	}

	record := &models.AssetRecord{
		Path:        path,
		Name:        table.Name,
		ColumnCount: len(table.Columns),
		SchemaHash:  fingerprint.Schema(table),
		Nodes:       make(map[string]string, len(table.Columns)),
	}

	for _, column := range table.Columns {
		node, err := t.graph.CreateNode(ctx, table.Name, path, column.Name)
		if err != nil {
			return err
		}
		if err := t.graph.SetProfile(ctx, node.ID, t.profiler.Profile(column)); err != nil {
			return err
		}
		record.Nodes[column.Name] = node.ID
	}

	if err := t.graph.CreateSubsumptionRelations(ctx, path); err != nil {
		return err
	}
	metrics.RelationsCreated.WithLabelValues(string(models.RelationSibling)).Inc()

	// Commit point: the record is written only after every node and sibling
	// edge exists, so a partial failure leaves no record behind and the next
	// attempt redoes the whole unit of work.
	if err := t.metadata.Put(ctx, record); err != nil {
		return err
	}

	metrics.AssetsIngested.Inc()
	t.emitter.AssetIngested(ctx, path)
	t.logger.WithContext(ctx).Infof("Ingested asset %s with %d columns", path, len(table.Columns))
	return nil
}

// ProfilePair scores every cross-column pair of two assets and merges a MATCH
// edge carrying the similarity for every score at or above the threshold. An
// asset whose ingestion failed has no metadata record; the pair is skipped
// without failing the run.
func (t *Tasks) ProfilePair(ctx context.Context, job *models.Job) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Tasks.ProfilePair")
	defer span.End()

	if len(job.Args) < 2 {
		return fmt.Errorf("profile task %s needs two asset paths", job.ID)
	}
	pathA, pathB := job.Args[0], job.Args[1]
	if pathA == pathB {
		return nil
	}

	recordA, err := t.metadata.Get(ctx, pathA)
	if errors.Is(err, models.ErrNotFound) {
		t.logger.WithContext(ctx).Warnf("Asset %s has no metadata record, skipping pair", pathA)
		return nil
	}
	if err != nil {
		return err
	}
	recordB, err := t.metadata.Get(ctx, pathB)
	if errors.Is(err, models.ErrNotFound) {
		t.logger.WithContext(ctx).Warnf("Asset %s has no metadata record, skipping pair", pathB)
		return nil
	}
	if err != nil {
		return err
	}

	tableA, err := t.reader.ReadTabular(ctx, pathA, t.cfg.RowLimit)
	if err != nil {
		return err
	}
	tableB, err := t.reader.ReadTabular(ctx, pathB, t.cfg.RowLimit)
	if err != nil {
		return err
	}

	scores, err := t.matcher.Match(ctx, tableA, tableB)
	if err != nil {
		return err
	}

	created := 0
	for pair, score := range scores {
		if score < t.cfg.Threshold {
			continue
		}
		aID, ok := recordA.Nodes[pair.A]
		if !ok {
			continue
		}
		bID, ok := recordB.Nodes[pair.B]
		if !ok {
			continue
		}

		if err := t.graph.MergeRelation(ctx, aID, bID, models.RelationMatch); err != nil {
			return err
		}
		if err := t.graph.SetRelationProperties(ctx, aID, bID, models.RelationMatch, map[string]any{
			models.SimilarityProperty: score,
		}); err != nil {
			return err
		}
		created++
		metrics.RelationsCreated.WithLabelValues(string(models.RelationMatch)).Inc()
	}

	t.logger.WithContext(ctx).Infof("Profiled pair %s | %s: %d match edges", pathA, pathB, created)
	return nil
}

// DiscoverForeignKeys runs out-of-process dependency discovery and merges a
// foreign-key edge for every cross-asset candidate. Same-asset candidates
// are discarded.
func (t *Tasks) DiscoverForeignKeys(ctx context.Context, job *models.Job) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Tasks.DiscoverForeignKeys")
	defer span.End()

	candidates, err := t.discoverer.Discover(ctx)
	if err != nil {
		return err
	}

	// Discovery reports on the whole corpus; stale edges from earlier runs
	// are replaced wholesale.
	if err := t.graph.DeleteRelationsByType(ctx, models.RelationForeignKeyMetanome); err != nil {
		return err
	}

	cross := metanome.FilterCrossAsset(candidates)
	for _, candidate := range cross {
		if err := t.graph.MergeRelation(ctx, candidate.DependentID, candidate.ReferencedID, models.RelationForeignKeyMetanome); err != nil {
			return err
		}
		// Merge is undirected; FROM/TO restate which side depends on which.
		if err := t.graph.SetRelationProperties(ctx, candidate.DependentID, candidate.ReferencedID, models.RelationForeignKeyMetanome, map[string]any{
			"from_id": candidate.DependentID,
			"to_id":   candidate.ReferencedID,
		}); err != nil {
			return err
		}
		metrics.RelationsCreated.WithLabelValues(string(models.RelationForeignKeyMetanome)).Inc()
	}

	t.logger.WithContext(ctx).Infof("Dependency discovery produced %d cross-asset candidates (%d total)",
		len(cross), len(candidates))
	return nil
}

// Cleanup deletes scoreless match edges. Runs once per composed run, after
// both discovery passes have settled.
func (t *Tasks) Cleanup(ctx context.Context, job *models.Job) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Tasks.Cleanup")
	defer span.End()

	deleted, err := t.pruner.DeleteSpuriousConnections(ctx)
	if err != nil {
		return err
	}

	metrics.SpuriousRelationsDeleted.Add(float64(len(deleted)))
	if job.ParentID != "" {
		t.emitter.RunCompleted(ctx, job.ParentID)
	}
	t.logger.WithContext(ctx).Infof("Cleanup removed %d spurious relations", len(deleted))
	return nil
}

// RemoveAsset detaches and deletes the asset's column nodes and drops its
// metadata record. Runs synchronously; removal is not part of any composed
// run. Returns ErrNotFound when the asset was never ingested.
func (t *Tasks) RemoveAsset(ctx context.Context, path string) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Tasks.RemoveAsset")
	defer span.End()

	if _, err := t.metadata.Get(ctx, path); err != nil {
		return err
	}

	if err := t.graph.DeleteAssetNodes(ctx, path); err != nil {
		return err
	}
	// Record goes last, mirroring ingestion: a partial failure leaves the
	// record behind so the asset still reads as ingested.
	if err := t.metadata.Delete(ctx, path); err != nil {
		return err
	}

	t.emitter.AssetDeleted(ctx, path)
	t.logger.WithContext(ctx).Infof("Removed asset %s", path)
	return nil
}

// RemoveProfileProperty drops one profiling property from one column node.
// Returns ErrNotFound when the asset or column is unknown.
func (t *Tasks) RemoveProfileProperty(ctx context.Context, path, column, property string) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Tasks.RemoveProfileProperty")
	defer span.End()

	record, err := t.metadata.Get(ctx, path)
	if err != nil {
		return err
	}
	nodeID, ok := record.Nodes[column]
	if !ok {
		return fmt.Errorf("%w: asset %s has no column %s", models.ErrNotFound, path, column)
	}

	return t.graph.DeleteNodeProperty(ctx, nodeID, property)
}
