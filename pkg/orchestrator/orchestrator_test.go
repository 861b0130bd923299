package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpertusMundi/discovery-service/pkg/matching"
	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/profiling"
	"github.com/OpertusMundi/discovery-service/pkg/queue"
)

type fakeReader struct {
	tables map[string]*models.Table
	fail   map[string]error
	reads  int
}

func (r *fakeReader) ListAssets(_ context.Context) ([]string, error) {
	paths := make([]string, 0, len(r.tables))
	for path := range r.tables {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

func (r *fakeReader) ReadTabular(_ context.Context, path string, _ int) (*models.Table, error) {
	if err := r.fail[path]; err != nil {
		return nil, err
	}
	table, ok := r.tables[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, path)
	}
	r.reads++
	return table, nil
}

type fakeMetadata struct {
	records map[string]*models.AssetRecord
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{records: make(map[string]*models.AssetRecord)}
}

func (m *fakeMetadata) Put(_ context.Context, record *models.AssetRecord) error {
	m.records[record.Path] = record
	return nil
}

func (m *fakeMetadata) Get(_ context.Context, path string) (*models.AssetRecord, error) {
	record, ok := m.records[path]
	if !ok {
		return nil, models.ErrNotFound
	}
	return record, nil
}

func (m *fakeMetadata) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.records[path]
	return ok, nil
}

func (m *fakeMetadata) Delete(_ context.Context, path string) error {
	delete(m.records, path)
	return nil
}

func (m *fakeMetadata) List(_ context.Context) ([]models.AssetRecord, error) {
	var records []models.AssetRecord
	for _, record := range m.records {
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

type fakeEdge struct {
	A, B  string
	Type  models.RelationType
	Props map[string]any
}

type fakeGraph struct {
	nodes      map[string]bool
	profiles   map[string]map[string]any
	siblings   []string
	edges      []*fakeEdge
	profileErr error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		nodes:    make(map[string]bool),
		profiles: make(map[string]map[string]any),
	}
}

func (g *fakeGraph) CreateNode(_ context.Context, sourceName, sourcePath, columnName string) (*models.Node, error) {
	node := &models.Node{
		ID:         models.NodeID(sourcePath, columnName),
		Name:       columnName,
		SourceName: sourceName,
		SourcePath: sourcePath,
	}
	g.nodes[node.ID] = true
	return node, nil
}

func (g *fakeGraph) SetProfile(_ context.Context, nodeID string, profile map[string]any) error {
	if g.profileErr != nil {
		return g.profileErr
	}
	g.profiles[nodeID] = profile
	return nil
}

func (g *fakeGraph) CreateSubsumptionRelations(_ context.Context, sourcePath string) error {
	g.siblings = append(g.siblings, sourcePath)
	return nil
}

func (g *fakeGraph) MergeRelation(_ context.Context, aID, bID string, relType models.RelationType) error {
	if g.findEdge(aID, bID, relType) == nil {
		g.edges = append(g.edges, &fakeEdge{A: aID, B: bID, Type: relType, Props: map[string]any{}})
	}
	return nil
}

func (g *fakeGraph) SetRelationProperties(_ context.Context, aID, bID string, relType models.RelationType, props map[string]any) error {
	edge := g.findEdge(aID, bID, relType)
	if edge == nil {
		return fmt.Errorf("no %s edge between %s and %s", relType, aID, bID)
	}
	for k, v := range props {
		edge.Props[k] = v
	}
	return nil
}

func (g *fakeGraph) DeleteAssetNodes(_ context.Context, sourcePath string) error {
	prefix := sourcePath + "/"
	for id := range g.nodes {
		if strings.HasPrefix(id, prefix) {
			delete(g.nodes, id)
			delete(g.profiles, id)
		}
	}
	kept := g.edges[:0]
	for _, edge := range g.edges {
		if !strings.HasPrefix(edge.A, prefix) && !strings.HasPrefix(edge.B, prefix) {
			kept = append(kept, edge)
		}
	}
	g.edges = kept
	return nil
}

func (g *fakeGraph) DeleteNodeProperty(_ context.Context, nodeID, key string) error {
	if profile, ok := g.profiles[nodeID]; ok {
		delete(profile, key)
	}
	return nil
}

func (g *fakeGraph) DeleteRelationsByType(_ context.Context, relType models.RelationType) error {
	kept := g.edges[:0]
	for _, edge := range g.edges {
		if edge.Type != relType {
			kept = append(kept, edge)
		}
	}
	g.edges = kept
	return nil
}

func (g *fakeGraph) findEdge(aID, bID string, relType models.RelationType) *fakeEdge {
	for _, edge := range g.edges {
		if edge.Type != relType {
			continue
		}
		if (edge.A == aID && edge.B == bID) || (edge.A == bID && edge.B == aID) {
			return edge
		}
	}
	return nil
}

type fakePruner struct {
	deleted []int64
	calls   int
}

func (p *fakePruner) DeleteSpuriousConnections(_ context.Context) ([]int64, error) {
	p.calls++
	return p.deleted, nil
}

type fakeDiscoverer struct {
	candidates []models.FDCandidate
	err        error
	calls      int
}

func (d *fakeDiscoverer) Discover(_ context.Context) ([]models.FDCandidate, error) {
	d.calls++
	return d.candidates, d.err
}

type recordingEmitter struct {
	ingested  []string
	deleted   []string
	completed []string
}

func (e *recordingEmitter) AssetIngested(_ context.Context, path string) { e.ingested = append(e.ingested, path) }
func (e *recordingEmitter) AssetDeleted(_ context.Context, path string)  { e.deleted = append(e.deleted, path) }
func (e *recordingEmitter) RunCompleted(_ context.Context, runID string) {
	e.completed = append(e.completed, runID)
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

const (
	ordersPath    = "data/orders.csv"
	customersPath = "data/customers.csv"
)

func testCorpus() *fakeReader {
	return &fakeReader{
		tables: map[string]*models.Table{
			ordersPath: {
				Name: "orders.csv",
				Path: ordersPath,
				Columns: []models.Column{
					{Name: "order_id", Values: []string{"100", "101", "102"}},
					{Name: "customer_id", Values: []string{"1", "2", "3"}},
				},
			},
			customersPath: {
				Name: "customers.csv",
				Path: customersPath,
				Columns: []models.Column{
					{Name: "customer_id", Values: []string{"1", "2", "3", "4"}},
					{Name: "full_name", Values: []string{"Ada", "Grace", "Edsger", "Barbara"}},
				},
			},
		},
		fail: make(map[string]error),
	}
}

type fixture struct {
	reader     *fakeReader
	metadata   *fakeMetadata
	graph      *fakeGraph
	pruner     *fakePruner
	discoverer *fakeDiscoverer
	emitter    *recordingEmitter
	tasks      *Tasks
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		reader:     testCorpus(),
		metadata:   newFakeMetadata(),
		graph:      newFakeGraph(),
		pruner:     &fakePruner{},
		discoverer: &fakeDiscoverer{},
		emitter:    &recordingEmitter{},
	}
	f.tasks = NewTasks(
		f.reader, f.metadata, f.graph, f.pruner,
		profiling.NewColumnProfiler(), matching.NewSchemaMatcher(),
		f.discoverer, f.emitter, cfg, testLogger(),
	)
	return f
}

func ingestJob(path string) *models.Job {
	return &models.Job{ID: queue.NewJobID(), Name: TaskIngestAsset, Args: []string{path}}
}

func pairJob(a, b string) *models.Job {
	return &models.Job{ID: queue.NewJobID(), Name: TaskProfilePair, Args: []string{a, b}}
}

func TestIngestAssetCreatesNodesAndCommitsRecord(t *testing.T) {
	f := newFixture(Config{Threshold: 0.75})
	ctx := context.Background()

	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(ordersPath)))

	assert.True(t, f.graph.nodes["data/orders.csv/order_id"])
	assert.True(t, f.graph.nodes["data/orders.csv/customer_id"])
	assert.Equal(t, []string{ordersPath}, f.graph.siblings)

	profile := f.graph.profiles["data/orders.csv/customer_id"]
	require.NotNil(t, profile)
	assert.Equal(t, 3, profile["cardinality"])

	record, err := f.metadata.Get(ctx, ordersPath)
	require.NoError(t, err)
	assert.Equal(t, "orders.csv", record.Name)
	assert.Equal(t, 2, record.ColumnCount)
	assert.NotEmpty(t, record.SchemaHash)
	assert.Equal(t, "data/orders.csv/order_id", record.Nodes["order_id"])

	assert.Equal(t, []string{ordersPath}, f.emitter.ingested)
}

func TestIngestAssetIsIdempotent(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()

	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(ordersPath)))
	reads := f.reader.reads

	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(ordersPath)))

	assert.Equal(t, reads, f.reader.reads)
	assert.Equal(t, []string{ordersPath}, f.graph.siblings)
	assert.Len(t, f.emitter.ingested, 1)
}

func TestIngestAssetFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(Config{})
	f.graph.profileErr = errors.New("connection reset")
	ctx := context.Background()

	err := f.tasks.IngestAsset(ctx, ingestJob(ordersPath))
	require.Error(t, err)

	exists, err := f.metadata.Exists(ctx, ordersPath)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, f.emitter.ingested)
}

func TestIngestAssetMalformedInput(t *testing.T) {
	f := newFixture(Config{})
	f.reader.fail[ordersPath] = fmt.Errorf("%w: empty file", models.ErrMalformedInput)

	err := f.tasks.IngestAsset(context.Background(), ingestJob(ordersPath))
	assert.True(t, errors.Is(err, models.ErrMalformedInput))

	exists, _ := f.metadata.Exists(context.Background(), ordersPath)
	assert.False(t, exists)
}

func TestProfilePairCreatesScoredMatchEdge(t *testing.T) {
	f := newFixture(Config{Threshold: 0.75})
	ctx := context.Background()

	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(ordersPath)))
	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(customersPath)))

	require.NoError(t, f.tasks.ProfilePair(ctx, pairJob(ordersPath, customersPath)))

	require.Len(t, f.graph.edges, 1)
	edge := f.graph.edges[0]
	assert.Equal(t, models.RelationMatch, edge.Type)
	assert.Equal(t, "data/orders.csv/customer_id", edge.A)
	assert.Equal(t, "data/customers.csv/customer_id", edge.B)

	score, ok := edge.Props[models.SimilarityProperty].(float64)
	require.True(t, ok)
	assert.InDelta(t, 0.875, score, 0.001)
}

func TestProfilePairSkipsUningestedAsset(t *testing.T) {
	f := newFixture(Config{Threshold: 0.5})
	ctx := context.Background()

	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(ordersPath)))

	// customers never ingested; its record is absent and the pair is a no-op.
	require.NoError(t, f.tasks.ProfilePair(ctx, pairJob(ordersPath, customersPath)))
	assert.Empty(t, f.graph.edges)
}

func TestProfilePairSameAssetIsNoOp(t *testing.T) {
	f := newFixture(Config{Threshold: 0.5})
	ctx := context.Background()

	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(ordersPath)))
	require.NoError(t, f.tasks.ProfilePair(ctx, pairJob(ordersPath, ordersPath)))
	assert.Empty(t, f.graph.edges)
}

func TestDiscoverForeignKeysDiscardsSameAssetCandidates(t *testing.T) {
	f := newFixture(Config{})
	f.discoverer.candidates = []models.FDCandidate{
		{DependentID: "data/orders.csv/customer_id", ReferencedID: "data/customers.csv/customer_id"},
		{DependentID: "data/orders.csv/order_id", ReferencedID: "data/orders.csv/customer_id"},
	}

	require.NoError(t, f.tasks.DiscoverForeignKeys(context.Background(), &models.Job{Name: TaskDiscoverFKs}))

	require.Len(t, f.graph.edges, 1)
	edge := f.graph.edges[0]
	assert.Equal(t, models.RelationForeignKeyMetanome, edge.Type)
	assert.Equal(t, "data/orders.csv/customer_id", edge.Props["from_id"])
	assert.Equal(t, "data/customers.csv/customer_id", edge.Props["to_id"])
}

func TestDiscoverForeignKeysReplacesStaleEdges(t *testing.T) {
	f := newFixture(Config{})
	f.discoverer.candidates = []models.FDCandidate{
		{DependentID: "data/orders.csv/customer_id", ReferencedID: "data/customers.csv/customer_id"},
	}
	require.NoError(t, f.tasks.DiscoverForeignKeys(context.Background(), &models.Job{Name: TaskDiscoverFKs}))

	// A later run reporting a different corpus drops the earlier edge.
	f.discoverer.candidates = []models.FDCandidate{
		{DependentID: "data/orders.csv/order_id", ReferencedID: "data/shipments.csv/order_id"},
	}
	require.NoError(t, f.tasks.DiscoverForeignKeys(context.Background(), &models.Job{Name: TaskDiscoverFKs}))

	require.Len(t, f.graph.edges, 1)
	assert.Equal(t, "data/orders.csv/order_id", f.graph.edges[0].Props["from_id"])
}

func TestDiscoverForeignKeysPropagatesTimeout(t *testing.T) {
	f := newFixture(Config{})
	f.discoverer.err = models.ErrCollaboratorTimeout

	err := f.tasks.DiscoverForeignKeys(context.Background(), &models.Job{Name: TaskDiscoverFKs})
	assert.True(t, errors.Is(err, models.ErrCollaboratorTimeout))
	assert.Empty(t, f.graph.edges)
}

func TestCleanupPrunesAndAnnouncesRun(t *testing.T) {
	f := newFixture(Config{})
	f.pruner.deleted = []int64{7, 12}

	job := &models.Job{ID: queue.NewJobID(), Name: TaskCleanup, ParentID: "run-1"}
	require.NoError(t, f.tasks.Cleanup(context.Background(), job))

	assert.Equal(t, 1, f.pruner.calls)
	assert.Equal(t, []string{"run-1"}, f.emitter.completed)
}

// drain runs every enqueued job to completion through the worker, including
// jobs released by barriers along the way.
func drain(t *testing.T, backend *queue.MemoryBackend, w *queue.Worker) {
	t.Helper()
	ctx := context.Background()
	for {
		id, ok := backend.Dequeue()
		if !ok {
			return
		}
		job, err := backend.GetJob(ctx, id)
		require.NoError(t, err)
		if job.Status.Terminal() {
			continue
		}
		w.ProcessJob(ctx, job)
	}
}

func newRunFixture(t *testing.T, cfg Config) (*fixture, *queue.MemoryBackend, *queue.Worker, *Orchestrator) {
	t.Helper()
	f := newFixture(cfg)
	backend := queue.NewMemoryBackend()
	q := queue.NewQueue(backend, testLogger())
	w := queue.NewWorker(backend, nil, queue.DefaultWorkerConfig(), testLogger())
	f.tasks.Register(w)
	orch := NewOrchestrator(q, f.reader, f.metadata, testLogger())
	return f, backend, w, orch
}

func TestRemoveAssetDropsNodesAndRecord(t *testing.T) {
	f := newFixture(Config{Threshold: 0.75})
	ctx := context.Background()

	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(ordersPath)))
	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(customersPath)))
	require.NoError(t, f.tasks.ProfilePair(ctx, pairJob(ordersPath, customersPath)))
	require.NotNil(t, f.graph.findEdge("data/orders.csv/customer_id", "data/customers.csv/customer_id", models.RelationMatch))

	require.NoError(t, f.tasks.RemoveAsset(ctx, ordersPath))

	assert.False(t, f.graph.nodes["data/orders.csv/order_id"])
	assert.False(t, f.graph.nodes["data/orders.csv/customer_id"])
	assert.Nil(t, f.graph.findEdge("data/orders.csv/customer_id", "data/customers.csv/customer_id", models.RelationMatch))
	// The other asset is untouched.
	assert.True(t, f.graph.nodes["data/customers.csv/customer_id"])

	_, err := f.metadata.Get(ctx, ordersPath)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Equal(t, []string{ordersPath}, f.emitter.deleted)
}

func TestRemoveAssetUnknownPath(t *testing.T) {
	f := newFixture(Config{})

	err := f.tasks.RemoveAsset(context.Background(), "data/ghost.csv")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Empty(t, f.emitter.deleted)
}

func TestRemoveProfileProperty(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()

	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(ordersPath)))
	nodeID := "data/orders.csv/customer_id"
	require.Contains(t, f.graph.profiles[nodeID], "cardinality")

	require.NoError(t, f.tasks.RemoveProfileProperty(ctx, ordersPath, "customer_id", "cardinality"))
	assert.NotContains(t, f.graph.profiles[nodeID], "cardinality")

	err := f.tasks.RemoveProfileProperty(ctx, ordersPath, "no_such_column", "cardinality")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestIngestAllRunsToCompletion(t *testing.T) {
	cfg := Config{Threshold: 0.75}
	f, backend, w, orch := newRunFixture(t, cfg)
	ctx := context.Background()

	f.discoverer.candidates = []models.FDCandidate{
		{DependentID: "data/orders.csv/customer_id", ReferencedID: "data/customers.csv/customer_id"},
	}

	rootID, err := orch.IngestAll(ctx)
	require.NoError(t, err)

	drain(t, backend, w)

	tree, err := orch.Status(ctx, rootID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, tree.Status)
	require.Len(t, tree.Children, 4)
	for _, child := range tree.Children {
		require.NotNil(t, child)
		assert.Equal(t, models.JobStatusSucceeded, child.Status)
	}

	// Both assets ingested, one MATCH edge and one foreign-key edge.
	assert.Len(t, f.metadata.records, 2)
	assert.NotNil(t, f.graph.findEdge("data/orders.csv/customer_id", "data/customers.csv/customer_id", models.RelationMatch))
	assert.NotNil(t, f.graph.findEdge("data/orders.csv/customer_id", "data/customers.csv/customer_id", models.RelationForeignKeyMetanome))
	assert.Equal(t, 1, f.discoverer.calls)
	assert.Equal(t, 1, f.pruner.calls)
	assert.Equal(t, []string{rootID}, f.emitter.completed)
}

func TestIngestAllIsolatesFailedAsset(t *testing.T) {
	cfg := Config{Threshold: 0.75}
	f, backend, w, orch := newRunFixture(t, cfg)
	ctx := context.Background()

	f.reader.fail[customersPath] = fmt.Errorf("%w: truncated file", models.ErrMalformedInput)

	rootID, err := orch.IngestAll(ctx)
	require.NoError(t, err)

	drain(t, backend, w)

	// The broken asset never commits, the pair against it is skipped, and
	// the downstream stages still run.
	assert.Len(t, f.metadata.records, 1)
	assert.Empty(t, f.graph.edges)
	assert.Equal(t, 1, f.discoverer.calls)
	assert.Equal(t, 1, f.pruner.calls)

	tree, err := orch.Status(ctx, rootID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, tree.Status)
}

func TestAddAssetComposesStarFanOut(t *testing.T) {
	cfg := Config{Threshold: 0.75}
	f, backend, w, orch := newRunFixture(t, cfg)
	ctx := context.Background()

	// customers is already part of the corpus.
	require.NoError(t, f.tasks.IngestAsset(ctx, ingestJob(customersPath)))

	rootID, err := orch.AddAsset(ctx, ordersPath)
	require.NoError(t, err)

	drain(t, backend, w)

	tree, err := orch.Status(ctx, rootID)
	require.NoError(t, err)
	assert.Equal(t, "add_asset_run", tree.Name)
	assert.Equal(t, models.JobStatusSucceeded, tree.Status)

	require.Len(t, tree.Children, 4)
	pairGroup := tree.Children[1]
	require.NotNil(t, pairGroup)
	assert.Equal(t, "profile_pairs", pairGroup.Name)
	require.Len(t, pairGroup.Children, 1)
	assert.Equal(t, []string{ordersPath, customersPath}, pairGroup.Children[0].Args)

	assert.NotNil(t, f.graph.findEdge("data/orders.csv/customer_id", "data/customers.csv/customer_id", models.RelationMatch))
}

func TestAddAssetFirstAssetSettles(t *testing.T) {
	// The very first asset has nothing to match against; the run composes an
	// empty profile group and must still read as settled once the remaining
	// stages succeed.
	f, backend, w, orch := newRunFixture(t, Config{Threshold: 0.75})
	ctx := context.Background()

	rootID, err := orch.AddAsset(ctx, ordersPath)
	require.NoError(t, err)

	drain(t, backend, w)

	tree, err := orch.Status(ctx, rootID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, tree.Status)

	require.Len(t, tree.Children, 4)
	pairGroup := tree.Children[1]
	require.NotNil(t, pairGroup)
	assert.Equal(t, "profile_pairs", pairGroup.Name)
	assert.Empty(t, pairGroup.Children)
	assert.Equal(t, models.JobStatusSucceeded, pairGroup.Status)

	assert.Len(t, f.metadata.records, 1)
	assert.Equal(t, 1, f.discoverer.calls)
	assert.Equal(t, 1, f.pruner.calls)
}

func TestStatusUnknownRun(t *testing.T) {
	_, _, _, orch := newRunFixture(t, Config{})

	_, err := orch.Status(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestTaskNamesAreStable(t *testing.T) {
	// Task names are wire identifiers persisted in job records; renaming
	// them breaks in-flight runs.
	for _, name := range []string{TaskIngestAsset, TaskProfilePair, TaskDiscoverFKs, TaskCleanup} {
		assert.False(t, strings.ContainsAny(name, " :|"), name)
	}
}
