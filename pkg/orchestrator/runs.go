package orchestrator

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/queue"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

// Orchestrator composes runs over the task queue: every handler executes as
// its own queue job, ordered by dependency barriers rather than in-process
// waits, so any worker can pick up any stage.
type Orchestrator struct {
	queue    *queue.Queue
	reader   AssetReader
	metadata MetadataStore
	logger   ectologger.Logger
}

// NewOrchestrator creates a run composer over the queue.
func NewOrchestrator(q *queue.Queue, reader AssetReader, metadata MetadataStore, logger ectologger.Logger) *Orchestrator {
	return &Orchestrator{
		queue:    q,
		reader:   reader,
		metadata: metadata,
		logger:   logger,
	}
}

// IngestAll composes a full corpus run: one ingest task per stored asset,
// one profile task per unordered asset pair gated on both ingests, then
// dependency discovery gated on the whole matching stage, then cleanup. The
// returned root id addresses the run's status tree.
func (o *Orchestrator) IngestAll(ctx context.Context) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.IngestAll")
	defer span.End()

	assets, err := o.reader.ListAssets(ctx)
	if err != nil {
		return "", err
	}
	if len(assets) == 0 {
		return "", fmt.Errorf("%w: no assets in storage", models.ErrNotFound)
	}

	rootID := queue.NewJobID()
	ingestGroupID := queue.NewJobID()
	matchGroupID := queue.NewJobID()

	ingestIDs := make(map[string]string, len(assets))
	var ingestJobIDs []string
	for _, path := range assets {
		job, err := o.queue.Submit(ctx, TaskIngestAsset, []string{path}, ingestGroupID)
		if err != nil {
			return "", err
		}
		ingestIDs[path] = job.ID
		ingestJobIDs = append(ingestJobIDs, job.ID)
	}
	if _, err := o.queue.Container(ctx, ingestGroupID, models.JobKindGroup, "ingest_assets", nil, rootID, ingestJobIDs); err != nil {
		return "", err
	}

	// Each pair waits on exactly its two ingests, not the whole stage, so
	// matching starts as soon as both sides are settled.
	var pairJobIDs []string
	for i := 0; i < len(assets); i++ {
		for j := i + 1; j < len(assets); j++ {
			job, err := o.queue.Submit(ctx, TaskProfilePair,
				[]string{assets[i], assets[j]}, matchGroupID,
				ingestIDs[assets[i]], ingestIDs[assets[j]])
			if err != nil {
				return "", err
			}
			pairJobIDs = append(pairJobIDs, job.ID)
		}
	}
	if _, err := o.queue.Container(ctx, matchGroupID, models.JobKindGroup, "profile_pairs", nil, rootID, pairJobIDs); err != nil {
		return "", err
	}

	fkDeps := pairJobIDs
	if len(fkDeps) == 0 {
		fkDeps = ingestJobIDs
	}
	fkJob, err := o.queue.Submit(ctx, TaskDiscoverFKs, nil, rootID, fkDeps...)
	if err != nil {
		return "", err
	}
	cleanupJob, err := o.queue.Submit(ctx, TaskCleanup, nil, rootID, fkJob.ID)
	if err != nil {
		return "", err
	}

	if _, err := o.queue.Container(ctx, rootID, models.JobKindChord, "ingest_run", nil, "",
		[]string{ingestGroupID, matchGroupID, fkJob.ID, cleanupJob.ID}); err != nil {
		return "", err
	}

	o.logger.WithContext(ctx).Infof("Composed full run %s: %d assets, %d pairs", rootID, len(assets), len(pairJobIDs))
	return rootID, nil
}

// AddAsset composes an incremental run for one new asset: its ingest, a star
// of profile tasks against every already ingested asset, then discovery and
// cleanup. Already ingested assets are not re-ingested.
func (o *Orchestrator) AddAsset(ctx context.Context, path string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.AddAsset")
	defer span.End()

	existing, err := o.metadata.List(ctx)
	if err != nil {
		return "", err
	}

	rootID := queue.NewJobID()
	matchGroupID := queue.NewJobID()

	ingestJob, err := o.queue.Submit(ctx, TaskIngestAsset, []string{path}, rootID)
	if err != nil {
		return "", err
	}

	var pairJobIDs []string
	for _, record := range existing {
		if record.Path == path {
			continue
		}
		job, err := o.queue.Submit(ctx, TaskProfilePair,
			[]string{path, record.Path}, matchGroupID, ingestJob.ID)
		if err != nil {
			return "", err
		}
		pairJobIDs = append(pairJobIDs, job.ID)
	}
	if _, err := o.queue.Container(ctx, matchGroupID, models.JobKindGroup, "profile_pairs", nil, rootID, pairJobIDs); err != nil {
		return "", err
	}

	fkDeps := pairJobIDs
	if len(fkDeps) == 0 {
		fkDeps = []string{ingestJob.ID}
	}
	fkJob, err := o.queue.Submit(ctx, TaskDiscoverFKs, nil, rootID, fkDeps...)
	if err != nil {
		return "", err
	}
	cleanupJob, err := o.queue.Submit(ctx, TaskCleanup, nil, rootID, fkJob.ID)
	if err != nil {
		return "", err
	}

	if _, err := o.queue.Container(ctx, rootID, models.JobKindChord, "add_asset_run", []string{path}, "",
		[]string{ingestJob.ID, matchGroupID, fkJob.ID, cleanupJob.ID}); err != nil {
		return "", err
	}

	o.logger.WithContext(ctx).Infof("Composed incremental run %s for %s against %d assets", rootID, path, len(pairJobIDs))
	return rootID, nil
}

// ProfilePair submits a single matching task outside any composed run.
func (o *Orchestrator) ProfilePair(ctx context.Context, pathA, pathB string) (string, error) {
	job, err := o.queue.Submit(ctx, TaskProfilePair, []string{pathA, pathB}, "")
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// Status reconstructs the status tree of a run or single task.
func (o *Orchestrator) Status(ctx context.Context, rootID string) (*models.StatusTree, error) {
	tree, err := o.queue.RestoreStatusTree(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, models.ErrNotFound
	}
	return tree, nil
}
