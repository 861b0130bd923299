package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpertusMundi/discovery-service/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestSubmitWithoutDependenciesEnqueuesImmediately(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())

	job, err := q.Submit(context.Background(), "ingest_asset", []string{"data/orders.csv"}, "")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, []string{job.ID}, backend.Enqueued())

	stored, err := backend.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "ingest_asset", stored.Name)
	assert.Equal(t, models.JobKindTask, stored.Kind)
}

func TestSubmitWaitsForDependencies(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())
	ctx := context.Background()

	depA, err := q.Submit(ctx, "ingest_asset", []string{"a"}, "")
	require.NoError(t, err)
	depB, err := q.Submit(ctx, "ingest_asset", []string{"b"}, "")
	require.NoError(t, err)

	barrier, err := q.Submit(ctx, "discover_foreign_keys", nil, "", depA.ID, depB.ID)
	require.NoError(t, err)

	assert.NotContains(t, backend.Enqueued(), barrier.ID)

	_, err = backend.MarkTerminal(ctx, depA.ID, models.JobStatusSucceeded, "")
	require.NoError(t, err)
	assert.NotContains(t, backend.Enqueued(), barrier.ID)

	// Barriers fire on settlement, success or failure alike.
	released, err := backend.MarkTerminal(ctx, depB.ID, models.JobStatusFailed, "parse error")
	require.NoError(t, err)
	assert.Equal(t, []string{barrier.ID}, released)
	assert.Contains(t, backend.Enqueued(), barrier.ID)
}

func TestSubmitWithAlreadySettledDependency(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())
	ctx := context.Background()

	dep, err := q.Submit(ctx, "ingest_asset", []string{"a"}, "")
	require.NoError(t, err)
	_, err = backend.MarkTerminal(ctx, dep.ID, models.JobStatusSucceeded, "")
	require.NoError(t, err)

	job, err := q.Submit(ctx, "cleanup_relations", nil, "", dep.ID)
	require.NoError(t, err)
	assert.Contains(t, backend.Enqueued(), job.ID)
}

func TestWorkerProcessJobSuccess(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())
	ctx := context.Background()

	job, err := q.Submit(ctx, "ingest_asset", []string{"data/orders.csv"}, "")
	require.NoError(t, err)

	w := NewWorker(backend, nil, DefaultWorkerConfig(), testLogger())
	var gotArgs []string
	w.Register("ingest_asset", func(_ context.Context, j *models.Job) error {
		gotArgs = j.Args
		return nil
	})

	w.ProcessJob(ctx, job)

	assert.Equal(t, []string{"data/orders.csv"}, gotArgs)
	stored, err := backend.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, stored.Status)
}

func TestWorkerProcessJobFailure(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())
	ctx := context.Background()

	job, err := q.Submit(ctx, "ingest_asset", []string{"data/broken.csv"}, "")
	require.NoError(t, err)
	dependent, err := q.Submit(ctx, "cleanup_relations", nil, "", job.ID)
	require.NoError(t, err)

	w := NewWorker(backend, nil, DefaultWorkerConfig(), testLogger())
	w.Register("ingest_asset", func(_ context.Context, _ *models.Job) error {
		return fmt.Errorf("%w: no header row", models.ErrMalformedInput)
	})

	w.ProcessJob(ctx, job)

	stored, err := backend.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "no header row")

	// A failed dependency still releases its dependents.
	assert.Contains(t, backend.Enqueued(), dependent.ID)
}

func TestWorkerRetriesUpstreamErrors(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())
	ctx := context.Background()

	job, err := q.Submit(ctx, "discover_foreign_keys", nil, "")
	require.NoError(t, err)

	cfg := DefaultWorkerConfig()
	cfg.MaxRetries = 3
	w := NewWorker(backend, nil, cfg, testLogger())

	calls := 0
	w.Register("discover_foreign_keys", func(_ context.Context, _ *models.Job) error {
		calls++
		return models.ErrCollaboratorTimeout
	})

	w.ProcessJob(ctx, job)
	stored, _ := backend.GetJob(ctx, job.ID)
	assert.Equal(t, models.JobStatusRetrying, stored.Status)

	w.ProcessJob(ctx, job)
	w.ProcessJob(ctx, job)

	stored, err = backend.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 3, calls)
	assert.Contains(t, stored.Error, "gave up after 3 attempts")
}

func TestWorkerFailsUnknownTask(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())
	ctx := context.Background()

	job, err := q.Submit(ctx, "no_such_task", nil, "")
	require.NoError(t, err)

	w := NewWorker(backend, nil, DefaultWorkerConfig(), testLogger())
	w.ProcessJob(ctx, job)

	stored, err := backend.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "no handler registered")
}

func TestRestoreStatusTree(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())
	ctx := context.Background()

	rootID := NewJobID()

	taskA, err := q.Submit(ctx, "ingest_asset", []string{"a"}, rootID)
	require.NoError(t, err)
	taskB, err := q.Submit(ctx, "ingest_asset", []string{"b"}, rootID)
	require.NoError(t, err)
	taskC, err := q.Submit(ctx, "ingest_asset", []string{"c"}, rootID)
	require.NoError(t, err)

	_, err = q.Container(ctx, rootID, models.JobKindGroup, "ingest_run", nil, "",
		[]string{taskA.ID, taskB.ID, taskC.ID})
	require.NoError(t, err)

	_, err = backend.MarkTerminal(ctx, taskA.ID, models.JobStatusSucceeded, "")
	require.NoError(t, err)
	require.NoError(t, backend.MarkStarted(ctx, taskB.ID))
	_, err = backend.MarkTerminal(ctx, taskC.ID, models.JobStatusFailed, "boom")
	require.NoError(t, err)

	tree, err := q.RestoreStatusTree(ctx, rootID)
	require.NoError(t, err)
	require.NotNil(t, tree)

	assert.Equal(t, "ingest_run", tree.Name)
	require.Len(t, tree.Children, 3)
	assert.Equal(t, models.JobStatusSucceeded, tree.Children[0].Status)
	assert.Equal(t, models.JobStatusStarted, tree.Children[1].Status)
	assert.Equal(t, models.JobStatusFailed, tree.Children[2].Status)

	// One child still running keeps the group unsettled.
	assert.Equal(t, models.JobStatusStarted, tree.Status)
}

func TestRestoreStatusTreeEmptyGroup(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())
	ctx := context.Background()

	groupID := NewJobID()
	_, err := q.Container(ctx, groupID, models.JobKindGroup, "profile_pairs", nil, "", nil)
	require.NoError(t, err)

	// Nothing to wait for: an empty group is settled, not forever pending.
	tree, err := q.RestoreStatusTree(ctx, groupID)
	require.NoError(t, err)
	assert.Empty(t, tree.Children)
	assert.Equal(t, models.JobStatusSucceeded, tree.Status)
}

func TestRestoreStatusTreeMissingBranch(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())
	ctx := context.Background()

	rootID := NewJobID()
	task, err := q.Submit(ctx, "ingest_asset", []string{"a"}, rootID)
	require.NoError(t, err)
	_, err = backend.MarkTerminal(ctx, task.ID, models.JobStatusSucceeded, "")
	require.NoError(t, err)

	_, err = q.Container(ctx, rootID, models.JobKindGroup, "ingest_run", nil, "",
		[]string{task.ID, "evicted-job-id"})
	require.NoError(t, err)

	tree, err := q.RestoreStatusTree(ctx, rootID)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	assert.Nil(t, tree.Children[1])

	// A missing branch can never read as finished.
	assert.Equal(t, models.JobStatusPending, tree.Status)
}

func TestRestoreStatusTreeSharedNodeBecomesRef(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())
	ctx := context.Background()

	rootID := NewJobID()
	groupA := NewJobID()
	groupB := NewJobID()

	shared, err := q.Submit(ctx, "profile_pair", []string{"a", "b"}, groupA)
	require.NoError(t, err)
	_, err = backend.MarkTerminal(ctx, shared.ID, models.JobStatusSucceeded, "")
	require.NoError(t, err)

	_, err = q.Container(ctx, groupA, models.JobKindGroup, "pairs_a", nil, rootID, []string{shared.ID})
	require.NoError(t, err)
	_, err = q.Container(ctx, groupB, models.JobKindGroup, "pairs_b", nil, rootID, []string{shared.ID})
	require.NoError(t, err)
	_, err = q.Container(ctx, rootID, models.JobKindChord, "match_run", nil, "", []string{groupA, groupB})
	require.NoError(t, err)

	tree, err := q.RestoreStatusTree(ctx, rootID)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)

	first := tree.Children[0].Children[0]
	second := tree.Children[1].Children[0]
	assert.False(t, first.Ref)
	assert.True(t, second.Ref)
	assert.Empty(t, second.Children)
}

func TestRestoreStatusTreeUnknownRoot(t *testing.T) {
	backend := NewMemoryBackend()
	q := NewQueue(backend, testLogger())

	tree, err := q.RestoreStatusTree(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, tree)
}

func TestJobReturnsNotFound(t *testing.T) {
	q := NewQueue(NewMemoryBackend(), testLogger())

	_, err := q.Job(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
