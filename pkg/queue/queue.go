package queue

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/OpertusMundi/discovery-service/pkg/models"
)

// Queue composes job graphs over a Backend. Submitted tasks run as soon as
// their dependencies settle; group and chord records only shape the status
// tree and never execute themselves.
type Queue struct {
	backend Backend
	logger  ectologger.Logger
}

// NewQueue creates a queue over the given backend.
func NewQueue(backend Backend, logger ectologger.Logger) *Queue {
	return &Queue{backend: backend, logger: logger}
}

// Submit persists a task job and enqueues it once every dependency has
// settled. Dependencies that already settled count as released; an empty
// deps list enqueues immediately.
func (q *Queue) Submit(ctx context.Context, name string, args []string, parentID string, deps ...string) (*models.Job, error) {
	job := &models.Job{
		ID:        NewJobID(),
		Name:      name,
		Kind:      models.JobKindTask,
		Args:      args,
		Status:    models.JobStatusPending,
		ParentID:  parentID,
		CreatedAt: nowUTC(),
		UpdatedAt: nowUTC(),
	}

	if err := q.backend.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	ready, err := q.backend.AddDependencies(ctx, job.ID, deps)
	if err != nil {
		return nil, err
	}
	if ready {
		if err := q.backend.Enqueue(ctx, job.ID); err != nil {
			return nil, err
		}
	}

	q.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": job.ID,
		"name":   name,
		"deps":   len(deps),
	}).Debug("Submitted task")

	return job, nil
}

// Container persists a group or chord record with the given id. The id is
// chosen by the caller so children can reference it as their parent before
// the container itself exists.
func (q *Queue) Container(ctx context.Context, id string, kind models.JobKind, name string, args []string, parentID string, children []string) (*models.Job, error) {
	job := &models.Job{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Args:      args,
		Status:    models.JobStatusPending,
		ParentID:  parentID,
		Children:  children,
		CreatedAt: nowUTC(),
		UpdatedAt: nowUTC(),
	}
	if err := q.backend.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Job returns the backend record for one job id.
func (q *Queue) Job(ctx context.Context, id string) (*models.Job, error) {
	return q.backend.GetJob(ctx, id)
}

// Purge deletes every job record and barrier key.
func (q *Queue) Purge(ctx context.Context) error {
	return q.backend.Purge(ctx)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
