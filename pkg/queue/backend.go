// Package queue implements the distributed task queue: job records and
// dependency barriers in Redis, a Redis Streams transport, a worker pool and
// status-tree reconstruction. Redis is the source of truth for job state; a
// tree can be reconstructed from any process, not just the submitter.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/redis"
)

const (
	jobKeyPrefix     = "job:"
	depsKeyPrefix    = "jobdeps:"
	waitersKeyPrefix = "jobwaiters:"
	queuedKeyPrefix  = "jobqueued:"
	triesKeyPrefix   = "jobtries:"
)

// Backend persists job records and dependency barriers. All mutations are
// keyed by job id so concurrent writers stay commutative.
type Backend interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// AddDependencies registers the jobs this one waits on. It returns true
	// when the job has no outstanding dependencies and can run immediately.
	AddDependencies(ctx context.Context, id string, deps []string) (bool, error)

	// Enqueue pushes the job onto the transport, at most once per job.
	Enqueue(ctx context.Context, id string) error

	MarkStarted(ctx context.Context, id string) error

	// MarkTerminal records a settled status and releases every dependent
	// whose barrier count reached zero, returning the released ids.
	MarkTerminal(ctx context.Context, id string, status models.JobStatus, errMsg string) ([]string, error)

	// MarkRetrying re-enqueues the job and returns the attempt count so far.
	MarkRetrying(ctx context.Context, id string) (int, error)

	Purge(ctx context.Context) error
}

// RedisBackend is the production Backend over Redis.
type RedisBackend struct {
	client  *redis.Client
	streams *redis.Streams
	stream  string
	logger  ectologger.Logger
}

// NewRedisBackend creates a Redis-backed job store publishing runnable jobs
// to the given stream.
func NewRedisBackend(client *redis.Client, stream string, logger ectologger.Logger) *RedisBackend {
	return &RedisBackend{
		client:  client,
		streams: redis.NewStreams(client),
		stream:  stream,
		logger:  logger,
	}
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.New().String()
}

func (b *RedisBackend) SaveJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	if err := b.client.Set(ctx, jobKeyPrefix+job.ID, data, 0); err != nil {
		return fmt.Errorf("%w: failed to save job %s: %v", models.ErrUpstreamUnavailable, job.ID, err)
	}
	return nil
}

func (b *RedisBackend) GetJob(ctx context.Context, id string) (*models.Job, error) {
	raw, err := b.client.Get(ctx, jobKeyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read job %s: %v", models.ErrUpstreamUnavailable, id, err)
	}
	if raw == "" {
		return nil, models.ErrNotFound
	}
	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (b *RedisBackend) AddDependencies(ctx context.Context, id string, deps []string) (bool, error) {
	if len(deps) == 0 {
		return true, nil
	}

	rdb := b.client.Redis()
	if err := rdb.IncrBy(ctx, depsKeyPrefix+id, int64(len(deps))).Err(); err != nil {
		return false, fmt.Errorf("%w: failed to register dependencies for %s: %v", models.ErrUpstreamUnavailable, id, err)
	}

	remaining := int64(len(deps))
	for _, dep := range deps {
		if err := rdb.SAdd(ctx, waitersKeyPrefix+dep, id).Err(); err != nil {
			return false, fmt.Errorf("%w: failed to register waiter on %s: %v", models.ErrUpstreamUnavailable, dep, err)
		}

		// A dependency may already have settled before we registered; its
		// completion event will never fire for us, so release it here.
		job, err := b.GetJob(ctx, dep)
		if err != nil && err != models.ErrNotFound {
			return false, err
		}
		if job != nil && job.Status.Terminal() {
			if removed, err := rdb.SRem(ctx, waitersKeyPrefix+dep, id).Result(); err == nil && removed > 0 {
				count, err := rdb.Decr(ctx, depsKeyPrefix+id).Result()
				if err != nil {
					return false, fmt.Errorf("%w: failed to release dependency %s: %v", models.ErrUpstreamUnavailable, dep, err)
				}
				remaining = count
			}
		}
	}

	return remaining <= 0, nil
}

func (b *RedisBackend) Enqueue(ctx context.Context, id string) error {
	// SETNX guards against double-submission when two writers release the
	// same barrier concurrently.
	ok, err := b.client.Redis().SetNX(ctx, queuedKeyPrefix+id, "1", 0).Result()
	if err != nil {
		return fmt.Errorf("%w: failed to mark job %s queued: %v", models.ErrUpstreamUnavailable, id, err)
	}
	if !ok {
		return nil
	}
	if _, err := b.streams.Publish(ctx, b.stream, map[string]any{"job_id": id}); err != nil {
		return fmt.Errorf("%w: failed to enqueue job %s: %v", models.ErrUpstreamUnavailable, id, err)
	}
	return nil
}

func (b *RedisBackend) MarkStarted(ctx context.Context, id string) error {
	return b.setStatus(ctx, id, models.JobStatusStarted, "")
}

func (b *RedisBackend) MarkTerminal(ctx context.Context, id string, status models.JobStatus, errMsg string) ([]string, error) {
	if err := b.setStatus(ctx, id, status, errMsg); err != nil {
		return nil, err
	}

	rdb := b.client.Redis()
	waiters, err := rdb.SMembers(ctx, waitersKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read waiters of %s: %v", models.ErrUpstreamUnavailable, id, err)
	}

	var released []string
	for _, waiter := range waiters {
		removed, err := rdb.SRem(ctx, waitersKeyPrefix+id, waiter).Result()
		if err != nil || removed == 0 {
			continue
		}
		count, err := rdb.Decr(ctx, depsKeyPrefix+waiter).Result()
		if err != nil {
			return released, fmt.Errorf("%w: failed to release waiter %s: %v", models.ErrUpstreamUnavailable, waiter, err)
		}
		if count <= 0 {
			if err := b.Enqueue(ctx, waiter); err != nil {
				return released, err
			}
			released = append(released, waiter)
		}
	}
	return released, nil
}

func (b *RedisBackend) MarkRetrying(ctx context.Context, id string) (int, error) {
	attempts, err := b.client.Redis().Incr(ctx, triesKeyPrefix+id).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count attempts for %s: %v", models.ErrUpstreamUnavailable, id, err)
	}
	if err := b.setStatus(ctx, id, models.JobStatusRetrying, ""); err != nil {
		return int(attempts), err
	}
	if err := b.client.Del(ctx, queuedKeyPrefix+id); err != nil {
		return int(attempts), fmt.Errorf("%w: failed to requeue %s: %v", models.ErrUpstreamUnavailable, id, err)
	}
	return int(attempts), b.Enqueue(ctx, id)
}

func (b *RedisBackend) Purge(ctx context.Context) error {
	for _, pattern := range []string{jobKeyPrefix, depsKeyPrefix, waitersKeyPrefix, queuedKeyPrefix, triesKeyPrefix} {
		keys, err := b.client.ScanKeys(ctx, pattern+"*")
		if err != nil {
			return fmt.Errorf("failed to scan %s keys: %w", pattern, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := b.client.Del(ctx, keys...); err != nil {
			return fmt.Errorf("failed to purge %s keys: %w", pattern, err)
		}
	}
	return nil
}

func (b *RedisBackend) setStatus(ctx context.Context, id string, status models.JobStatus, errMsg string) error {
	job, err := b.GetJob(ctx, id)
	if err != nil {
		return err
	}
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = nowUTC()
	return b.SaveJob(ctx, job)
}
