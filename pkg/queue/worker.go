package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/OpertusMundi/discovery-service/pkg/metrics"
	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/redis"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

// Handler executes one task job. A nil error marks the job SUCCEEDED;
// upstream-unavailable and collaborator-timeout errors are retried up to the
// configured limit, anything else fails the job immediately.
type Handler func(ctx context.Context, job *models.Job) error

const (
	// DefaultBatchSize is the default number of messages to consume at once
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for messages
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of attempts before a job fails
	DefaultMaxRetries = 3
)

// WorkerConfig holds configuration for the queue worker
type WorkerConfig struct {
	// Stream name for the job queue
	Stream string

	// Consumer group name
	ConsumerGroup string

	// Consumer name (unique per instance)
	ConsumerName string

	// Number of messages to fetch per batch
	BatchSize int64

	// How long to block waiting for new messages
	BlockTimeout time.Duration

	// Maximum number of attempts for a retryable failure
	MaxRetries int

	// Number of worker goroutines
	WorkerCount int
}

// DefaultWorkerConfig returns the default worker configuration
func DefaultWorkerConfig() WorkerConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.New().String()[:8]
	}

	return WorkerConfig{
		Stream:        "discovery:jobs",
		ConsumerGroup: "discovery-workers",
		ConsumerName:  hostname,
		BatchSize:     DefaultBatchSize,
		BlockTimeout:  DefaultBlockTimeout,
		MaxRetries:    DefaultMaxRetries,
		WorkerCount:   1,
	}
}

// Worker consumes job ids from the Redis Stream and dispatches them to
// registered handlers by task name.
type Worker struct {
	backend  Backend
	streams  *redis.Streams
	handlers map[string]Handler
	config   WorkerConfig
	logger   ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	jobsCh   chan redis.StreamMessage

	running bool
	mu      sync.RWMutex
}

// NewWorker creates a worker over the given backend and transport.
func NewWorker(backend Backend, streams *redis.Streams, config WorkerConfig, logger ectologger.Logger) *Worker {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &Worker{
		backend:  backend,
		streams:  streams,
		handlers: make(map[string]Handler),
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
		jobsCh:   make(chan redis.StreamMessage, config.BatchSize*2),
	}
}

// Register binds a handler to a task name. Must be called before Start.
func (w *Worker) Register(name string, handler Handler) {
	w.handlers[name] = handler
}

// Start starts the consumer loop and the worker pool.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.logger.WithContext(ctx).Infof("Starting queue worker: stream=%s group=%s consumer=%s workers=%d",
		w.config.Stream, w.config.ConsumerGroup, w.config.ConsumerName, w.config.WorkerCount)

	if err := w.streams.CreateConsumerGroup(ctx, w.config.Stream, w.config.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < w.config.WorkerCount; i++ {
		wg.Add(1)
		go w.worker(ctx, &wg, i)
	}

	wg.Add(1)
	go w.consumeLoop(ctx, &wg)

	go func() {
		<-w.stopCh
		close(w.jobsCh)
		wg.Wait()
		close(w.stoppedC)
	}()

	return nil
}

// Stop stops the worker gracefully.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.stoppedC:
		w.logger.WithContext(ctx).Info("Queue worker stopped")
	case <-ctx.Done():
		w.logger.WithContext(ctx).Warn("Queue worker shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning reports whether the worker is running.
func (w *Worker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Worker) consumeLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		messages, err := w.streams.Consume(
			ctx,
			w.config.Stream,
			w.config.ConsumerGroup,
			w.config.ConsumerName,
			w.config.BatchSize,
			w.config.BlockTimeout,
		)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithContext(ctx).WithError(err).Warn("Failed to consume messages")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			select {
			case w.jobsCh <- msg:
			case <-w.stopCh:
				return
			}
		}
	}
}

func (w *Worker) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	w.logger.WithContext(ctx).Debugf("Worker %d started", id)

	for msg := range w.jobsCh {
		w.processMessage(ctx, msg)
		if err := w.streams.Ack(ctx, w.config.Stream, w.config.ConsumerGroup, msg.ID); err != nil {
			w.logger.WithContext(ctx).WithError(err).Warnf("Failed to ack message %s", msg.ID)
		}
	}

	w.logger.WithContext(ctx).Debugf("Worker %d stopped", id)
}

func (w *Worker) processMessage(ctx context.Context, msg redis.StreamMessage) {
	jobID, _ := msg.Payload["job_id"].(string)
	if jobID == "" {
		w.logger.WithContext(ctx).Warnf("Message %s carries no job id", msg.ID)
		return
	}

	job, err := w.backend.GetJob(ctx, jobID)
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).Warnf("Failed to load job %s", jobID)
		return
	}
	if job.Status.Terminal() {
		return
	}

	w.ProcessJob(ctx, job)
}

// ProcessJob runs one job through its handler and records the outcome.
func (w *Worker) ProcessJob(ctx context.Context, job *models.Job) {
	ctx, span := tracing.StartSpan(ctx, "Worker.ProcessJob")
	defer span.End()

	start := time.Now()

	logger := w.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": job.ID,
		"task":   job.Name,
	})
	logger.Infof("Processing job %s: task=%s", job.ID, job.Name)

	handler, ok := w.handlers[job.Name]
	if !ok {
		w.settle(ctx, job.ID, models.JobStatusFailed, fmt.Sprintf("no handler registered for task %s", job.Name))
		metrics.RecordTask(job.Name, "failed", time.Since(start))
		return
	}

	if err := w.backend.MarkStarted(ctx, job.ID); err != nil {
		logger.WithError(err).Warn("Failed to mark job started")
	}

	err := handler(ctx, job)
	duration := time.Since(start)

	switch {
	case err == nil:
		w.settle(ctx, job.ID, models.JobStatusSucceeded, "")
		metrics.RecordTask(job.Name, "succeeded", duration)
		logger.Infof("Job %s completed in %s", job.ID, duration)

	case retryable(err):
		attempts, retryErr := w.backend.MarkRetrying(ctx, job.ID)
		if retryErr != nil {
			logger.WithError(retryErr).Warn("Failed to schedule retry")
			w.settle(ctx, job.ID, models.JobStatusFailed, err.Error())
			metrics.RecordTask(job.Name, "failed", duration)
			return
		}
		if attempts >= w.config.MaxRetries {
			w.settle(ctx, job.ID, models.JobStatusFailed, fmt.Sprintf("gave up after %d attempts: %v", attempts, err))
			metrics.RecordTask(job.Name, "failed", duration)
			return
		}
		metrics.RecordTask(job.Name, "retried", duration)
		logger.WithError(err).Warnf("Job %s failed, attempt %d of %d", job.ID, attempts, w.config.MaxRetries)

	default:
		w.settle(ctx, job.ID, models.JobStatusFailed, err.Error())
		metrics.RecordTask(job.Name, "failed", duration)
		logger.WithError(err).Warnf("Job %s failed after %s", job.ID, duration)
	}
}

func (w *Worker) settle(ctx context.Context, jobID string, status models.JobStatus, errMsg string) {
	released, err := w.backend.MarkTerminal(ctx, jobID, status, errMsg)
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).Errorf("Failed to settle job %s", jobID)
		return
	}
	if len(released) > 0 {
		w.logger.WithContext(ctx).Debugf("Job %s released %d dependents", jobID, len(released))
	}
}

func retryable(err error) bool {
	return errors.Is(err, models.ErrUpstreamUnavailable) || errors.Is(err, models.ErrCollaboratorTimeout)
}
