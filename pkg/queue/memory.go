package queue

import (
	"context"
	"sync"

	"github.com/OpertusMundi/discovery-service/pkg/models"
)

// MemoryBackend is an in-process Backend with the same barrier semantics as
// the Redis one. Used for single-process runs and tests; it offers no
// durability and no cross-process visibility.
type MemoryBackend struct {
	mu        sync.Mutex
	jobs      map[string]*models.Job
	depsCount map[string]int
	waiters   map[string][]string
	queuedSet map[string]bool
	queued    []string
	history   []string
	attempts  map[string]int
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		jobs:      make(map[string]*models.Job),
		depsCount: make(map[string]int),
		waiters:   make(map[string][]string),
		queuedSet: make(map[string]bool),
		attempts:  make(map[string]int),
	}
}

func (b *MemoryBackend) SaveJob(_ context.Context, job *models.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := *job
	b.jobs[job.ID] = &copied
	return nil
}

func (b *MemoryBackend) GetJob(_ context.Context, id string) (*models.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (b *MemoryBackend) AddDependencies(_ context.Context, id string, deps []string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := 0
	for _, dep := range deps {
		if job, ok := b.jobs[dep]; ok && job.Status.Terminal() {
			continue
		}
		b.waiters[dep] = append(b.waiters[dep], id)
		remaining++
	}
	b.depsCount[id] = remaining
	return remaining == 0, nil
}

func (b *MemoryBackend) Enqueue(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueueLocked(id)
	return nil
}

func (b *MemoryBackend) enqueueLocked(id string) {
	if b.queuedSet[id] {
		return
	}
	b.queuedSet[id] = true
	b.queued = append(b.queued, id)
	b.history = append(b.history, id)
}

func (b *MemoryBackend) MarkStarted(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	job.Status = models.JobStatusStarted
	job.UpdatedAt = nowUTC()
	return nil
}

func (b *MemoryBackend) MarkTerminal(_ context.Context, id string, status models.JobStatus, errMsg string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = nowUTC()

	var released []string
	for _, waiter := range b.waiters[id] {
		b.depsCount[waiter]--
		if b.depsCount[waiter] <= 0 {
			b.enqueueLocked(waiter)
			released = append(released, waiter)
		}
	}
	delete(b.waiters, id)
	return released, nil
}

func (b *MemoryBackend) MarkRetrying(_ context.Context, id string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	b.attempts[id]++
	job.Status = models.JobStatusRetrying
	job.UpdatedAt = nowUTC()
	delete(b.queuedSet, id)
	b.enqueueLocked(id)
	return b.attempts[id], nil
}

func (b *MemoryBackend) Purge(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs = make(map[string]*models.Job)
	b.depsCount = make(map[string]int)
	b.waiters = make(map[string][]string)
	b.queuedSet = make(map[string]bool)
	b.queued = nil
	b.history = nil
	b.attempts = make(map[string]int)
	return nil
}

// Dequeue pops the next runnable job id, or false when the queue is empty.
func (b *MemoryBackend) Dequeue() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queued) == 0 {
		return "", false
	}
	id := b.queued[0]
	b.queued = b.queued[1:]
	return id, true
}

// Enqueued returns every job id enqueued so far, in order, including ids
// already dequeued.
func (b *MemoryBackend) Enqueued() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.history...)
}
