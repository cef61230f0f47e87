// Package queue runs memory-ingestion work asynchronously off the hot
// recall path: the engine's storage writes and entity linking happen in
// background tasks dispatched through a bounded goroutine pool, with
// per-source-type FIFO ordering, retry with backoff, TTL expiry and
// cooperative cancellation.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/projectmemory/memcore/config"
	"github.com/projectmemory/memcore/internal/store"
)

// State is one point in a task's lifecycle: Queued -> Running ->
// {Completed, FailedRetryable (transient, re-queued), FailedPermanent
// (retries exhausted), Expired (TTL hit before it ran), Cancelled}.
type State string

const (
	StateQueued          State = "queued"
	StateRunning         State = "running"
	StateCompleted       State = "completed"
	StateFailedRetryable State = "failed_retryable"
	StateFailedPermanent State = "failed_permanent"
	StateExpired         State = "expired"
	StateCancelled       State = "cancelled"
)

// Work is the unit of async work the queue executes. A non-nil error is
// treated as retryable unless it was wrapped with Permanent.
type Work func(ctx context.Context) error

// permanentError wraps an error to signal it should not be retried.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Task is a task's externally-visible record, safe to copy.
type Task struct {
	ID         string
	SourceType store.SourceType
	State      State
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// envelope is the internal, pooled task record. Pooling envelopes (rather
// than allocating one per submission) follows the object-pooling idiom
// this codebase already uses for its hot allocation paths.
type envelope struct {
	task   Task
	work   Work
	cancel context.CancelFunc
}

// Queue dispatches Work through a bounded ants.Pool, serializing tasks
// that share a SourceType so a burst of commit-message-sourced memories,
// say, never reorders relative to each other even though unrelated
// sources run fully in parallel.
type Queue struct {
	cfg  config.Config
	pool *ants.Pool

	mu       sync.Mutex
	tasks    map[string]*envelope
	lanes    map[store.SourceType]chan *envelope
	closed   bool
	envelopePool sync.Pool
}

// New builds a Queue backed by an ants.Pool sized to cfg.QueueWorkers.
func New(cfg config.Config) (*Queue, error) {
	p, err := ants.NewPool(cfg.QueueWorkers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("queue: creating worker pool: %w", err)
	}
	q := &Queue{
		cfg:   cfg,
		pool:  p,
		tasks: make(map[string]*envelope),
		lanes: make(map[store.SourceType]chan *envelope),
	}
	q.envelopePool.New = func() any { return &envelope{} }
	return q, nil
}

// Submit enqueues work under sourceType and returns the task ID assigned
// to it. Work for the same sourceType runs in submission order; work for
// different source types runs concurrently up to the pool's capacity.
func (q *Queue) Submit(sourceType store.SourceType, work Work) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("queue: closed")
	}

	e, _ := q.envelopePool.Get().(*envelope)
	*e = envelope{}
	e.task = Task{
		ID:         uuid.NewString(),
		SourceType: sourceType,
		State:      StateQueued,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(q.cfg.TaskTTL),
	}
	e.work = work
	q.tasks[e.task.ID] = e

	lane, ok := q.lanes[sourceType]
	if !ok {
		lane = make(chan *envelope, q.cfg.QueueCapacity)
		q.lanes[sourceType] = lane
		go q.drainLane(lane)
	}
	q.mu.Unlock()

	select {
	case lane <- e:
	default:
		return "", fmt.Errorf("queue: lane %s is at capacity (%d)", sourceType, q.cfg.QueueCapacity)
	}
	return e.task.ID, nil
}

// drainLane runs one source type's tasks strictly in order: it waits for
// each task to finish (including retries) before dispatching the next.
func (q *Queue) drainLane(lane chan *envelope) {
	for e := range lane {
		done := make(chan struct{})
		q.dispatch(e, done)
		<-done
	}
}

// dispatch submits one task attempt to the worker pool and, on a
// retryable failure, re-submits it with backoff until it either succeeds,
// fails permanently, or exhausts its retry budget.
func (q *Queue) dispatch(e *envelope, laneDone chan struct{}) {
	err := q.pool.Submit(func() {
		q.runAttempt(e, laneDone)
	})
	if err != nil {
		q.finish(e, StateFailedPermanent, fmt.Errorf("queue: worker pool rejected task: %w", err))
		close(laneDone)
	}
}

func (q *Queue) runAttempt(e *envelope, laneDone chan struct{}) {
	q.mu.Lock()
	if e.task.State == StateCancelled {
		q.mu.Unlock()
		close(laneDone)
		return
	}
	if time.Now().After(e.task.ExpiresAt) {
		q.mu.Unlock()
		q.finish(e, StateExpired, fmt.Errorf("queue: task expired before it ran"))
		close(laneDone)
		return
	}
	e.task.State = StateRunning
	e.task.Attempts++
	ctx, cancel := context.WithDeadline(context.Background(), e.task.ExpiresAt)
	e.cancel = cancel
	q.mu.Unlock()

	err := e.work(ctx)
	cancel()

	if err == nil {
		q.finish(e, StateCompleted, nil)
		close(laneDone)
		return
	}

	q.mu.Lock()
	wasCancelled := e.task.State == StateCancelled
	q.mu.Unlock()
	if wasCancelled {
		close(laneDone)
		return
	}

	var perm *permanentError
	retryable := true
	if asPermanent(err, &perm) {
		retryable = false
	}

	if !retryable || e.task.Attempts > q.cfg.MaxRetries {
		q.finish(e, StateFailedPermanent, err)
		close(laneDone)
		return
	}

	q.mu.Lock()
	e.task.State = StateFailedRetryable
	e.task.LastError = err.Error()
	q.mu.Unlock()

	backoff := q.cfg.RetryBaseDelay * time.Duration(1<<uint(e.task.Attempts-1))
	timer := time.NewTimer(backoff)
	go func() {
		<-timer.C
		q.dispatch(e, laneDone)
	}()
}

func asPermanent(err error, target **permanentError) bool {
	for err != nil {
		if p, ok := err.(*permanentError); ok {
			*target = p
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (q *Queue) finish(e *envelope, state State, err error) {
	q.mu.Lock()
	e.task.State = state
	if err != nil {
		e.task.LastError = err.Error()
	}
	q.mu.Unlock()
}

// Status returns a snapshot of one task's state, or ok=false if the task
// ID is unknown (never submitted, or already released).
func (q *Queue) Status(taskID string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// Cancel cancels a task that has not reached a terminal state. A queued
// task, or one waiting for a retry, is marked Cancelled and its next
// attempt never runs; a running task is marked Cancelled and its context
// is cancelled, which the work observes cooperatively (work that still
// returns nil ends the task Completed). A task already Completed,
// FailedPermanent, Expired or Cancelled is left unchanged.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	switch e.task.State {
	case StateCompleted, StateFailedPermanent, StateExpired, StateCancelled:
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.task.State = StateCancelled
	return nil
}

// Len reports how many tasks the queue is currently tracking, across all
// states; callers that want only in-flight work should filter by State.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Release drops a finished task's record and returns its envelope to the
// pool. Callers should call this once they've read a terminal Status, to
// bound the queue's tracked-task map.
func (q *Queue) Release(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tasks[taskID]
	if !ok {
		return
	}
	delete(q.tasks, taskID)
	q.envelopePool.Put(e)
}

// Close stops accepting new work and releases the underlying worker pool.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.pool.Release()
}
