package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acorn-io/subdomain-manager/pkg/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const DefaultConcurrency = 2

var ErrClosed = errors.New("task queue is shut down")

type Func func(ctx context.Context) error

// Task is a handle on work submitted to a Queue.
type Task struct {
	ID   string
	Name string

	err  error
	done chan struct{}
}

// Await blocks until the task has finished and returns its error.
func (t *Task) Await() error {
	<-t.done
	return t.err
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Queue runs submitted work in the background, detached from the caller's context,
// with at most a fixed number of tasks executing at once.
type Queue struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	log    *logrus.Entry

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(ctx context.Context, log *logrus.Entry, concurrency int) *Queue {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Queue{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		log:    log,
	}
}

func (q *Queue) Submit(name string, fn Func) (*Task, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.wg.Add(1)
	q.mu.Unlock()

	t := &Task{
		ID:   uuid.NewString(),
		Name: name,
		done: make(chan struct{}),
	}

	metrics.BackgroundTasks.Inc()
	go func() {
		defer q.wg.Done()
		defer metrics.BackgroundTasks.Dec()
		defer close(t.done)

		log := q.log.WithFields(logrus.Fields{"task": t.Name, "taskID": t.ID})

		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			t.err = err
			log.Warnf("task abandoned before start: %v", err)
			return
		}
		defer q.sem.Release(1)

		t.err = run(q.ctx, fn)
		if t.err != nil {
			log.Errorf("task failed: %v", t.err)
			return
		}
		log.Debug("task finished")
	}()

	return t, nil
}

func run(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every submitted task has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Shutdown stops accepting work and waits for running tasks. If ctx expires first
// the remaining tasks are cancelled and ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
