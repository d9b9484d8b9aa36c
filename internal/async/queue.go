// Package async provides the bounded-concurrency run queue. A single
// dispatcher goroutine admits pending tasks in submission order through a
// weighted semaphore, so the number of in-flight runs never exceeds the
// configured limit and admission stays FIFO.
package async

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/belticlabs/alternate-ocr/internal/metrics"
)

// Task is one queued unit of work, typically a bound run id.
type Task = func(ctx context.Context) error

type queuedTask struct {
	name string
	task Task
}

// RunQueue executes submitted tasks with bounded concurrency. Failures are
// logged and dropped; the run record already carries the failure detail, so
// the queue has nobody useful to report to.
type RunQueue struct {
	sem *semaphore.Weighted
	log *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []queuedTask
	closed  bool

	// admitCtx gates semaphore waits only. Tasks that already started keep
	// running through Shutdown and are waited for.
	admitCtx context.Context
	cancel   context.CancelFunc

	wg   sync.WaitGroup
	done chan struct{}
}

// NewRunQueue creates a queue admitting at most concurrency tasks at once.
func NewRunQueue(concurrency int64, logger *slog.Logger) *RunQueue {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &RunQueue{
		sem:      semaphore.NewWeighted(concurrency),
		log:      logger,
		admitCtx: ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.dispatch()
	return q
}

// Submit enqueues a task and returns immediately. Tasks are admitted in
// submission order. After Shutdown, submissions are dropped.
func (q *RunQueue) Submit(name string, task Task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.Warn("queue.task.dropped", "task", name, "error", "queue is shut down")
		return
	}
	q.wg.Add(1)
	metrics.QueueDepth.Inc()
	q.pending = append(q.pending, queuedTask{name: name, task: task})
	q.mu.Unlock()
	q.cond.Signal()
}

// dispatch pulls pending tasks one at a time and acquires a slot for each
// before starting it, so admission order is exactly dequeue order.
func (q *RunQueue) dispatch() {
	defer close(q.done)
	for {
		t, ok := q.next()
		if !ok {
			return
		}
		if err := q.sem.Acquire(q.admitCtx, 1); err != nil {
			q.log.Warn("queue.task.dropped", "task", t.name, "error", err)
			metrics.QueueDepth.Dec()
			q.wg.Done()
			continue
		}
		go q.run(t)
	}
}

// next blocks until a task is pending or the queue is closed with nothing
// left. Pending tasks drain even after close; Shutdown's cancelled admission
// context turns them into drops.
func (q *RunQueue) next() (queuedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.pending) > 0 {
			t := q.pending[0]
			q.pending = q.pending[1:]
			return t, true
		}
		if q.closed {
			return queuedTask{}, false
		}
		q.cond.Wait()
	}
}

func (q *RunQueue) run(t queuedTask) {
	defer q.wg.Done()
	defer metrics.QueueDepth.Dec()
	defer q.sem.Release(1)

	q.log.Info("queue.task.start", "task", t.name)
	if err := t.task(context.Background()); err != nil {
		q.log.Error("queue.task.error", "task", t.name, "error", err)
		return
	}
	q.log.Info("queue.task.done", "task", t.name)
}

// Shutdown stops admitting queued tasks and waits for in-flight ones. Tasks
// still waiting for a slot are cancelled and dropped.
func (q *RunQueue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.cancel()
	<-q.done
	q.wg.Wait()
}
