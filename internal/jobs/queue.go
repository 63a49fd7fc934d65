package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/common"
)

// WorkItem carries a snapshot of the job handed to the workers. The workers
// mutate the job only through the Store, never through this copy.
type WorkItem struct {
	Job ProcessingJob
}

// Processor defines how to process a WorkItem.
type Processor interface {
	Process(ctx context.Context, item WorkItem) error
}

// Queue is an in-memory bounded queue for WorkItems with a worker pool. It
// bounds how many provider extractions run concurrently.
type Queue struct {
	log        *slog.Logger
	ch         chan WorkItem
	workers    int
	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancel     context.CancelFunc
	started    bool
	onDrop     func(WorkItem)
	mu         sync.Mutex
}

// NewQueue creates a new Queue with the given capacity and worker count.
func NewQueue(logger *slog.Logger, capacity int, workers int) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = common.DefaultWorkerCount
	}
	return &Queue{
		log:     logger,
		ch:      make(chan WorkItem, capacity),
		workers: workers,
	}
}

// OnDrop registers a handler invoked for items still queued when Shutdown
// runs. Workers stop on context cancellation without draining the buffer, so
// without a handler those accepted jobs would be dropped silently. Register
// before Start.
func (q *Queue) OnDrop(fn func(WorkItem)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDrop = fn
}

// Start launches worker goroutines that consume WorkItems and process them using the provided Processor.
func (q *Queue) Start(ctx context.Context, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, p, i)
	}
	q.started = true
	return nil
}

func (q *Queue) worker(ctx context.Context, p Processor, idx int) {
	defer q.wg.Done()
	log := q.log.With("worker", idx)
	for {
		select {
		case <-ctx.Done():
			log.Debug("worker stopping due to context cancellation")
			return
		case item, ok := <-q.ch:
			if !ok {
				log.Debug("queue closed, worker exiting")
				return
			}
			jobLog := log.With("job_id", item.Job.ID)
			jobLog.Info("processing job", "platform", item.Job.Platform, "status", item.Job.Status)
			start := time.Now()
			if err := p.Process(ctx, item); err != nil {
				jobLog.Error("job processing failed", "err", err, "duration", time.Since(start))
			} else {
				jobLog.Info("job processed", "duration", time.Since(start))
			}
		}
	}
}

// Enqueue adds a WorkItem to the queue (non-blocking if capacity allows).
func (q *Queue) Enqueue(item WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return errors.New("queue not started")
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return errors.New("queue is full")
	}
}

// Shutdown gracefully stops accepting work and waits for workers to finish
// current items up to the provided deadline. Items still buffered afterwards
// are handed to the OnDrop handler: their ids were already returned to
// callers, so they must not vanish without a terminal state.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.cancelOnce.Do(func() {
		// Flip started and close under the lock so a concurrent Enqueue gets
		// a clean error instead of sending on a closed channel.
		q.mu.Lock()
		q.started = false
		if q.cancel != nil {
			q.cancel()
		}
		close(q.ch)
		drop := q.onDrop
		q.mu.Unlock()

		// wait with deadline
		done := make(chan struct{})
		go func() {
			defer close(done)
			q.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
		} else {
			timer := time.NewTimer(deadline)
			defer timer.Stop()
			select {
			case <-done:
			case <-timer.C:
				q.log.Warn("queue shutdown deadline reached; workers may still be running")
			}
		}

		// Workers exit on context cancellation even while items sit in the
		// buffer. Drain whatever is left so every accepted job gets a
		// terminal outcome.
		for item := range q.ch {
			if drop != nil {
				drop(item)
			} else {
				q.log.Warn("dropping queued job on shutdown", "job_id", item.Job.ID)
			}
		}
	})
}
