package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/chatareport/internal/config"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("orchestrator is stopped")
)

// Processor runs one report job to completion.
type Processor interface {
	Process(ctx context.Context, job *Job)
}

// PendingLister finds rows that are waiting for a report.
type PendingLister interface {
	Pending() ([]string, error)
}

// Orchestrator manages the report generation queue.
type Orchestrator struct {
	jobs    *JobStore
	queue   chan *Job
	proc    Processor
	pending PendingLister
	log     *slog.Logger
	cfg     config.Config

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to run workers.
func NewOrchestrator(cfg config.Config, proc Processor, pending PendingLister, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:    NewJobStore(cfg.JobTTL),
		queue:   make(chan *Job, max(cfg.MaxQueueSize, 1)),
		proc:    proc,
		pending: pending,
		log:     log,
		cfg:     cfg,
	}
}

// Start launches worker goroutines, the pending-row trigger when
// TriggerInterval is set, and job store cleanup.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range max(o.cfg.WorkerCount, 1) {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.proc.Process(workerCtx, job)
				}
			}
		}()
	}

	if o.cfg.TriggerInterval > 0 && o.pending != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			ticker := time.NewTicker(o.cfg.TriggerInterval)
			defer ticker.Stop()
			for {
				select {
				case <-workerCtx.Done():
					return
				case <-ticker.C:
					if n, err := o.EnqueuePending(); err != nil {
						o.log.Warn("pending trigger failed", "error", err)
					} else if n > 0 {
						o.log.Info("pending rows queued", "count", n)
					}
				}
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels in-flight work and waits for the workers. Jobs still queued
// are marked failed.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	for job := range o.queue {
		job.AddError("service stopped before the job ran")
		job.SetStatus(StatusFailed, "shutdown")
	}
}

// Enqueue queues a report for chataID. If a job for chataID is already queued
// or running, that job is returned and created is false.
func (o *Orchestrator) Enqueue(chataID string) (job *Job, created bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return nil, false, ErrStopped
	}
	if job := o.jobs.Active(chataID); job != nil {
		return job, false, nil
	}

	job = NewJob(chataID)
	select {
	case o.queue <- job:
		o.jobs.Put(job)
		return job, true, nil
	default:
		return nil, false, fmt.Errorf("%w (%d)", ErrQueueFull, cap(o.queue))
	}
}

// EnqueuePending queues every pending row that has no active job and
// returns how many jobs were created.
func (o *Orchestrator) EnqueuePending() (int, error) {
	if o.pending == nil {
		return 0, nil
	}
	ids, err := o.pending.Pending()
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	n := 0
	for _, id := range ids {
		_, created, err := o.Enqueue(id)
		if err != nil {
			return n, err
		}
		if created {
			n++
		}
	}
	return n, nil
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// LatestJob returns the most recent job for chataID.
func (o *Orchestrator) LatestJob(chataID string) *Job {
	return o.jobs.Latest(chataID)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
