package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dgallion1/chatareport/internal/config"
)

type processorFunc func(ctx context.Context, job *Job)

func (f processorFunc) Process(ctx context.Context, job *Job) { f(ctx, job) }

type staticPending []string

func (p staticPending) Pending() ([]string, error) { return p, nil }

func testOrchestrator(proc Processor, pending PendingLister, queue int, trigger time.Duration) *Orchestrator {
	cfg := config.Config{WorkerCount: 1, MaxQueueSize: queue, JobTTL: time.Hour, TriggerInterval: trigger}
	return NewOrchestrator(cfg, proc, pending, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOrchestrator_OneActiveJobPerRecord(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	o := testOrchestrator(processorFunc(func(ctx context.Context, job *Job) {
		job.SetStep(4, StatusGenerating, "batch 1/3")
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		job.Complete("/reports/r.docx")
		close(done)
	}), nil, 4, 0)
	o.Start(context.Background())
	defer o.Stop()

	first, created, err := o.Enqueue(testChataID)
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}
	<-started

	again, created, err := o.Enqueue(testChataID)
	if err != nil || created || again != first {
		t.Fatalf("second enqueue should return the running job, got %v created=%v err=%v", again, created, err)
	}
	if o.LatestJob(testChataID) != first || o.GetJob(first.ID) != first {
		t.Error("job lookups should find the running job")
	}

	close(release)
	<-done

	if snap := first.Snapshot(); snap.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", snap.Status)
	}
	// A finished job no longer blocks a new run.
	next, created, err := o.Enqueue(testChataID)
	if err != nil || !created || next == first {
		t.Errorf("expected a new job after completion, created=%v err=%v", created, err)
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := testOrchestrator(processorFunc(func(context.Context, *Job) {}), nil, 1, 0)

	queued, _, err := o.Enqueue("AAA-BBB-001")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := o.Enqueue("AAA-BBB-002"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if o.QueueDepth() != 1 {
		t.Errorf("expected depth 1, got %d", o.QueueDepth())
	}

	o.Stop()
	if snap := queued.Snapshot(); snap.Status != StatusFailed || snap.Phase != "shutdown" {
		t.Errorf("queued job should fail at shutdown, got %s %q", snap.Status, snap.Phase)
	}
	if _, _, err := o.Enqueue("AAA-BBB-003"); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestOrchestrator_EnqueuePending(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := testOrchestrator(processorFunc(func(context.Context, *Job) {}), staticPending{"AAA-BBB-001", "AAA-BBB-002"}, 10, 0)
	defer o.Stop()

	n, err := o.EnqueuePending()
	if err != nil || n != 2 {
		t.Fatalf("expected 2 jobs, got %d (%v)", n, err)
	}
	// Already queued rows are not queued twice.
	if n, err := o.EnqueuePending(); err != nil || n != 0 {
		t.Errorf("expected 0 new jobs, got %d (%v)", n, err)
	}
}

func TestOrchestrator_TriggerPicksUpPendingRows(t *testing.T) {
	defer goleak.VerifyNone(t)

	ran := make(chan string, 4)
	o := testOrchestrator(processorFunc(func(_ context.Context, job *Job) {
		job.Complete("")
		select {
		case ran <- job.ChataID:
		default:
		}
	}), staticPending{"AAA-BBB-001"}, 4, 10*time.Millisecond)
	o.Start(context.Background())
	defer o.Stop()

	select {
	case id := <-ran:
		if id != "AAA-BBB-001" {
			t.Errorf("unexpected job for %s", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("trigger never queued the pending row")
	}
}

func TestOrchestrator_StopCancelsRunningJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	var sawCancel bool
	o := testOrchestrator(processorFunc(func(ctx context.Context, job *Job) {
		close(started)
		<-ctx.Done()
		sawCancel = true
	}), nil, 2, 0)
	o.Start(context.Background())

	if _, _, err := o.Enqueue(testChataID); err != nil {
		t.Fatal(err)
	}
	<-started
	o.Stop()
	o.Stop()

	if !sawCancel {
		t.Error("running job should see cancellation")
	}
}
