package pipeline

import (
	"testing"
	"time"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestNewJob(t *testing.T) {
	a, b := NewJob("JDX-SLX-042"), NewJob("JDX-SLX-042")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct job ids, got %q and %q", a.ID, b.ID)
	}
	snap := a.Snapshot()
	if snap.Status != StatusQueued || snap.Progress.TotalSteps != TotalSteps || snap.ChataID != "JDX-SLX-042" {
		t.Errorf("unexpected new job %+v", snap)
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := NewJob("JDX-SLX-042")
	transitions := []struct {
		step   int
		status JobStatus
		phase  string
	}{
		{1, StatusLoading, "record"},
		{2, StatusLoading, "placeholders"},
		{3, StatusLoading, "supporting_documents"},
		{4, StatusGenerating, "batch 1/3"},
		{5, StatusPopulating, "template"},
		{6, StatusNotifying, "notify"},
	}
	for _, tr := range transitions {
		before := job.Snapshot().UpdatedAt
		time.Sleep(time.Millisecond)
		job.SetStep(tr.step, tr.status, tr.phase)

		snap := job.Snapshot()
		if snap.Status != tr.status || snap.Phase != tr.phase || snap.Progress.Step != tr.step {
			t.Errorf("expected %d %q %q, got %+v", tr.step, tr.status, tr.phase, snap)
		}
		if !snap.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance at step %d", tr.step)
		}
	}
	job.Complete("/reports/r.docx")
	if snap := job.Snapshot(); snap.Status != StatusCompleted || snap.Percent != 100 || snap.ReportPath != "/reports/r.docx" {
		t.Errorf("unexpected completed job %+v", snap)
	}
}

func TestJob_PercentCountsBatches(t *testing.T) {
	job := NewJob("JDX-SLX-042")
	if p := job.Snapshot().Percent; p != 0 {
		t.Errorf("expected 0%%, got %d", p)
	}
	job.SetStep(4, StatusGenerating, "batch")
	job.SetBatches(3)
	if p := job.Snapshot().Percent; p != 50 {
		t.Errorf("expected 50%% at the start of generation, got %d", p)
	}
	job.BatchDone()
	job.BatchDone()
	job.BatchDone()
	if p := job.Snapshot().Percent; p != 66 {
		t.Errorf("expected 66%% after all batches, got %d", p)
	}
}

func TestJob_AddError(t *testing.T) {
	job := &Job{ID: "err-test", UpdatedAt: time.Now()}
	job.AddError("batch 2: missing ids: C007")
	job.AddError("populate failed")

	snap := job.Snapshot()
	if len(snap.Progress.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(snap.Progress.Errors))
	}
	if snap.Progress.Errors[0] != "batch 2: missing ids: C007" {
		t.Errorf("unexpected first error %q", snap.Progress.Errors[0])
	}

	// The snapshot must not alias job state.
	snap.Progress.Errors[0] = "changed"
	if job.Snapshot().Progress.Errors[0] == "changed" {
		t.Error("snapshot errors alias the job")
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	job := &Job{ID: "snap-test", UpdatedAt: time.Now()}
	snap := job.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := &Job{ID: "store-1", UpdatedAt: time.Now()}
	store.Put(job)

	if got := store.Get("store-1"); got == nil || got.ID != "store-1" {
		t.Fatalf("expected to get job back, got %v", got)
	}
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_ActiveAndLatest(t *testing.T) {
	store := NewJobStore(time.Hour)
	old := NewJob("JDX-SLX-042")
	old.CreatedAt = time.Now().Add(-time.Minute)
	old.SetStatus(StatusFailed, "generate")
	store.Put(old)

	if store.Active("JDX-SLX-042") != nil {
		t.Error("failed job should not be active")
	}

	running := NewJob("JDX-SLX-042")
	running.SetStatus(StatusGenerating, "batch 1/3")
	store.Put(running)
	store.Put(NewJob("OTH-ERS-001"))

	if got := store.Active("JDX-SLX-042"); got != running {
		t.Errorf("expected running job, got %v", got)
	}
	if got := store.Latest("JDX-SLX-042"); got != running {
		t.Errorf("expected latest job to be the running one, got %v", got)
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	expired := &Job{ID: "old", Status: StatusCompleted, UpdatedAt: time.Now()}
	stuck := &Job{ID: "running", Status: StatusGenerating, UpdatedAt: time.Now()}
	store.Put(expired)
	store.Put(stuck)

	time.Sleep(100 * time.Millisecond)

	fresh := &Job{ID: "new", Status: StatusCompleted, UpdatedAt: time.Now()}
	store.Put(fresh)

	store.Cleanup()

	if store.Get("old") != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get("running") == nil {
		t.Error("unfinished jobs are never evicted")
	}
	if store.Get("new") == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}
