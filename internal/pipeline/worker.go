package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/chunker"
	"github.com/dgallion1/chatareport/internal/generate"
	"github.com/dgallion1/chatareport/internal/notify"
	"github.com/dgallion1/chatareport/internal/parser"
	"github.com/dgallion1/chatareport/internal/placeholder"
	"github.com/dgallion1/chatareport/internal/report"
	"github.com/dgallion1/chatareport/internal/sheets"
)

// Store is the spreadsheet a worker reads records from and logs into.
type Store interface {
	FindAssessment(chataID string) (*sheets.FormRow, error)
	Placeholders() ([]placeholder.Placeholder, error)
	SetStatus(chataID string, status sheets.RowStatus, reportPath string) error
	AppendLog(e sheets.LogEntry) error
	Pending() ([]string, error)
}

// Populator writes the finished report document.
type Populator interface {
	Populate(chataID string, entries []generate.Entry, images []assessment.Image) (*report.Result, error)
}

// WorkerConfig holds the knobs of one report run.
type WorkerConfig struct {
	BatchSize         int
	MaxBatchAttempts  int
	Retry             RetryPolicy
	MaxContextTokens  int
	SupportingDocsDir string
	LogsDir           string
	Rules             generate.StyleRules
}

// Worker generates one report at a time.
type Worker struct {
	store     Store
	model     generate.Model
	populator Populator
	notifier  notify.Notifier
	log       *slog.Logger
	cfg       WorkerConfig

	sleep func(ctx context.Context, d time.Duration) error
}

func NewWorker(store Store, model generate.Model, populator Populator, notifier notify.Notifier, log *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxBatchAttempts <= 0 {
		cfg.MaxBatchAttempts = 3
	}
	return &Worker{
		store:     store,
		model:     model,
		populator: populator,
		notifier:  notifier,
		log:       log,
		cfg:       cfg,
		sleep:     sleepCtx,
	}
}

// reportRun is the state of one Process call.
type reportRun struct {
	job   *Job
	log   *slog.Logger
	stage string
	rec   *assessment.Record
	start time.Time
}

// Process runs the full report pipeline for a job. Failures are recorded on
// the job, the spreadsheet row, an error report and a notification.
func (w *Worker) Process(ctx context.Context, job *Job) {
	r := &reportRun{
		job:   job,
		log:   w.log.With("job_id", job.ID, "chata_id", job.ChataID),
		stage: "start",
		start: time.Now(),
	}
	defer func() {
		if p := recover(); p != nil {
			w.fail(ctx, r, fmt.Errorf("panic: %v", p), debug.Stack())
		}
	}()

	if err := w.run(ctx, r); err != nil {
		w.fail(ctx, r, err, debug.Stack())
	}
}

func (w *Worker) run(ctx context.Context, r *reportRun) error {
	job := r.job

	// Step 1: record
	r.stage = "record"
	job.SetStep(1, StatusLoading, r.stage)
	row, err := w.store.FindAssessment(job.ChataID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	r.rec = row.Record
	if err := w.store.SetStatus(job.ChataID, sheets.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	// Step 2: placeholder map
	r.stage = "placeholders"
	job.SetStep(2, StatusLoading, r.stage)
	ps, err := w.store.Placeholders()
	if err != nil {
		return fmt.Errorf("load placeholders: %w", err)
	}
	if err := placeholder.Validate(ps); err != nil {
		return fmt.Errorf("placeholder map: %w", err)
	}

	// Step 3: supporting documents
	r.stage = "supporting_documents"
	job.SetStep(3, StatusLoading, r.stage)
	supporting, err := w.supporting(ctx, r)
	if err != nil {
		return err
	}

	// Step 4: generation, one batch at a time
	r.stage = "generate"
	job.SetStep(4, StatusGenerating, r.stage)
	batches := chunker.Partition(ps, w.cfg.BatchSize)
	job.SetBatches(len(batches))
	r.log.Info("generating report", "placeholders", len(ps), "batches", len(batches), "supporting_sections", len(supporting))

	system := generate.BuildSystemPrompt(w.cfg.Rules)
	entries := make([]generate.Entry, 0, len(ps))
	for i, batch := range batches {
		in := generate.PromptInput{
			Record:     r.rec,
			Batch:      batch,
			BatchIndex: i,
			BatchCount: len(batches),
			Supporting: supporting,
		}
		job.SetStep(4, StatusGenerating, fmt.Sprintf("batch %d/%d", i+1, len(batches)))
		got, err := w.generateBatch(ctx, r, system, in)
		if err != nil {
			return err
		}
		entries = append(entries, got...)
		job.BatchDone()
	}

	// Step 5: template
	r.stage = "populate"
	job.SetStep(5, StatusPopulating, r.stage)
	res, err := w.populator.Populate(job.ChataID, entries, r.rec.Images)
	if err != nil {
		return fmt.Errorf("populate template: %w", err)
	}
	if err := w.store.SetStatus(job.ChataID, sheets.StatusComplete, res.Path); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	w.appendLog(r.log, sheets.LogEntry{
		ChataID:   job.ChataID,
		Operation: "generate_report",
		Status:    "complete",
		Duration:  time.Since(r.start),
		Message:   filepath.Base(res.Path),
	})

	// Step 6: notify. The report exists at this point, so a delivery
	// failure is recorded but does not fail the job.
	r.stage = "notify"
	job.SetStep(6, StatusNotifying, r.stage)
	if err := w.notifyComplete(ctx, r, res); err != nil {
		r.log.Error("notification failed", "error", err)
		job.AddError(fmt.Sprintf("notify: %s", err))
	}

	job.Complete(res.Path)
	r.log.Info("report complete", "path", res.Path, "filled", len(res.Filled), "duration", time.Since(r.start))
	return nil
}

// supporting parses the record's uploaded documents and trims them to the
// prompt budget.
func (w *Worker) supporting(ctx context.Context, r *reportRun) ([]chunker.Section, error) {
	if w.cfg.SupportingDocsDir == "" {
		return nil, nil
	}
	docs, err := parser.ParseDir(ctx, filepath.Join(w.cfg.SupportingDocsDir, r.job.ChataID))
	if err != nil {
		return nil, fmt.Errorf("supporting documents: %w", err)
	}
	var sections []chunker.Section
	for _, d := range docs {
		sections = append(sections, d.Budgeted()...)
	}
	fitted, cut := chunker.Fit(sections, w.cfg.MaxContextTokens)
	if cut {
		r.log.Warn("supporting documents truncated", "documents", len(docs), "sections_kept", len(fitted), "sections", len(sections))
	}
	return fitted, nil
}

// generateBatch asks for one batch until the response has the right shape
// or MaxBatchAttempts is spent.
func (w *Worker) generateBatch(ctx context.Context, r *reportRun, system string, in generate.PromptInput) ([]generate.Entry, error) {
	prompt := generate.BuildBatchPrompt(in)
	ids := placeholder.IDs(in.Batch)
	n := in.BatchIndex + 1
	log := r.log.With("batch", n)

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxBatchAttempts; attempt++ {
		text, err := w.complete(ctx, r, system, prompt, n, attempt)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", n, err)
		}

		resp, err := generate.ParseResponse(text, ids)
		if err != nil {
			var be *generate.BatchError
			if !errors.As(err, &be) {
				return nil, fmt.Errorf("batch %d: %w", n, err)
			}
			log.Warn("batch response rejected", "attempt", attempt, "error", err)
			r.job.AddError(fmt.Sprintf("batch %d attempt %d: %s", n, attempt, err))
			w.appendLog(log, sheets.LogEntry{
				ChataID:   r.job.ChataID,
				Operation: "parse_batch",
				Batch:     n,
				Attempt:   attempt,
				Status:    "rejected",
				Message:   err.Error(),
			})
			lastErr = err
			continue
		}

		if len(resp.Extra) > 0 {
			log.Warn("ignoring content for unrequested ids", "ids", resp.Extra)
		}
		if in.Final() && !resp.TaskComplete {
			log.Warn("final batch did not confirm task completion")
		}
		log.Info("batch complete", "ids", len(resp.Entries), "attempt", attempt)
		return resp.Entries, nil
	}
	return nil, fmt.Errorf("batch %d: gave up after %d attempts: %w", n, w.cfg.MaxBatchAttempts, lastErr)
}

// complete makes one model call, retrying network failures with backoff.
func (w *Worker) complete(ctx context.Context, r *reportRun, system, prompt string, batch, batchAttempt int) (string, error) {
	p := w.cfg.Retry
	for retry := 0; ; retry++ {
		r.job.IncrAttempts()
		start := time.Now()
		text, err := w.model.Complete(ctx, system, prompt)
		entry := sheets.LogEntry{
			ChataID:   r.job.ChataID,
			Operation: "llm_call",
			Batch:     batch,
			Attempt:   batchAttempt,
			Status:    "ok",
			Duration:  time.Since(start),
		}
		if err == nil {
			w.appendLog(r.log, entry)
			return text, nil
		}

		entry.Message = err.Error()
		if !IsRetryable(err) || retry >= p.MaxRetries {
			entry.Status = "error"
			w.appendLog(r.log, entry)
			return "", err
		}
		entry.Status = "retry"
		w.appendLog(r.log, entry)

		delay := p.Backoff(err, retry)
		r.log.Warn("retryable llm error", "batch", batch, "retry", retry+1, "delay", delay, "error", err)
		if err := w.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (w *Worker) notifyComplete(ctx context.Context, r *reportRun, res *report.Result) error {
	data, err := os.ReadFile(res.Path)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	var body strings.Builder
	fmt.Fprintf(&body, "The CHATA report for %s (%s) is ready.\n", r.rec.ChildName(), r.job.ChataID)
	if len(res.Unfilled) > 0 {
		fmt.Fprintf(&body, "\nThese sections were left empty and need to be written by hand: %s\n", strings.Join(res.Unfilled, ", "))
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(&body, "\nThese images could not be embedded: %s\n", strings.Join(res.Skipped, ", "))
	}
	return w.notifier.Notify(ctx, notify.Message{
		Kind:    notify.KindComplete,
		ChataID: r.job.ChataID,
		To:      recipients(r.rec),
		Subject: "CHATA report ready: " + r.job.ChataID,
		Body:    body.String(),
		Attachments: []notify.Attachment{{
			Name:        filepath.Base(res.Path),
			ContentType: notify.DocxContentType,
			Data:        data,
		}},
	})
}

// fail records a failed run everywhere a clinician or operator will look.
func (w *Worker) fail(ctx context.Context, r *reportRun, err error, stack []byte) {
	job := r.job
	r.log.Error("report failed", "stage", r.stage, "error", err)
	job.AddError(fmt.Sprintf("%s: %s", r.stage, err))
	job.SetStatus(StatusFailed, r.stage)

	// Shutdown may have cancelled ctx; the failure still has to be reported.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if r.rec != nil {
		if serr := w.store.SetStatus(job.ChataID, sheets.StatusError, ""); serr != nil {
			r.log.Warn("mark row failed", "error", serr)
		}
	}
	w.appendLog(r.log, sheets.LogEntry{
		ChataID:   job.ChataID,
		Operation: "generate_report",
		Status:    "error",
		Duration:  time.Since(r.start),
		Message:   fmt.Sprintf("%s: %s", r.stage, err),
	})

	msg := notify.Message{
		Kind:    notify.KindFailed,
		ChataID: job.ChataID,
		To:      recipients(r.rec),
		Subject: "CHATA report failed: " + job.ChataID,
		Body:    fmt.Sprintf("Report generation for %s failed during %s.\n\n%s\n", job.ChataID, r.stage, err),
	}

	f := report.Failure{ChataID: job.ChataID, JobID: job.ID, Stage: r.stage, Err: err, Stack: stack, At: time.Now()}
	if path, rerr := report.WriteErrorReport(w.cfg.LogsDir, f); rerr != nil {
		r.log.Error("write error report", "error", rerr)
	} else if data, rerr := os.ReadFile(path); rerr == nil {
		r.log.Info("error report written", "path", path)
		msg.Attachments = append(msg.Attachments, notify.Attachment{
			Name:        filepath.Base(path),
			ContentType: notify.DocxContentType,
			Data:        data,
		})
	}

	if nerr := w.notifier.Notify(ctx, msg); nerr != nil {
		r.log.Error("failure notification failed", "error", nerr)
	}
}

// appendLog writes an API_Logs row; a logging failure never fails a run.
func (w *Worker) appendLog(log *slog.Logger, e sheets.LogEntry) {
	if err := w.store.AppendLog(e); err != nil {
		log.Warn("api log write failed", "operation", e.Operation, "error", err)
	}
}

func recipients(rec *assessment.Record) []string {
	if rec == nil || rec.ClinicianEmail == "" {
		return nil
	}
	return []string{rec.ClinicianEmail}
}
