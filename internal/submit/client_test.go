package submit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgallion1/chatareport/internal/api"
	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/config"
	"github.com/dgallion1/chatareport/internal/pipeline"
	"github.com/dgallion1/chatareport/internal/sheets"
)

type harness struct {
	client *Client
	book   *sheets.Workbook
	orch   *pipeline.Orchestrator
	docs   string
}

// newHarness runs the real API over a temp workbook. Workers are not
// started, so jobs stay queued until a test completes them.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	book, err := sheets.Create(filepath.Join(dir, "chata.xlsx"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { book.Close() })

	cfg := config.Config{
		ReportAPIKey:      "k",
		SupportingDocsDir: filepath.Join(dir, "documents"),
		MaxUploadBytes:    1 << 20,
		MaxQueueSize:      4,
		JobTTL:            time.Hour,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := pipeline.NewOrchestrator(cfg, nil, nil, log)
	t.Cleanup(orch.Stop)

	srv := httptest.NewServer(api.NewServer(orch, book, nil, log, cfg))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "k")
	t.Cleanup(c.Close)
	return &harness{client: c, book: book, orch: orch, docs: cfg.SupportingDocsDir}
}

func record() *assessment.Record {
	obs := "Lines up toy cars and becomes upset when moved."
	return &assessment.Record{
		ChataID:              "JDX-SLX-042",
		ClinicianName:        "Jane Doe",
		ClinicianEmail:       "jane.doe@clinic.org",
		ChildFirstName:       "Sam",
		ChildLastName:        "Lee",
		ChildAge:             "4y 2m",
		AssessmentDate:       "2026-09-14",
		Sensory:              assessment.Domain{Score: 3, Observations: obs},
		SocialCommunication:  assessment.Domain{Score: 4, Observations: obs},
		RestrictedPatterns:   assessment.Domain{Score: 2, Observations: obs},
		ExecutiveFunction:    assessment.Domain{Score: 5, Observations: obs},
		ClinicalObservations: "Engaged well with the examiner during structured tasks.",
		Images: []assessment.Image{
			{Name: "profile.png", Caption: "Sensory profile", Data: bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 20000)},
		},
	}
}

func TestSubmitGenerateDownload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := record()

	res, err := h.client.Submit(ctx, rec, true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.ChataID != rec.ChataID || res.JobID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	// The image is larger than one cell, so it went over as several chunks.
	row, err := h.book.FindAssessment(rec.ChataID)
	if err != nil {
		t.Fatal(err)
	}
	if len(row.Record.Images) != 1 || !bytes.Equal(row.Record.Images[0].Data, rec.Images[0].Data) {
		t.Fatal("image did not survive chunked submission")
	}
	if len(rec.Images) != 1 {
		t.Error("Submit must not modify the caller's record")
	}

	jobID, err := h.client.Generate(ctx, rec.ChataID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if jobID != res.JobID {
		t.Errorf("expected the queued job %s, got %s", res.JobID, jobID)
	}

	var buf bytes.Buffer
	_, err = h.client.Download(ctx, jobID, &buf)
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusConflict {
		t.Fatalf("expected 409 before completion, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "report.docx")
	os.WriteFile(path, []byte("docx bytes"), 0o644)
	h.orch.GetJob(jobID).Complete(path)

	var seen []pipeline.JobStatus
	snap, err := h.client.Wait(ctx, jobID, 10*time.Millisecond, func(s pipeline.JobSnapshot) {
		seen = append(seen, s.Status)
	})
	if err != nil || snap.Status != pipeline.StatusCompleted || len(seen) != 1 {
		t.Fatalf("wait: %v %+v %v", err, snap, seen)
	}

	buf.Reset()
	n, err := h.client.Download(ctx, jobID, &buf)
	if err != nil || n != int64(len("docx bytes")) || buf.String() != "docx bytes" {
		t.Fatalf("download: %d %q %v", n, buf.String(), err)
	}
}

func TestSubmit_ValidationError(t *testing.T) {
	h := newHarness(t)
	rec := record()
	rec.Sensory.Score = 0

	_, err := h.client.Submit(context.Background(), rec, false)
	var verr *assessment.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) == 0 {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestUploadDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.client.Submit(ctx, record(), false); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	letter := filepath.Join(dir, "referral.md")
	os.WriteFile(letter, []byte("# Referral\n\nConcerns about speech."), 0o644)

	results, err := h.client.UploadDocuments(ctx, "JDX-SLX-042", []string{letter})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(results) != 1 || results[0].Error != "" || results[0].StoredAs == "" {
		t.Fatalf("unexpected results %+v", results)
	}
	if _, err := os.Stat(filepath.Join(h.docs, "JDX-SLX-042", results[0].StoredAs)); err != nil {
		t.Errorf("document not stored: %v", err)
	}

	_, err = h.client.UploadDocuments(ctx, "ABC-DEF-999", []string{letter})
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown record, got %v", err)
	}
}

func TestBadAPIKey(t *testing.T) {
	h := newHarness(t)
	h.client.apiKey = "wrong"
	_, err := h.client.Job(context.Background(), "x")
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}
