package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/chatareport/internal/notify"
	"github.com/dgallion1/chatareport/internal/pipeline"
)

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	chataID := chi.URLParam(r, "chataID")
	if _, ok := s.findRow(w, chataID); !ok {
		return
	}
	job, created, err := s.queue.Enqueue(chataID)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrStopped) {
			code = http.StatusServiceUnavailable
		}
		jsonError(w, err.Error(), code)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusAccepted
		s.log.Info("report queued", "chata_id", chataID, "job_id", job.ID, "queue_depth", s.queue.QueueDepth())
	}
	snap := job.Snapshot()
	writeJSON(w, code, map[string]any{
		"job_id":   snap.ID,
		"chata_id": snap.ChataID,
		"status":   snap.Status,
		"created":  created,
		"poll_url": pollURL(snap.ID),
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.queue.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	resp := map[string]any{"job": snap}
	if snap.Status == pipeline.StatusCompleted {
		resp["download_url"] = downloadURL(snap.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job := s.queue.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	if snap.Status != pipeline.StatusCompleted || snap.ReportPath == "" {
		jsonError(w, "report is not ready", http.StatusConflict)
		return
	}

	f, err := os.Open(snap.ReportPath)
	if err != nil {
		s.log.Error("open report failed", "job_id", snap.ID, "path", snap.ReportPath, "error", err)
		jsonError(w, "report file is missing", http.StatusGone)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		jsonError(w, "report file is unreadable", http.StatusInternalServerError)
		return
	}

	name := filepath.Base(snap.ReportPath)
	w.Header().Set("Content-Type", notify.DocxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func pollURL(jobID string) string {
	return "/api/reports/jobs/" + jobID
}
