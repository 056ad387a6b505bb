package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/parser"
	"github.com/dgallion1/chatareport/internal/pipeline"
	"github.com/dgallion1/chatareport/internal/sheets"
)

// handleSubmit stores a submitted assessment. ?generate=true also queues the
// report.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var sub assessment.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		jsonError(w, "invalid submission: "+err.Error(), http.StatusBadRequest)
		return
	}
	rec := sub.Record
	if err := assessment.Validate(rec); err != nil {
		var verr *assessment.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "assessment is incomplete",
				"fields": verr.Fields,
			})
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, c := range sub.Images {
		if len(c.Data) > assessment.ImageChunkSize {
			jsonError(w, fmt.Sprintf("invalid images: %s chunk %d is longer than %d characters", c.Name, c.Index, assessment.ImageChunkSize), http.StatusBadRequest)
			return
		}
	}
	if _, err := assessment.AssembleImages(sub.Images); err != nil {
		jsonError(w, "invalid images: "+err.Error(), http.StatusBadRequest)
		return
	}
	rec.Images = nil
	rec.Status = assessment.StatusSubmitted

	if err := s.book.AppendAssessment(rec, sub.Images); err != nil {
		if errors.Is(err, sheets.ErrBusy) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		if errors.Is(err, sheets.ErrCellTooLong) {
			jsonError(w, "invalid submission: "+err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error("store submission failed", "chata_id", rec.ChataID, "error", err)
		jsonError(w, "failed to store submission", http.StatusInternalServerError)
		return
	}
	log := s.log.With("chata_id", rec.ChataID)
	log.Info("assessment submitted", "images", len(sub.Images))

	resp := map[string]any{
		"chata_id": rec.ChataID,
		"status":   sheets.StatusPending,
	}
	if r.URL.Query().Get("generate") == "true" {
		job, _, err := s.queue.Enqueue(rec.ChataID)
		if err != nil {
			log.Warn("report not queued", "error", err)
			resp["error"] = err.Error()
		} else {
			resp["job_id"] = job.ID
			resp["poll_url"] = pollURL(job.ID)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	row, ok := s.findRow(w, chi.URLParam(r, "chataID"))
	if !ok {
		return
	}
	resp := map[string]any{
		"row":         row.Row,
		"submitted":   row.Timestamp,
		"status":      row.Status,
		"report_path": row.ReportPath,
		"record":      row.Record,
	}
	if job := s.queue.LatestJob(row.Record.ChataID); job != nil {
		resp["job"] = job.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAssessmentLogs(w http.ResponseWriter, r *http.Request) {
	chataID := chi.URLParam(r, "chataID")
	if !assessment.ValidChataID(chataID) {
		jsonError(w, "invalid CHATA-ID", http.StatusBadRequest)
		return
	}
	entries, err := s.book.Logs(chataID)
	if err != nil {
		jsonError(w, "failed to read logs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []sheets.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chata_id": chataID, "logs": entries})
}

// handleUploadDocuments saves supporting documents under
// SUPPORTING_DOCS_DIR/<chataID>/. Files are named by content hash so the
// same upload twice is stored once.
func (s *Server) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	chataID := chi.URLParam(r, "chataID")
	if _, ok := s.findRow(w, chataID); !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	dir := filepath.Join(s.cfg.SupportingDocsDir, chataID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		jsonError(w, "failed to create document folder", http.StatusInternalServerError)
		return
	}

	var results []map[string]any
	stored := 0
	for _, fh := range files {
		filename := sanitizeFilename(fh.Filename)
		if !parser.IsSupportedExtension(filename) {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)),
			})
			continue
		}

		f, err := fh.Open()
		if err != nil {
			results = append(results, map[string]any{"filename": filename, "error": "failed to open file"})
			continue
		}
		data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		f.Close()
		if err != nil || int64(len(data)) > s.cfg.MaxUploadBytes {
			results = append(results, map[string]any{"filename": filename, "error": "file too large or read error"})
			continue
		}

		name := pipeline.ContentHashHex(data)[:16] + "_" + filename
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			s.log.Error("save document failed", "chata_id", chataID, "file", name, "error", err)
			results = append(results, map[string]any{"filename": filename, "error": "failed to save file"})
			continue
		}
		stored++
		results = append(results, map[string]any{"filename": filename, "stored_as": name, "bytes": len(data)})
	}

	s.log.Info("supporting documents uploaded", "chata_id", chataID, "stored", stored, "files", len(files))
	code := http.StatusCreated
	if stored == 0 {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]any{"chata_id": chataID, "documents": results})
}

// findRow looks up chataID, writing the error response when it fails.
func (s *Server) findRow(w http.ResponseWriter, chataID string) (*sheets.FormRow, bool) {
	if !assessment.ValidChataID(chataID) {
		jsonError(w, "invalid CHATA-ID", http.StatusBadRequest)
		return nil, false
	}
	row, err := s.book.FindAssessment(chataID)
	if errors.Is(err, sheets.ErrNotFound) {
		jsonError(w, "assessment not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.log.Error("assessment lookup failed", "chata_id", chataID, "error", err)
		jsonError(w, "failed to read assessment", http.StatusInternalServerError)
		return nil, false
	}
	return row, true
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
