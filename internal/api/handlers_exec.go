package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/pipeline"
	"github.com/dgallion1/chatareport/internal/sheets"
)

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

// execResponse is the envelope the assessment form expects back.
type execResponse struct {
	Success   bool          `json:"success"`
	ChataID   string        `json:"chataId,omitempty"`
	JobID     string        `json:"jobId,omitempty"`
	Status    string        `json:"status,omitempty"`
	Message   string        `json:"message,omitempty"`
	Progress  *execProgress `json:"progress,omitempty"`
	ReportURL string        `json:"reportUrl,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type execProgress struct {
	Step       int `json:"step"`
	TotalSteps int `json:"totalSteps"`
	Percent    int `json:"percent"`
}

// handleExec starts report generation for ?chataId= (or TEST_CHATA_ID with
// ?test=true) and reports on it. ?jobId= polls an existing job instead.
// With ?callback= the answer is JSONP.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callback := q.Get("callback")
	if callback != "" && !callbackPattern.MatchString(callback) {
		jsonError(w, "invalid callback name", http.StatusBadRequest)
		return
	}
	reply := func(code int, resp execResponse) {
		writeExec(w, callback, code, resp)
	}
	fail := func(code int, chataID, msg string) {
		reply(code, execResponse{ChataID: chataID, Error: msg})
	}

	if jobID := q.Get("jobId"); jobID != "" {
		job := s.queue.GetJob(jobID)
		if job == nil {
			fail(http.StatusNotFound, "", "job not found")
			return
		}
		snap := job.Snapshot()
		reply(http.StatusOK, execFromJob(snap, statusMessage(snap)))
		return
	}

	chataID := q.Get("chataId")
	if q.Get("test") == "true" {
		chataID = s.cfg.TestChataID
	}
	switch {
	case chataID == "":
		fail(http.StatusBadRequest, "", "chataId is required")
		return
	case !assessment.ValidChataID(chataID):
		fail(http.StatusBadRequest, chataID, "invalid CHATA-ID")
		return
	}

	if _, err := s.book.FindAssessment(chataID); err != nil {
		if errors.Is(err, sheets.ErrNotFound) {
			fail(http.StatusNotFound, chataID, "no submitted assessment for this CHATA-ID")
			return
		}
		s.log.Error("exec lookup failed", "chata_id", chataID, "error", err)
		fail(http.StatusInternalServerError, chataID, err.Error())
		return
	}

	job, created, err := s.queue.Enqueue(chataID)
	if err != nil {
		fail(http.StatusServiceUnavailable, chataID, err.Error())
		return
	}
	msg := "Report generation already in progress"
	if created {
		msg = "Report generation started"
		s.log.Info("report queued", "chata_id", chataID, "job_id", job.ID, "source", "exec")
	}
	reply(http.StatusOK, execFromJob(job.Snapshot(), msg))
}

func execFromJob(snap pipeline.JobSnapshot, msg string) execResponse {
	resp := execResponse{
		Success: snap.Status != pipeline.StatusFailed,
		ChataID: snap.ChataID,
		JobID:   snap.ID,
		Status:  string(snap.Status),
		Message: msg,
		Progress: &execProgress{
			Step:       snap.Progress.Step,
			TotalSteps: snap.Progress.TotalSteps,
			Percent:    snap.Percent,
		},
	}
	if snap.Status == pipeline.StatusCompleted {
		resp.ReportURL = downloadURL(snap.ID)
	}
	if snap.Status == pipeline.StatusFailed && len(snap.Progress.Errors) > 0 {
		resp.Error = snap.Progress.Errors[len(snap.Progress.Errors)-1]
	}
	return resp
}

func statusMessage(snap pipeline.JobSnapshot) string {
	switch snap.Status {
	case pipeline.StatusCompleted:
		return "Report ready"
	case pipeline.StatusFailed:
		return "Report generation failed"
	case pipeline.StatusQueued:
		return "Waiting to start"
	}
	return fmt.Sprintf("Step %d of %d: %s", snap.Progress.Step, snap.Progress.TotalSteps, snap.Phase)
}

// writeExec answers as JSONP when callback is set. Script tags cannot read
// status codes, so JSONP answers are always 200. They also cannot send the
// bearer token the download needs, so reportUrl is left out.
func writeExec(w http.ResponseWriter, callback string, code int, resp execResponse) {
	if callback == "" {
		writeJSON(w, code, resp)
		return
	}
	resp.ReportURL = ""
	body, err := json.Marshal(resp)
	if err != nil {
		body = []byte(`{"success":false,"error":"encode response"}`)
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s(%s);", callback, body)
}

func downloadURL(jobID string) string {
	return "/api/reports/jobs/" + jobID + "/download"
}
