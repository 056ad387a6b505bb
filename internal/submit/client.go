// Package submit is the client side of the report API: it posts finished
// assessments, uploads supporting documents and follows report jobs.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/pipeline"
)

// StatusError is a non-success answer from the report API.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

// Client communicates with the report HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// SubmitResult is the answer to a submission.
type SubmitResult struct {
	ChataID string `json:"chata_id"`
	Status  string `json:"status"`
	JobID   string `json:"job_id,omitempty"`
	PollURL string `json:"poll_url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Submit posts rec with its images split into spreadsheet-sized chunks. With
// generate set the server also queues the report. A record the server
// rejects comes back as *assessment.ValidationError.
func (c *Client) Submit(ctx context.Context, rec *assessment.Record, generate bool) (*SubmitResult, error) {
	body, err := json.Marshal(assessment.NewSubmission(rec, assessment.ImageChunkSize))
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}
	u := c.baseURL + "/api/assessments"
	if generate {
		u += "?generate=true"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnprocessableEntity {
		var verr assessment.ValidationError
		if err := json.NewDecoder(resp.Body).Decode(&verr); err != nil || len(verr.Fields) == 0 {
			return nil, &StatusError{Op: "submit", Code: resp.StatusCode}
		}
		return nil, &verr
	}
	if err := checkStatus("submit "+rec.ChataID, resp, http.StatusCreated); err != nil {
		return nil, err
	}

	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode submit result: %w", err)
	}
	return &result, nil
}

// UploadResult is the outcome for one uploaded file.
type UploadResult struct {
	Filename string `json:"filename"`
	StoredAs string `json:"stored_as,omitempty"`
	Bytes    int    `json:"bytes,omitempty"`
	Error    string `json:"error,omitempty"`
}

// UploadDocuments sends supporting documents for chataID.
func (c *Client) UploadDocuments(ctx context.Context, chataID string, paths []string) ([]UploadResult, error) {
	if len(paths) == 0 {
		return nil, errors.New("no documents to upload")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		fw, err := mw.CreateFormFile("files", filepath.Base(p))
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", p, err)
		}
		if _, err := fw.Write(data); err != nil {
			return nil, fmt.Errorf("add %s: %w", p, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	u := c.baseURL + "/api/assessments/" + url.PathEscape(chataID) + "/documents"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload documents: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("upload documents", resp, http.StatusCreated); err != nil {
		return nil, err
	}

	var result struct {
		Documents []UploadResult `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode upload result: %w", err)
	}
	return result.Documents, nil
}

// Generate queues a report for chataID and returns its job ID. An existing
// job is returned when one is already running.
func (c *Client) Generate(ctx context.Context, chataID string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/reports/"+url.PathEscape(chataID), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("generate "+chataID, resp, http.StatusAccepted, http.StatusOK); err != nil {
		return "", err
	}

	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode generate result: %w", err)
	}
	return result.JobID, nil
}

// Job returns the current state of a report job.
func (c *Client) Job(ctx context.Context, jobID string) (*pipeline.JobSnapshot, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/reports/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("get job "+jobID, resp, http.StatusOK); err != nil {
		return nil, err
	}

	var result struct {
		Job pipeline.JobSnapshot `json:"job"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &result.Job, nil
}

// Wait polls a job every interval until it finishes or ctx ends.
func (c *Client) Wait(ctx context.Context, jobID string, interval time.Duration, progress func(pipeline.JobSnapshot)) (*pipeline.JobSnapshot, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		snap, err := c.Job(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			progress(*snap)
		}
		if snap.Status.Terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Download streams a finished report to w.
func (c *Client) Download(ctx context.Context, jobID string, w io.Writer) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/reports/jobs/"+url.PathEscape(jobID)+"/download", nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("download "+jobID, resp, http.StatusOK); err != nil {
		return 0, err
	}
	return io.Copy(w, resp.Body)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.httpClient.Do(req)
}

func checkStatus(op string, resp *http.Response, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
