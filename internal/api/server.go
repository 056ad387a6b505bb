// Package api serves report generation over HTTP: the JSONP endpoint the
// assessment form calls, and an authenticated JSON API for submission,
// supporting documents, job status and downloads.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/chatareport/internal/assessment"
	"github.com/dgallion1/chatareport/internal/config"
	"github.com/dgallion1/chatareport/internal/generate"
	"github.com/dgallion1/chatareport/internal/pipeline"
	"github.com/dgallion1/chatareport/internal/placeholder"
	"github.com/dgallion1/chatareport/internal/sheets"
)

// Queue is the report job queue.
type Queue interface {
	Enqueue(chataID string) (job *pipeline.Job, created bool, err error)
	GetJob(id string) *pipeline.Job
	LatestJob(chataID string) *pipeline.Job
	QueueDepth() int
}

// Sheet is the spreadsheet submissions land in.
type Sheet interface {
	AppendAssessment(rec *assessment.Record, images []assessment.ImageChunk) error
	FindAssessment(chataID string) (*sheets.FormRow, error)
	Placeholders() ([]placeholder.Placeholder, error)
	Logs(chataID string) ([]sheets.LogEntry, error)
}

// Server is the HTTP API server for chatareport.
type Server struct {
	router chi.Router
	queue  Queue
	book   Sheet
	stats  *generate.LLMStats
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server. stats may be nil.
func NewServer(queue Queue, book Sheet, stats *generate.LLMStats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		queue: queue,
		book:  book,
		stats: stats,
		log:   log,
		cfg:   cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Get("/exec", s.handleExec)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.ReportAPIKey, s.log))

		r.Post("/api/assessments", s.handleSubmit)
		r.Get("/api/assessments/{chataID}", s.handleGetAssessment)
		r.Get("/api/assessments/{chataID}/logs", s.handleAssessmentLogs)
		r.Post("/api/assessments/{chataID}/documents", s.handleUploadDocuments)

		r.Post("/api/reports/{chataID}", s.handleGenerate)
		r.Get("/api/reports/jobs/{jobID}", s.handleJobStatus)
		r.Get("/api/reports/jobs/{jobID}/download", s.handleDownload)

		r.Get("/api/placeholders", s.handlePlaceholders)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
