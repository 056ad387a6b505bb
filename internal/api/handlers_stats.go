package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":       s.cfg.AnthropicModel,
		"stats":       s.stats.Snapshot(),
		"queue_depth": s.queue.QueueDepth(),
	})
}

func (s *Server) handlePlaceholders(w http.ResponseWriter, r *http.Request) {
	ps, err := s.book.Placeholders()
	if err != nil {
		jsonError(w, "failed to read placeholder map: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(ps), "placeholders": ps})
}
