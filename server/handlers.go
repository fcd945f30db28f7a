package server

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"videoAssess/core"
	"videoAssess/processors"
	"videoAssess/storage"
)

// Server wires the HTTP surface to the pipeline coordinator and the session
// stores. All responses are JSON.
type Server struct {
	coordinator *processors.Coordinator
	stores      *storage.Stores
	cache       *core.ResultCache
	jobs        core.JobStore
}

func NewServer(coordinator *processors.Coordinator, stores *storage.Stores, cache *core.ResultCache, jobs core.JobStore) *Server {
	return &Server{coordinator: coordinator, stores: stores, cache: cache, jobs: jobs}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/analyze", s.analyzeHandler)
	mux.HandleFunc("/status/", s.statusHandler)
	mux.HandleFunc("/report/", s.reportHandler)
	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/sessions/search", s.searchHandler)
	mux.HandleFunc("/cache/invalidate", s.invalidateHandler)
	mux.HandleFunc("/health", s.healthHandler)
}

type analyzeRequest struct {
	VideoPath  string `json:"video_path"`
	ContentKey string `json:"content_key,omitempty"`
}

type analyzeResponse struct {
	JobID  string `json:"job_id"`
	Cached bool   `json:"cached"`
	Status string `json:"status"`
}

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.VideoPath) == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "video_path required"})
		return
	}
	if _, err := os.Stat(req.VideoPath); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "video not found: " + req.VideoPath})
		return
	}

	job, cached := s.coordinator.Start(req.VideoPath, req.ContentKey)
	status := "processing"
	if cached {
		status = "complete"
	}
	core.WriteJSON(w, http.StatusAccepted, analyzeResponse{JobID: job.ID, Cached: cached, Status: status})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/status/")
	if jobID == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "job id required"})
		return
	}

	status, err := s.coordinator.Status(jobID)
	if err != nil {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/report/")
	if jobID == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "job id required"})
		return
	}

	report, err := s.coordinator.Report(jobID)
	if err == nil {
		core.WriteJSON(w, http.StatusOK, report)
		return
	}
	// The job may have been evicted; try the persistent store.
	if stored, storeErr := s.stores.Store.GetReport(r.Context(), jobID); storeErr == nil {
		core.WriteJSON(w, http.StatusOK, stored)
		return
	}
	core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sessions, err := s.stores.Store.ListSessions(r.Context())
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions, "count": len(sessions)})
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "query required"})
		return
	}

	hits, err := s.stores.Index.Search(r.Context(), req.Query, req.TopK)
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{"query": req.Query, "hits": hits})
}

type invalidateRequest struct {
	VideoPath  string `json:"video_path"`
	ContentKey string `json:"content_key"`
}

func (s *Server) invalidateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	key := req.ContentKey
	if key == "" && req.VideoPath != "" {
		key = core.ContentKey(req.VideoPath)
	}
	if key == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "video_path or content_key required"})
		return
	}

	removed := s.cache.Invalidate(key)
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{"content_key": key, "removed": removed})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	running, terminal := 0, 0
	for _, job := range jobs {
		if job.Terminal() {
			terminal++
		} else {
			running++
		}
	}

	backend := os.Getenv("STORE")
	if backend == "" {
		backend = "memory"
	}

	core.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"store":         backend,
		"jobs_running":  running,
		"jobs_terminal": terminal,
		"cache":         s.cache.Stats(),
	})
}
