package api

import (
	"net/http"
	"strconv"
)

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueueFailed(w http.ResponseWriter, r *http.Request) {
	queueName := r.URL.Query().Get("queue")
	if queueName == "" {
		WriteBadRequest(w, "queue parameter is required")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			WriteBadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	jobs, err := s.deps.Queue.FailedJobs(r.Context(), queueName, limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleResurrect(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Queue.Resurrect(r.Context(), r.PathValue("id")); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReplayEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReplayEvent == nil {
		WriteNotFound(w, "replay not available")
		return
	}
	if err := s.deps.ReplayEvent(r.Context(), r.PathValue("id")); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWatchdogTrigger(w http.ResponseWriter, r *http.Request) {
	if s.deps.TriggerWatchdog == nil {
		WriteNotFound(w, "watchdog not available")
		return
	}
	jobID, err := s.deps.TriggerWatchdog(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	body := map[string]any{"ok": true}
	if jobID != "" {
		body["jobId"] = jobID
	}
	writeJSON(w, http.StatusOK, body)
}
