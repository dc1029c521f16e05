package ops

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"inmobiscrap/models"
)

const defaultRunLimit = 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	paused := s.sched != nil && s.sched.IsPaused()
	s.respondWithJSON(w, http.StatusOK, map[string]any{"status": "ok", "paused": paused})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources()
	if err != nil {
		s.logger.Error("list sources", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not list sources")
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}
	s.respondWithJSON(w, http.StatusOK, sources)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(id, limit)
	if err != nil {
		s.logger.Error("list runs", zap.Int64("source_id", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []models.RunRecord{}
	}
	s.respondWithJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	logs, err := s.store.RunLogs(id)
	if err != nil {
		s.logger.Error("run logs", zap.Int64("run_id", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not load logs")
		return
	}
	if logs == nil {
		logs = []models.ScrapeLog{}
	}
	s.respondWithJSON(w, http.StatusOK, logs)
}

func (s *Server) handleRunSource(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	src, err := s.store.GetSource(id)
	if err != nil {
		s.logger.Error("get source", zap.Int64("source_id", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not load source")
		return
	}
	if src == nil {
		s.respondWithError(w, http.StatusNotFound, "source not found")
		return
	}
	s.enqueue(w, models.CmdRunSource, &models.CommandParams{SourceID: id})
}

// handleCommand queues one of the scheduler commands. An optional source_id
// query parameter scopes pause and resume to a single source.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd := models.CommandType(chi.URLParam(r, "command"))
	switch cmd {
	case models.CmdRunDue, models.CmdPause, models.CmdResume, models.CmdResetPending, models.CmdMaintenance:
	default:
		s.respondWithError(w, http.StatusBadRequest, "unknown command")
		return
	}

	params := &models.CommandParams{}
	if v := r.URL.Query().Get("source_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			s.respondWithError(w, http.StatusBadRequest, "invalid source_id")
			return
		}
		params.SourceID = id
	}
	s.enqueue(w, cmd, params)
}

func (s *Server) enqueue(w http.ResponseWriter, cmd models.CommandType, params *models.CommandParams) {
	if err := s.store.EnqueueCommand(cmd, params); err != nil {
		s.logger.Error("enqueue command", zap.String("command", string(cmd)), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not queue command")
		return
	}
	s.respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "command queued", "command": string(cmd)})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondWithError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
