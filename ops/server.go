package ops

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"inmobiscrap/logging"
	"inmobiscrap/models"
)

// Store is the operational data the ops endpoints read, plus the command
// queue they write to.
type Store interface {
	ListSources() ([]models.Source, error)
	GetSource(id int64) (*models.Source, error)
	ListRuns(sourceID int64, limit int) ([]models.RunRecord, error)
	RunLogs(runID int64) ([]models.ScrapeLog, error)
	EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error
}

// Pauser reports whether the scheduler is paused.
type Pauser interface {
	IsPaused() bool
}

// Server serves metrics, health and a small command surface for the daemon.
type Server struct {
	store   Store
	sched   Pauser
	metrics http.Handler
	logger  *zap.Logger
}

func NewServer(store Store, sched Pauser, metrics http.Handler, logger *zap.Logger) *Server {
	return &Server{store: store, sched: sched, metrics: metrics, logger: logging.OrNop(logger)}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.handleListSources)
		r.Get("/sources/{id}/runs", s.handleListRuns)
		r.Post("/sources/{id}/run", s.handleRunSource)
		r.Get("/runs/{id}/logs", s.handleRunLogs)
		r.Post("/commands/{command}", s.handleCommand)
	})

	return r
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}
