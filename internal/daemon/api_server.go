package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"vert/internal/config"
	"vert/internal/conversion"
	"vert/internal/journal"
	"vert/internal/logging"
	"vert/internal/manager"
	"vert/internal/media"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	router chi.Router

	listener net.Listener
	server   *http.Server
}

type taskListResponse struct {
	Items []manager.Snapshot `json:"items"`
	Total int                `json:"total"`
}

type historyResponse struct {
	Entries []journal.Entry `json:"entries"`
}

type healthResponse struct {
	Status string `json:"status"`
	Daemon Status `json:"daemon"`
}

func newAPIServer(cfg config.API, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   cfg.Bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.router = srv.routes(cfg.Token)
	srv.server = &http.Server{
		Handler:           srv.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if m := s.daemon.metrics; m != nil {
		r.Use(m.Middleware)
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/health", s.handleHealth)
		r.Get("/formats", s.handleFormats)
		r.Get("/history", s.handleHistory)
		r.Get("/progress", s.handleProgress)
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleAddTask)
			r.Delete("/", s.handleClearTasks)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleRemoveTask)
				r.Post("/start", s.handleStartTask)
				r.Post("/cancel", s.handleCancelTask)
			})
		})
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.shutdown()
}

func (s *apiServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Daemon: s.daemon.Status()})
}

func (s *apiServer) handleFormats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.manager.Registry().Capabilities())
}

func (s *apiServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	kind, err := parseKindParam(query.Get("kind"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseIntParam(query.Get("start"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "start must be an integer")
		return
	}
	limit, err := parseIntParam(query.Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	mgr := s.daemon.manager
	s.writeJSON(w, http.StatusOK, taskListResponse{
		Items: mgr.ListSnapshots(kind, start, limit),
		Total: mgr.CountTasks(kind),
	})
}

func (s *apiServer) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var task conversion.Task
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&task); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task payload: "+err.Error())
		return
	}
	id, err := s.daemon.manager.AddTask(task)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	logging.WithContext(logging.WithRequestID(r.Context(), middleware.GetReqID(r.Context())), s.logger).
		Info("task added",
			logging.String(logging.FieldTaskID, id),
			logging.String(logging.FieldMediaKind, string(task.Kind)),
		)

	if truthy(r.URL.Query().Get("start")) {
		if err := s.daemon.StartTask(r.Context(), id); err != nil {
			s.writeTaskError(w, err)
			return
		}
	}
	snap, _ := s.daemon.manager.Snapshot(id)
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *apiServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.daemon.manager.Snapshot(id)
	if !ok {
		s.writeTaskError(w, conversion.Wrap(conversion.ErrNotFound, "get task", id, nil))
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleStartTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.daemon.StartTask(r.Context(), id); err != nil {
		s.writeTaskError(w, err)
		return
	}
	snap, _ := s.daemon.manager.Snapshot(id)
	s.writeJSON(w, http.StatusAccepted, snap)
}

func (s *apiServer) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.daemon.manager.CancelTask(id); err != nil {
		s.writeTaskError(w, err)
		return
	}
	snap, _ := s.daemon.manager.Snapshot(id)
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.daemon.manager.RemoveTask(id); err != nil {
		s.writeTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleClearTasks(w http.ResponseWriter, _ *http.Request) {
	s.daemon.manager.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.daemon.journal == nil {
		s.writeJSON(w, http.StatusOK, historyResponse{Entries: []journal.Entry{}})
		return
	}
	query := r.URL.Query()
	kind, err := parseKindParam(query.Get("kind"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseIntParam(query.Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	entries, err := s.daemon.journal.List(r.Context(), journal.ListOptions{Kind: kind, Limit: limit})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	s.writeJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

func (s *apiServer) writeTaskError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(s.logger, "task request failed", "api_task_error",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "see the preceding manager or converter log lines"),
		)
	}
	s.writeError(w, status, err.Error())
}

// statusForError maps conversion error markers to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, conversion.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, conversion.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversion.ErrState):
		return http.StatusConflict
	case errors.Is(err, conversion.ErrTool):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func parseKindParam(value string) (media.Kind, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return media.ParseKind(value)
}

func parseIntParam(value string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(value))
}

func truthy(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}
