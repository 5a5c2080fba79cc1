package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/bluesky"
	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/blackmichael/bluesky-federation/internal/federation"
	"github.com/blackmichael/bluesky-federation/internal/outbound"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// Syncer runs and reports polling cycles.
type Syncer interface {
	RunOnce(ctx context.Context) (federation.CycleReport, error)
	LastReport() (federation.CycleReport, bool)
}

// Agent performs outbound user actions.
type Agent interface {
	Login(ctx context.Context, userID, identifier, password string) (*domain.Session, error)
	Perform(ctx context.Context, action outbound.Action, userID string, target outbound.Target) (*bluesky.RecordRef, error)
}

// Deps are the services the HTTP handlers call into.
type Deps struct {
	Syncer        Syncer
	Agent         Agent
	Cursors       domain.CursorRepository
	Notifications domain.NotificationRepository
}

// Server is the HTTP server that exposes sync status and outbound actions.
type Server struct {
	deps       Deps
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(port int, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with its middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withLogging(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync/run", s.handleSyncRun)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/session", s.handleLogin)
			r.Post("/actions/{action}", s.handleAction)
			r.Get("/notifications", s.handleNotifications)
		})
	})

	return r
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type cursorResponse struct {
	Service         string `json:"service"`
	Position        int64  `json:"position"`
	LastRunAt       string `json:"last_run_at,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	EventsProcessed int64  `json:"events_processed"`
}

type cycleResponse struct {
	StartedAt       string `json:"started_at"`
	EventsReceived  int    `json:"events_received"`
	EventsRelevant  int    `json:"events_relevant"`
	EventsProcessed int    `json:"events_processed"`
	EventsApplied   int    `json:"events_applied"`
	Malformed       int    `json:"malformed"`
	CursorPosition  int64  `json:"cursor_position"`
	DurationMS      int64  `json:"duration_ms"`
	Error           string `json:"error,omitempty"`
}

func toCycleResponse(r federation.CycleReport) cycleResponse {
	resp := cycleResponse{
		StartedAt:       r.StartedAt.Format(time.RFC3339),
		EventsReceived:  r.EventsReceived,
		EventsRelevant:  r.EventsRelevant,
		EventsProcessed: r.EventsProcessed,
		EventsApplied:   r.EventsApplied,
		Malformed:       r.Malformed,
		CursorPosition:  r.CursorPosition,
		DurationMS:      r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Cursors.GetCursor(r.Context(), federation.CursorService)
	if err != nil {
		s.logger.Error("failed to load cursor", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load cursor")
		return
	}

	cursor := cursorResponse{
		Service:         c.Service,
		Position:        c.Position,
		LastError:       c.LastError,
		EventsProcessed: c.EventsProcessed,
	}
	if !c.LastRunAt.IsZero() {
		cursor.LastRunAt = c.LastRunAt.Format(time.RFC3339)
	}

	resp := map[string]any{"cursor": cursor}
	if last, ok := s.deps.Syncer.LastReport(); ok {
		resp["last_cycle"] = toCycleResponse(last)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Syncer.RunOnce(r.Context())
	if errors.Is(err, domain.ErrCycleInProgress) {
		writeError(w, http.StatusConflict, "CycleInProgress", err.Error())
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "SyncFailed",
			"message": err.Error(),
			"cycle":   toCycleResponse(report),
		})
		return
	}
	writeJSON(w, http.StatusOK, toCycleResponse(report))
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "identifier and password are required")
		return
	}

	sess, err := s.deps.Agent.Login(r.Context(), userID, req.Identifier, req.Password)
	if err != nil {
		s.writeActionError(w, "login", userID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"did":    sess.DID,
		"handle": sess.Handle,
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	action, err := outbound.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidAction", err.Error())
		return
	}

	var target outbound.Target
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "request body must be a JSON target")
		return
	}

	ref, err := s.deps.Agent.Perform(r.Context(), action, userID, target)
	if err != nil {
		s.writeActionError(w, string(action), userID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"uri": ref.URI, "cid": ref.CID})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := defaultNotificationLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > maxNotificationLimit {
			writeError(w, http.StatusBadRequest, "InvalidRequest",
				fmt.Sprintf("limit must be between 1 and %d", maxNotificationLimit))
			return
		}
		limit = parsed
	}

	list, err := s.deps.Notifications.ListNotifications(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("failed to list notifications", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list notifications")
		return
	}

	out := make([]map[string]any, len(list))
	for i, n := range list {
		out[i] = map[string]any{
			"id":          n.ID,
			"reason":      n.Reason,
			"actor_did":   n.ActorDID,
			"actor":       n.ActorHandle,
			"subject_uri": n.SubjectURI,
			"is_external": n.IsExternal,
			"created_at":  n.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (s *Server) writeActionError(w http.ResponseWriter, action, userID string, err error) {
	var apiErr *bluesky.APIError
	switch {
	case errors.Is(err, outbound.ErrInvalidTarget), errors.Is(err, outbound.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, domain.ErrNoSession), errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
	case errors.Is(err, domain.ErrBindingConflict):
		writeError(w, http.StatusConflict, "BindingConflict", err.Error())
	case errors.As(err, &apiErr):
		s.logger.Warn("PDS rejected action", "action", action, "user", userID, "error", err)
		writeError(w, http.StatusBadGateway, "UpstreamError", err.Error())
	default:
		s.logger.Error("action failed", "action", action, "user", userID, "error", err)
		writeError(w, http.StatusBadGateway, "UpstreamError", "action failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration", time.Since(start),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
