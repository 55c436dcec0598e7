package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/agent-overlay/monitor/internal/session"
	"github.com/agent-overlay/monitor/internal/tracker"
)

const maxEventBytes = 1 << 20

type Server struct {
	tracker  *tracker.Tracker
	logger   *logrus.Entry
	version  string
	started  time.Time
	upgrader websocket.Upgrader
}

func NewServer(t *tracker.Tracker, version string, logger *logrus.Entry) *Server {
	return &Server{
		tracker: t,
		logger:  logger,
		version: version,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			// The overlay may be served from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed, CORS-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return cors(mux)
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/events", s.handleEvent)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("DELETE /api/sessions", s.handleClearSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("GET /ws", s.handleWS)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev session.HookEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}

	err := s.tracker.SubmitEvent(r.Context(), ev)
	switch {
	case errors.Is(err, session.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	views, err := s.tracker.ListActiveSessions(r.Context())
	if err != nil {
		s.logger.WithError(err).Warn("List sessions failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.tracker.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, tracker.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.tracker.SessionEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.TerminateSession(r.Context(), r.PathValue("id")); err != nil {
		s.logger.WithError(err).Warn("End session failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.ResetAll(r.Context()); err != nil {
		s.logger.WithError(err).Warn("Clear sessions failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	sub, err := s.tracker.Subscribe(r.Context())
	if err != nil {
		s.logger.WithError(err).Warn("Subscribe failed")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "snapshot unavailable"))
		conn.Close()
		return
	}

	log := s.logger.WithField("remote", r.RemoteAddr)
	log.Info("WebSocket client connected")
	newClient(conn, sub, log).run(r.Context())
	log.Info("WebSocket client disconnected")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Run serves on addr until ctx is done, then shuts down gracefully. Open
// WebSocket connections are closed through their request contexts.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("Server listening")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}
