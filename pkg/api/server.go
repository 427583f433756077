// Package api serves the quality trend endpoints over HTTP with the response envelopes the
// dashboard client expects.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/vjranagit/qualitytrend/pkg/storage"
)

// Config holds server configuration
type Config struct {
	ListenAddr string
	Timeout    time.Duration

	// SessionHeader carries the username set by the authenticating proxy in front of the
	// server; SessionNameHeader optionally carries the display name.
	SessionHeader     string
	SessionNameHeader string
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8080",
		Timeout:           30 * time.Second,
		SessionHeader:     "X-Remote-User",
		SessionNameHeader: "X-Remote-Name",
	}
}

// Server implements the HTTP API server
type Server struct {
	cfg     Config
	store   storage.Store
	logger  zerolog.Logger
	handler http.Handler
	server  *http.Server
	now     func() time.Time
}

// NewServer creates a new API server
func NewServer(cfg Config, store storage.Store, logger zerolog.Logger) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("component", "api").Logger(),
		now:    time.Now,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	php := router.PathPrefix("/php").Subrouter()
	php.HandleFunc("/get_tagnames.php", s.handleTags).Methods(http.MethodGet)
	php.HandleFunc("/get_tag_values.php", s.handleTagValues).Methods(http.MethodGet)
	php.HandleFunc("/get_multiple_tag_values.php", s.handleMultiTagValues).Methods(http.MethodGet, http.MethodPost)
	php.HandleFunc("/get_panel_data.php", s.handlePanelData).Methods(http.MethodGet)
	php.HandleFunc("/get_plants.php", s.handlePlants).Methods(http.MethodGet, http.MethodPost)
	php.HandleFunc("/template_manager.php", s.handleTemplates).
		Methods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)
	php.HandleFunc("/auth-for-trend.php", s.handleAuth).Methods(http.MethodGet, http.MethodPost)
	php.HandleFunc("/test_connection.php", s.handleTestConnection).Methods(http.MethodGet)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, failure("unknown endpoint: "+r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, failure("method not allowed"))
	})

	var h http.Handler = router
	h = cors(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(h)
	h = requestID(h)
	h = hlog.NewHandler(s.logger)(h)
	return h
}

// Handler returns the HTTP handler with every middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
	}
	s.logger.Info().Str("listen", ln.Addr().String()).Msg("api server started")

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// requestID tags every request with the caller's X-Request-ID or a fresh one
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("request_id", id)
		})
		next.ServeHTTP(w, r)
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func failure(message string) map[string]any {
	return map[string]any{"success": false, "message": message}
}
