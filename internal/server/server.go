// Package server assembles the HTTP API and websocket routes.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/peterje/rootrepl/internal/api"
	"github.com/peterje/rootrepl/internal/backend"
	"github.com/peterje/rootrepl/internal/logging"
	"github.com/peterje/rootrepl/internal/models"
	ptymgr "github.com/peterje/rootrepl/internal/pty"
	"github.com/peterje/rootrepl/internal/repl"
	"github.com/peterje/rootrepl/internal/ws"
)

type Options struct {
	REPLs   []*repl.REPL
	Default backend.ID
	History api.HistoryLister
	// PTY streams sessions over /ws; nil disables the websocket route.
	PTY   ptymgr.SessionManager
	Tools []models.ToolStatus
	Log   *logging.Logger
}

type Server struct {
	router   chi.Router
	sessions *api.SessionsHandler
	opts     Options
	log      *logging.Logger
}

func New(opts Options) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		sessions: api.NewSessionsHandler(opts.REPLs, opts.Default, opts.History, opts.Log),
		opts:     opts,
		log:      opts.Log.With("component", "http"),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/sessions", s.sessions.Routes)

	if s.opts.PTY != nil {
		r.Method(http.MethodGet, "/ws/session/{name}", ws.NewHandler(s.opts.PTY, s.opts.Log))
	}
}

// requestLogger logs API requests; websocket upgrades are logged by the
// ws handler itself.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, models.HealthResponse{
		Status:   "ok",
		Backend:  string(s.opts.Default),
		Tools:    s.opts.Tools,
		Sessions: s.sessions.Count(),
	})
}
