package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vbonduro/treebank/internal/service"
)

type Server struct {
	service *service.TreeService
	router  *chi.Mux
	logger  *slog.Logger
}

// NewServer wires the JSON API. metrics may be nil, in which case /metrics is
// not mounted.
func NewServer(svc *service.TreeService, metrics http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		service: svc,
		router:  chi.NewRouter(),
		logger:  logger,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger(logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	s.registerRoutes(metrics)
	return s
}

func (s *Server) registerRoutes(metrics http.Handler) {
	r := s.router

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)

		r.Get("/trees", s.handleListTrees)
		r.Route("/trees/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTree)
			r.Patch("/", s.handleUpdateTree)
			r.Delete("/", s.handleDeleteTree)
			r.Post("/care", s.handleAddCareLog)
			r.Get("/image", s.handleGetPhoto)
		})

		r.Get("/stats", s.handleStats)
		r.Get("/export", s.handleExport)
		r.Get("/prompts", s.handlePrompts)

		r.Get("/chat", s.handleChatSessions)
		r.Post("/chat", s.handleChat)
		r.Get("/chat/{session}", s.handleChatHistory)
	})
}

// securityHeaders sets browser hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self' data:; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				logger.Info("request",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer returns a server for addr with the timeouts used in production.
// Write timeout covers a slow model call plus the upload.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
