package api

import (
	"context"
	"fmt"
	"linkgate/internal/config"
	"linkgate/internal/http-server/handlers/errors"
	"linkgate/internal/http-server/handlers/health"
	"linkgate/internal/http-server/handlers/links"
	"linkgate/internal/http-server/handlers/session"
	"linkgate/internal/http-server/middleware/authenticate"
	"linkgate/internal/http-server/middleware/ratelimit"
	"linkgate/internal/http-server/middleware/remote"
	"linkgate/internal/http-server/middleware/timeout"
	"linkgate/lib/sl"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const requestTimeout = 10 * time.Second

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	router     chi.Router
	log        *slog.Logger
}

type Handler interface {
	session.Core
	links.Core
	health.Core
}

// Options carry the optional collaborators of the router.
type Options struct {
	Auth    authenticate.Authenticate
	Limiter ratelimit.Limiter
	Metrics http.Handler
}

func New(conf *config.Config, log *slog.Logger, handler Handler, opts Options) *Server {
	server := &Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(requestTimeout))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(remote.New())
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Get("/health", health.Health(log, handler))
	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	router.Route("/api/session/{token}", func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(ratelimit.New(log, opts.Limiter))
		}
		r.Get("/", session.Status(log, handler))
		r.Post("/complete", session.Complete(log, handler))
		r.Post("/challenge", session.Challenge(log, handler))
	})

	router.Route("/v1", func(rootApi chi.Router) {
		rootApi.Use(authenticate.New(log, opts.Auth))
		rootApi.Route("/links", func(l chi.Router) {
			l.Post("/", links.Create(log, handler))
			l.Get("/{id}", links.Get(log, handler))
			l.Delete("/{id}", links.Revoke(log, handler))
		})
	})

	server.router = router
	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", conf.Listen.BindIp, conf.Listen.Port),
		Handler:      router,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelError),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	s.log.Info("starting api server", slog.String("address", s.httpServer.Addr))

	return s.httpServer.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
