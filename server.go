package agora

import (
	"context"
	"net/http"
	"time"

	"github.com/jhchabran/agora/authentication"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Server struct {
	Logger          zerolog.Logger
	config          *ServerConfig
	engine          *Engine
	router          *httprouter.Router
	gatherer        prometheus.Gatherer
	done            chan struct{}
	idleConnsClosed chan struct{}
	authService     authentication.AuthService
}

// NewServer returns a server exposing engine over HTTP. Metrics are read from
// gatherer, or the default prometheus registry when nil.
func NewServer(config *ServerConfig, logger zerolog.Logger, engine *Engine, authService authentication.AuthService, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		config:          config,
		engine:          engine,
		authService:     authService,
		router:          httprouter.New(),
		gatherer:        gatherer,
		Logger:          logger,
		done:            make(chan struct{}),
		idleConnsClosed: make(chan struct{}),
	}
}

func (s *Server) Prepare() error {
	s.router.GET("/health", s.HandleHealth())
	s.router.Handler("GET", "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	withMiddlewares(func(m middleware) {
		s.router.GET("/questions/:id/comments", m(s.HandleListComments()))
		s.router.GET("/users/:id", m(s.HandleShowUser()))
		s.router.GET("/leaderboard", m(s.HandleLeaderboard()))
	}, s.loadSessionMiddleware())

	withMiddlewares(func(m middleware) {
		s.router.POST("/votes", m(s.HandleVote()))
		s.router.GET("/votes/:kind/:id", m(s.HandleShowVote()))
		s.router.POST("/questions/:id/comments", m(s.HandleSubmitComment()))
		s.router.POST("/questions/:id/accept/:comment_id", m(s.HandleAcceptAnswer()))
		s.router.DELETE("/comments/:id", m(s.HandleDeleteComment()))
		s.router.DELETE("/session", m(s.HandleSignOut()))
	}, s.loadSessionMiddleware(), s.loadUserMiddleware())

	return nil
}

func (s *Server) Start() error {
	httpServer := http.Server{Addr: s.config.Addr, Handler: s}
	errs := make(chan error, 1)

	go func() {
		s.Logger.Info().Str("addr", s.config.Addr).Msg("Listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		close(s.idleConnsClosed)
		return err
	case <-s.done:
	}

	timeout := s.config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := httpServer.Shutdown(ctx)
	close(s.idleConnsClosed)
	return err
}

// Stop shuts the server down and waits until in-flight requests are done.
func (s *Server) Stop() {
	close(s.done)
	<-s.idleConnsClosed
}

func (s *Server) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(res, req)
}
