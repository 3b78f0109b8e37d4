package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/spawnpoint/spawnpoint/pkg/captcha"
	"github.com/spawnpoint/spawnpoint/pkg/config"
	"github.com/spawnpoint/spawnpoint/pkg/deploy"
	"github.com/spawnpoint/spawnpoint/pkg/events"
	"github.com/spawnpoint/spawnpoint/pkg/log"
	"github.com/spawnpoint/spawnpoint/pkg/metrics"
	"github.com/spawnpoint/spawnpoint/pkg/session"
	"github.com/spawnpoint/spawnpoint/pkg/store"
)

// Server is the external HTTP gateway.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	sessions *session.Manager
	deployer *deploy.Deployer
	verifier captcha.Verifier
	broker   *events.Broker
	logger   zerolog.Logger

	httpServer *http.Server

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewServer wires the gateway's request surface.
func NewServer(cfg *config.Config, st *store.Store, sessions *session.Manager, deployer *deploy.Deployer, verifier captcha.Verifier, broker *events.Broker) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		deployer: deployer,
		verifier: verifier,
		broker:   broker,
		logger:   log.WithComponent("api"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handler builds the full route table with the middleware chain
// applied. Exposed separately from Start so tests can mount it on
// httptest.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("POST /deploy", s.authenticated(s.handleDeploy))
	mux.HandleFunc("POST /stop", s.authenticated(s.handleStop))
	mux.HandleFunc("POST /restart", s.authenticated(s.handleRestart))
	mux.HandleFunc("POST /extend", s.authenticated(s.handleExtend))
	mux.HandleFunc("GET /instances", s.authenticated(s.handleInstances))
	mux.HandleFunc("GET /tasks", s.authenticated(s.handleTasks))

	mux.HandleFunc("GET /healthz", metrics.HealthHandler())
	mux.HandleFunc("GET /readyz", metrics.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	return s.recovery(s.cors(s.logging(mux)))
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		// Deploys stream an image build; give them room.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.cfg.Server.ListenAddr).Msg("gateway listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// tokenLimiter returns the per-IP limiter for /token, creating it on
// first sight. Returns nil when rate limiting is disabled.
func (s *Server) tokenLimiter(ip string) *rate.Limiter {
	perMin := s.cfg.Sessions.TokenRatePerMin
	if perMin <= 0 {
		return nil
	}

	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	limiter, ok := s.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin)
		s.limiters[ip] = limiter
		// Unbounded growth guard, same shape as clearing a full cache.
		if len(s.limiters) > 10000 {
			s.limiters = map[string]*rate.Limiter{ip: limiter}
		}
	}
	return limiter
}
