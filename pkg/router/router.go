// Package router composes the Router's five core layers plus its
// ambient stack (logging, metrics, health) into one process.
// cmd/router is a thin wrapper that constructs a Router and blocks on
// OS signal.
package router

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cardbridge/router/internal/config"
	"github.com/cardbridge/router/internal/logger"
	"github.com/cardbridge/router/internal/metrics"
	"github.com/cardbridge/router/pkg/authsvc"
	"github.com/cardbridge/router/pkg/health"
	"github.com/cardbridge/router/pkg/sessionsvc"
	"github.com/cardbridge/router/pkg/transport"
	"github.com/cardbridge/router/pkg/wsapi"
)

// Router wires repositories, services, the WebSocket phase machines,
// and the HTTP surface (/ws/*, /health, /stats, /metrics) into a single
// listener, and owns their start/stop lifecycle: the repositories are
// process-wide singletons with no lifecycle of their own, and Start/Stop
// here run and cancel the shared cleanup ticker.
type Router struct {
	cfg config.Config
	log logger.Logger

	ControllerAuth *authsvc.Service
	CardhostAuth   *authsvc.Service
	Sessions       *sessionsvc.Service
	Transport      *transport.Service
	WS             *wsapi.Server
	Health         *health.Server

	httpServer *http.Server
	ticker     *time.Ticker
	tickerDone chan struct{}
	wg         sync.WaitGroup
}

// New builds the full dependency graph top-down: repositories are
// constructed inside authsvc/sessionsvc, so this layer only wires
// services -> transport -> wsapi -> health -> HTTP.
func New(cfg config.Config, log logger.Logger) *Router {
	controllerAuth := authsvc.New("controller")
	cardhostAuth := authsvc.New("cardhost")
	sessions := sessionsvc.New()
	tp := transport.New()

	ws := wsapi.NewServer(controllerAuth, cardhostAuth, sessions, tp, log)

	checker := health.NewChecker(controllerAuth, cardhostAuth, sessions, tp)
	healthSrv := health.NewServer(checker, log, cfg.Port)

	r := &Router{
		cfg:            cfg,
		log:            log,
		ControllerAuth: controllerAuth,
		CardhostAuth:   cardhostAuth,
		Sessions:       sessions,
		Transport:      tp,
		WS:             ws,
		Health:         healthSrv,
		tickerDone:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/", healthSrv.Mux())
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ws/controller", ws.ControllerHandler())
	mux.Handle("/ws/cardhost", ws.CardhostHandler())

	r.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return r
}

// Start binds the HTTP/WebSocket listener and starts the periodic
// cleanup task (expired sessions, idle sessions, expired challenges,
// every 60s / cfg.CleanupInterval).
func (r *Router) Start() error {
	r.ticker = time.NewTicker(r.cfg.CleanupInterval)
	r.wg.Add(1)
	go r.runCleanupLoop()

	ln, err := net.Listen("tcp", r.cfg.Addr())
	if err != nil {
		return err
	}

	r.log.Info("router listening", logger.String("addr", r.cfg.Addr()))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.log.Error("http server error", logger.Error(err))
		}
	}()
	return nil
}

func (r *Router) runCleanupLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ticker.C:
			r.runCleanupOnce()
		case <-r.tickerDone:
			return
		}
	}
}

func (r *Router) runCleanupOnce() {
	if n := r.ControllerAuth.CleanupExpiredChallenges(); n > 0 {
		r.log.Debug("reaped expired controller challenges", logger.Int("count", n))
	}
	if n := r.CardhostAuth.CleanupExpiredChallenges(); n > 0 {
		r.log.Debug("reaped expired cardhost challenges", logger.Int("count", n))
	}
	if n := r.Sessions.CleanupExpired(); n > 0 {
		r.log.Debug("reaped expired sessions", logger.Int("count", n))
	}
	if n := r.Sessions.CleanupIdle(); n > 0 {
		r.log.Debug("reaped idle sessions", logger.Int("count", n))
	}
}

// Stop runs the shutdown sequence: stop the cleanup ticker first so no
// cleanup sweep runs mid-drain, drain every pending relay with a
// ROUTER_SHUTDOWN envelope, then close the HTTP listener.
func (r *Router) Stop(ctx context.Context) error {
	if r.ticker != nil {
		r.ticker.Stop()
	}
	close(r.tickerDone)

	r.Transport.Shutdown()

	err := r.httpServer.Shutdown(ctx)
	r.wg.Wait()
	return err
}
