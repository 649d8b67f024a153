// Package server assembles the whole service: state store, session
// registry, broadcast bus, lock manager, PTY multiplexer, alert log and
// the gin router carrying the REST and websocket surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/alerts"
	apihttp "github.com/warroomhq/warroom/internal/api/http"
	"github.com/warroomhq/warroom/internal/api/middleware"
	"github.com/warroomhq/warroom/internal/api/ws"
	"github.com/warroomhq/warroom/internal/bus"
	"github.com/warroomhq/warroom/internal/governor"
	"github.com/warroomhq/warroom/internal/infrastructure/config"
	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/infrastructure/monitoring"
	"github.com/warroomhq/warroom/internal/locks"
	"github.com/warroomhq/warroom/internal/rooms"
	"github.com/warroomhq/warroom/internal/session"
	"github.com/warroomhq/warroom/internal/store"
	"github.com/warroomhq/warroom/internal/term"
)

// Server owns every long-lived component and the HTTP listener.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger

	registry *session.Registry
	bus      *bus.Bus
	locks    *locks.Manager
	mux      *term.Mux

	httpSrv *http.Server
	cancel  context.CancelFunc
}

// New wires every component from configuration.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	metrics := monitoring.NewMetrics()

	st := store.New(cfg.Storage.DataDir, logger,
		store.WithTimeout(cfg.Storage.LockTimeout),
		store.WithObserver(metrics))

	registry := session.NewRegistry(logger,
		session.WithTTL(cfg.Session.TTL),
		session.WithMetrics(metrics))
	b := bus.New(logger, bus.WithMetrics(metrics))
	lockMgr := locks.NewManager(logger, ws.LockEventBroadcaster(b),
		locks.WithTTL(cfg.Locks.TTL),
		locks.WithMetrics(metrics))

	mux := term.NewMux(term.NewPTYSpawner(), logger,
		term.WithShell(cfg.Terminal.Shell),
		term.WithBufferBytes(cfg.Terminal.BufferBytes),
		term.WithMaxPerRoom(cfg.Terminal.MaxPerRoom),
		term.WithMetrics(metrics))

	alertLog := alerts.NewLog(st,
		alerts.WithLimits(cfg.Alerts.MaxPerRoom, cfg.Alerts.ContextLimit,
			cfg.Alerts.TitleLimit, cfg.Alerts.PreviewLimit),
		alerts.WithMetrics(metrics))

	roomSvc := rooms.NewService(st, logger)
	teardown := rooms.NewTeardown(roomSvc, registry, b, lockMgr, mux, logger)

	govCfg := governor.Config{
		MaxMessageBytes:   cfg.Socket.MaxMessageBytes,
		MessagesPerSecond: cfg.Socket.MessagesPerSecond,
		HeartbeatInterval: cfg.Socket.HeartbeatInterval,
		SendQueueSize:     cfg.Socket.SendQueueSize,
	}

	syncGW := ws.NewSyncGateway(registry, b, lockMgr, alertLog, logger, metrics, govCfg)
	termGW := ws.NewTerminalGateway(registry, roomSvc, mux, logger, metrics, govCfg)
	handlers := apihttp.NewHandlers(roomSvc, teardown, registry, logger)

	router := newRouter(cfg, logger, metrics, handlers, syncGW, termGW)

	srv := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		bus:      b,
		locks:    lockMgr,
		mux:      mux,
		httpSrv: &http.Server{
			Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}
	return srv, nil
}

func newRouter(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics, handlers *apihttp.Handlers, syncGW *ws.SyncGateway, termGW *ws.TerminalGateway) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(monitoring.Middleware(metrics))
	if cfg.RateLimit.Enabled {
		rl := middleware.DefaultRateLimitConfig()
		if cfg.RateLimit.RequestsPerSecond > 0 {
			rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		}
		if cfg.RateLimit.Burst > 0 {
			rl.Burst = cfg.RateLimit.Burst
		}
		router.Use(middleware.RateLimit(rl))
	}

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/rooms", handlers.CreateRoom)
	router.GET("/rooms/:id", handlers.GetRoom)
	router.DELETE("/rooms/:id", handlers.DeleteRoom)
	router.POST("/rooms/:id/join", handlers.JoinRoom)
	router.POST("/rooms/:id/rotate-sessions", handlers.RotateSessions)
	router.POST("/rooms/:id/tabs", handlers.AddTab)
	router.DELETE("/rooms/:id/tabs/:tabId", handlers.RemoveTab)

	router.GET("/ws/sync", syncGW.Handle)
	router.GET("/ws/terminal", termGW.Handle)
	return router
}

// Run starts the background sweeps and the HTTP listener, blocking until
// the listener stops.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.registry.Run(ctx, s.cfg.Session.SweepInterval)
	go s.locks.Run(ctx, s.cfg.Locks.SweepInterval)

	s.logger.Info("server listening",
		zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close shuts the service down: stop accepting, close every websocket,
// kill every PTY, stop the sweeps.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpSrv.Shutdown(ctx)

	s.bus.CloseAll()
	s.mux.CloseAll()
	s.logger.Info("server stopped")
	return err
}
