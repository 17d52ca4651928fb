/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/stagehand/internal/api"
	"github.com/friendsincode/stagehand/internal/audit"
	"github.com/friendsincode/stagehand/internal/cache"
	"github.com/friendsincode/stagehand/internal/config"
	"github.com/friendsincode/stagehand/internal/console"
	"github.com/friendsincode/stagehand/internal/db"
	"github.com/friendsincode/stagehand/internal/eventbus"
	"github.com/friendsincode/stagehand/internal/events"
	"github.com/friendsincode/stagehand/internal/leadership"
	"github.com/friendsincode/stagehand/internal/logbuffer"
	"github.com/friendsincode/stagehand/internal/telemetry"
)

// auditRetention bounds how long operator actions are kept.
const auditRetention = 90 * 24 * time.Hour

// auditPruneInterval is short enough that a node elected after startup
// prunes soon after taking the lease.
const auditPruneInterval = time.Hour

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	cache     *cache.Cache
	logBuffer *logbuffer.Buffer
	bus       *events.Bus
	console   *console.Console
	auditSvc  *audit.Service
	relays    []*eventbus.Relay
	election  *leadership.Election

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. rooms overrides the
// roster fetched from the stream tracker when non-empty.
func New(cfg *config.Config, rooms []config.Room, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("stagehand-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Websockets and feed switches awaiting confirmation outlive the request timeout.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" || isLongPoll(r) {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(rooms); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Handlers manage their own deadlines; feed switches block for up to
		// the confirmation timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func isLongPoll(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/rooms/") && strings.HasSuffix(r.URL.Path, "/feed")
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self' data: blob:; frame-ancestors 'none'; base-uri 'self'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(rooms []config.Room) error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	opts := console.OptionsFromConfig(s.cfg, rooms)

	if s.cfg.RedisEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		snapshots, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without snapshots")
		} else {
			s.cache = snapshots
			s.DeferClose(func() error { return snapshots.Close() })
			opts.StreamStore = snapshots
			opts.ScheduleStore = snapshots
		}
	}

	s.initRelays()
	s.initElection()

	opts.Client = telemetry.HTTPClient(s.cfg.RequestTimeout)
	s.console = console.New(opts, s.bus, s.logger)
	s.DeferClose(func() error {
		s.console.Close()
		return nil
	})

	return nil
}

// initRelays connects the optional broker relays. A broker that cannot be
// reached is logged and skipped.
func (s *Server) initRelays() {
	nodeID := eventbus.NodeID()

	if s.cfg.RedisEnabled {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		pub, err := eventbus.NewRedisPublisher(redisCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Redis relay unavailable")
		} else {
			s.relays = append(s.relays, eventbus.NewRelay(pub, eventbus.RedisPrefix, nodeID, events.Filter{}, s.logger))
		}
	}

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		pub, err := eventbus.NewNATSPublisher(natsCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("NATS relay unavailable")
		} else {
			s.relays = append(s.relays, eventbus.NewRelay(pub, eventbus.NATSPrefix, nodeID, events.Filter{}, s.logger))
		}
	}
}

// initElection contends for the maintenance lease so that nodes sharing an
// audit store do not all prune it. Without Redis this node always prunes.
func (s *Server) initElection() {
	if !s.cfg.RedisEnabled {
		return
	}
	electionCfg := leadership.DefaultConfig()
	electionCfg.RedisAddr = s.cfg.RedisAddr
	electionCfg.RedisPassword = s.cfg.RedisPassword
	electionCfg.RedisDB = s.cfg.RedisDB
	election, err := leadership.NewElection(electionCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("leader election unavailable, pruning locally")
		return
	}
	s.election = election
	s.DeferClose(election.Stop)
}

func (s *Server) configureRoutes() {
	api.New(s.console, s.bus, s.auditSvc, s.logBuffer, s.cfg.Password, s.logger).Routes(s.router)
	s.router.Handle("/metrics", telemetry.Handler())
}

// Start connects the console to its backends and starts background workers.
func (s *Server) Start(ctx context.Context) error {
	s.startBackgroundWorkers()
	if err := s.console.Start(ctx); err != nil {
		return fmt.Errorf("start console: %w", err)
	}
	return nil
}

func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) Console() *console.Console {
	return s.console
}

func (s *Server) Bus() *events.Bus {
	return s.bus
}

func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close stops background workers, then runs closers in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	s.bus.Close()
	return firstErr
}

func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	if s.bgCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	if s.election != nil {
		s.election.Start(ctx)
	}

	for _, relay := range s.relays {
		s.bgWG.Add(1)
		go func(r *eventbus.Relay) {
			defer s.bgWG.Done()
			r.Run(ctx, s.bus)
		}(relay)
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()

		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.pruneAudit(ctx)
			ticker := time.NewTicker(auditPruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.pruneAudit(ctx)
				}
			}
		}()
	}
}

func (s *Server) pruneAudit(ctx context.Context) {
	if s.election != nil && !s.election.IsLeader() {
		return
	}
	removed, err := s.auditSvc.Prune(ctx, time.Now().Add(-auditRetention))
	if err != nil {
		s.logger.Warn().Err(err).Msg("audit prune failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("pruned audit entries")
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
	}
}
