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
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/api"
	"github.com/friendsincode/palmcards/internal/cache"
	"github.com/friendsincode/palmcards/internal/catalog"
	"github.com/friendsincode/palmcards/internal/config"
	"github.com/friendsincode/palmcards/internal/eventbus"
	"github.com/friendsincode/palmcards/internal/events"
	"github.com/friendsincode/palmcards/internal/logbuffer"
	"github.com/friendsincode/palmcards/internal/media"
	"github.com/friendsincode/palmcards/internal/notion"
	"github.com/friendsincode/palmcards/internal/player"
	"github.com/friendsincode/palmcards/internal/telemetry"
)

const reapInterval = time.Minute

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	cache       *cache.Cache
	catalog     *catalog.Service
	players     *player.Manager
	bus         *events.Bus
	eventBridge *eventbus.Bridge
	logBuffer   *logbuffer.Buffer
	api         *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	router.Use(telemetry.TracingMiddleware("palmcards-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Websockets hold their connection open.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
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

	if err := srv.initDependencies(); err != nil {
		srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Websocket sessions outlive any fixed write deadline; the
		// middleware timeout covers ordinary requests.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisEnabled = s.cfg.RedisEnabled
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	cacheCfg.TTL = s.cfg.CacheTTL
	s.cache = cache.New(cacheCfg, s.logger)
	s.DeferClose(s.cache.Close)

	client := notion.New(notion.Config{
		Secret:    s.cfg.NotionSecret,
		BaseURL:   s.cfg.NotionBaseURL,
		RateLimit: s.cfg.NotionRateLimit,
	}, s.logger)

	opts := []catalog.Option{
		catalog.WithBus(s.bus),
		catalog.WithTTL(s.cfg.CacheTTL),
	}
	if s.cfg.MirrorEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mirror, err := media.NewS3Mirror(ctx, media.ConfigFromApp(s.cfg), s.logger)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Msg("audio mirror unavailable, serving Notion URLs directly")
		} else {
			opts = append(opts, catalog.WithMirror(mirror))
			s.logger.Info().Str("bucket", s.cfg.S3Bucket).Msg("audio mirror enabled")
		}
	}
	s.catalog = catalog.New(client, s.cfg.Databases, s.cache, s.logger, opts...)

	s.players = player.NewManager(player.Config{
		IdleTTL:       s.cfg.PlayerIdleTTL,
		PreloadWindow: s.cfg.PreloadWindow,
		PoolCapacity:  s.cfg.MaxPooledAudio,
	}, s.bus, s.logger)
	s.DeferClose(func() error {
		s.players.Close()
		return nil
	})

	broker, err := s.newBroker()
	if err != nil {
		return err
	}
	if broker != nil {
		s.eventBridge = eventbus.NewBridge(s.bus, broker, s.cfg.InstanceID, s.logger)
		s.DeferClose(s.eventBridge.Close)
	}

	s.api = api.New(s.catalog, s.players, s.bus, s.logBuffer, s.logger)
	return nil
}

func (s *Server) newBroker() (eventbus.Broker, error) {
	switch s.cfg.EventBroker {
	case config.BrokerNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		broker, err := eventbus.NewNATSBroker(natsCfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return broker, nil
	case config.BrokerRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		broker, err := eventbus.NewRedisBroker(redisCfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis event broker: %w", err)
		}
		return broker, nil
	default:
		return nil, nil
	}
}

func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.cache.RunCleanup(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.players.RunReaper(ctx, reapInterval)
	}()

	if s.eventBridge != nil {
		if err := s.eventBridge.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("event bridge failed to start, events stay local")
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Group(func(r chi.Router) {
		if s.cfg.APIRateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.APIRateLimit, time.Minute))
		}
		s.api.Routes(r)
	})

	s.mountStatic()
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		// Card audio and character images are served from Notion's file
		// hosts or the mirror bucket.
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data: https:; media-src 'self' blob: https:; connect-src 'self' ws: wss:; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'; base-uri 'self'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := logger.Debug()
			if status >= 500 {
				ev = logger.Error()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
