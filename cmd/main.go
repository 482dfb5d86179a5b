package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ukydev/fuel-cycle/internal/auth"
	"github.com/ukydev/fuel-cycle/internal/config"
	"github.com/ukydev/fuel-cycle/internal/cycle"
	"github.com/ukydev/fuel-cycle/internal/db"
	"github.com/ukydev/fuel-cycle/internal/handlers"
	"github.com/ukydev/fuel-cycle/internal/live"
	"github.com/ukydev/fuel-cycle/internal/middleware"
	"github.com/ukydev/fuel-cycle/internal/routing"
)

const (
	shutdownTimeout     = 10 * time.Second
	limiterIdle         = 10 * time.Minute
	limiterCleanupEvery = time.Minute
)

// app holds what the HTTP layer is built from.
type app struct {
	cycles   handlers.CycleService
	sessions handlers.SessionService
	routes   routing.Provider
	watcher  db.Watcher
	hub      *live.Hub
	auth     *auth.Service
	limiter  *middleware.IPRateLimiter
	ping     func(ctx context.Context) error
}

// newRouter registers every route and wraps them in the middleware chain.
func newRouter(a app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", handlers.NewHealthHandler(a.ping))
	mux.Handle("GET /metrics", promhttp.Handler())
	handlers.NewCycleHandler(a.cycles, log.WithField("component", "cycle_handler")).Register(mux)
	handlers.NewSessionHandler(a.sessions, a.routes, log.WithField("component", "session_handler")).Register(mux)
	handlers.NewStreamHandler(a.watcher, a.sessions, a.hub, log.WithField("component", "stream_handler")).Register(mux)

	var h http.Handler = mux
	h = middleware.NewAuthMiddleware(a.auth).Authenticate(h)
	h = a.limiter.RateLimit(h)
	h = middleware.Logging(log.WithField("component", "http"))(h)
	return h
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := db.ConnectMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("MongoDB disconnect failed")
		}
	}()
	log.WithField("database", cfg.Mongo.Database).Info("Connected to MongoDB")

	store := db.NewStore(client.Database(cfg.Mongo.Database))
	if err := store.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Warn("Failed to create indexes")
	}

	cycles := cycle.NewService(store.Cycles, store.Events, log.WithField("component", "cycle"))
	routes := routing.NewClient(routing.Options{
		OSRMURL:      cfg.Routing.OSRMURL,
		NominatimURL: cfg.Routing.NominatimURL,
		CacheTTL:     cfg.Routing.CacheTTL,
		Logger:       log.WithField("component", "routing"),
	})

	hub := live.NewHub(log.WithField("component", "hub"))
	go hub.Run(ctx)

	sessions := live.NewService(store.Sessions, routes, cycles, hub, log.WithField("component", "live"))
	go sessions.RunSweeper(ctx, cfg.Sessions.SweepInterval, cfg.Sessions.MaxAge)

	if cfg.MQTT.Broker != "" {
		mqttLog := log.WithField("component", "mqtt")
		mqttClient, err := live.ConnectMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID, mqttLog)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		ingest := live.NewMQTTIngest(mqttClient, cfg.MQTT.TopicPrefix, sessions, mqttLog)
		if err := ingest.Start(); err != nil {
			log.WithError(err).Fatal("Failed to subscribe to position topics")
		}
		defer ingest.Stop()
	} else {
		log.Info("MQTT broker not configured, positions are accepted over HTTP only")
	}

	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(limiterCleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup(limiterIdle)
			}
		}
	}()

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: newRouter(app{
			cycles:   cycles,
			sessions: sessions,
			routes:   routes,
			watcher:  db.NewMongoWatcher(store, cfg.Server.WatchPoll, log.WithField("component", "watcher")),
			hub:      hub,
			auth:     auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry),
			limiter:  limiter,
			ping:     func(ctx context.Context) error { return client.Ping(ctx, nil) },
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
}
