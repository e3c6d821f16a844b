// Package api implements the HTTP surface of the trip matching service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rbus/internal/auth"
	"rbus/internal/config"
	"rbus/internal/events"
	"rbus/internal/matching"
	"rbus/internal/metrics"
	"rbus/internal/mq"
	"rbus/internal/store"
	"rbus/internal/webhooks"
)

type Server struct {
	Store  store.Store
	Engine *matching.Engine
	Auth   *auth.Verifier
	Events events.Bus
	Config config.Config
	Log    *slog.Logger

	checks  map[string]func(context.Context) error
	closers []func()
}

// New wires a Server over already-built dependencies. n may be nil.
func New(cfg config.Config, st store.Store, bus events.Bus, n matching.Notifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = events.NewBroker()
	}
	return &Server{
		Store:  st,
		Engine: matching.NewEngine(st, bus, n, log),
		Auth:   auth.NewVerifier(cfg.Auth),
		Events: bus,
		Config: cfg,
		Log:    log,
		checks: map[string]func(context.Context) error{"store": st.Ping},
	}
}

// NewServer builds the store, event bus and notifier from cfg. In-memory store and
// broker are used when DATABASE_URL and REDIS_URL are unset.
func NewServer(ctx context.Context, cfg config.Config, log *slog.Logger) (*Server, error) {
	metrics.RegisterDefault()
	st, closeStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMigrate, cfg.MigrationsDir, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	closers := []func(){closeStore}
	checks := map[string]func(context.Context) error{}

	var bus events.Bus = events.NewBroker()
	if cfg.RedisURL != "" {
		rb, err := events.NewRedisBroker(cfg.RedisURL, log)
		if err != nil {
			log.Warn("redis broker unavailable, using in-process broker", "err", err)
		} else {
			bus = rb
			closers = append(closers, func() { _ = rb.Close() })
			checks["redis"] = rb.Ping
		}
	}

	var notifier matching.Notifier
	switch cfg.Notify.Mode {
	case "webhook":
		notifier = webhooks.NewPublisher(st, cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret, cfg.Notify.Recipient)
		w := webhooks.NewWorker(st, cfg.Notify.MaxAttempts, log)
		w.Start()
		closers = append(closers, func() { close(w.Stop) })
	case "amqp":
		conn, err := mq.Dial(ctx, cfg.Notify.AMQPURL, 10, log)
		if err != nil {
			runAll(closers)
			return nil, err
		}
		if err := mq.SetupTopology(ctx, conn); err != nil {
			conn.Close()
			runAll(closers)
			return nil, err
		}
		notifier = mq.NewTripNotifier(conn, cfg.Notify.Recipient, log)
		closers = append(closers, conn.Close)
		checks["rabbitmq"] = conn.Ping
	}

	s := New(cfg, st, bus, notifier, log)
	for k, v := range checks {
		s.checks[k] = v
	}
	s.closers = closers
	log.Info("server initialised", "notify", cfg.Notify.Mode, "auth", cfg.Auth.Mode, "redis", cfg.RedisURL != "")
	return s, nil
}

// Close stops background workers and releases connections, newest first.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func runAll(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Trips
	mux.HandleFunc("POST /v1/trips", s.CreateTripHandler)
	mux.HandleFunc("GET /v1/trips", s.ListTripsHandler)
	mux.HandleFunc("GET /v1/trips/{id}", s.GetTripHandler)
	mux.HandleFunc("PUT /v1/trips/{id}", s.UpdateTripHandler)
	mux.HandleFunc("DELETE /v1/trips/{id}", s.DeleteTripHandler)

	// Matching queries
	mux.HandleFunc("GET /v1/trips/{id}/nearest", s.NearestHandler)
	mux.HandleFunc("GET /v1/trips/{id}/within", s.WithinHandler)
	mux.HandleFunc("GET /v1/trips/{id}/similar", s.SimilarHandler)
	mux.HandleFunc("GET /v1/trips/{id}/stats", s.StatsHandler)

	// Streams
	mux.HandleFunc("GET /v1/trips/{id}/events/stream", s.TripEventsStreamHandler)
	mux.HandleFunc("GET /v1/ws", s.WSHandler)

	// Admin
	mux.HandleFunc("POST /v1/admin/trips/{id}/recompute", s.RecomputeTripHandler)
	mux.HandleFunc("POST /v1/admin/recompute", s.RecomputeAllHandler)
	mux.HandleFunc("GET /v1/admin/notifications", s.NotificationsHandler)
	mux.HandleFunc("POST /v1/admin/notifications/{id}/retry", s.NotificationRetryHandler)

	// Ops
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /debug/info", s.DebugJSON)
	mux.HandleFunc("GET /openapi.json", s.OpenAPIHandler)
	mux.HandleFunc("GET /docs", s.DocsHandler)

	return s.observe(s.recoverPanics(s.rateLimit(mux)))
}
