package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vrpga/internal/config"
	"vrpga/internal/metrics"
	"vrpga/internal/store"
	"vrpga/internal/webhooks"
)

type Server struct {
	Store  store.Store
	Broker EventBroker
	Pub    *webhooks.Publisher
	Runner *Runner
	Log    *slog.Logger
	Cfg    config.Config
}

// NewServer wires the store and broker selected by cfg. An empty database URL
// selects the in-memory store; an empty Redis URL, or one that cannot be
// reached, selects the in-process broker.
func NewServer(ctx context.Context, cfg config.Config, log *slog.Logger) (*Server, error) {
	var s store.Store
	if cfg.Database.URL == "" {
		s = store.NewMemory()
		log.Info("using in-memory store")
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		s = pg
		log.Info("using postgres store", "migrate", cfg.Database.Migrate)
	}

	var broker EventBroker = NewBroker()
	if cfg.Redis.URL != "" {
		rb, err := NewRedisBroker(cfg.Redis.URL, log)
		if err != nil {
			log.Warn("redis unavailable, using in-process broker", "err", err)
		} else {
			broker = rb
		}
	}
	return newServer(cfg, log, s, broker), nil
}

func newServer(cfg config.Config, log *slog.Logger, s store.Store, b EventBroker) *Server {
	pub := webhooks.NewPublisher(s, cfg.Webhooks.Secret)
	return &Server{
		Store:  s,
		Broker: b,
		Pub:    pub,
		Runner: NewRunner(s, b, pub, log, cfg.Server.MaxConcurrentRuns, cfg.Server.ProgressEvery),
		Log:    log,
		Cfg:    cfg,
	}
}

// Routes returns the full HTTP handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/solve", s.SolveHandler)
	mux.HandleFunc("/v1/runs", s.RunsIndexHandler)
	mux.HandleFunc("/v1/runs/", s.RunByIDHandler) // includes /events/stream, /ws, /cancel, /deliveries
	mux.HandleFunc("/v1/solver/config", s.SolverConfigHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug", s.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	var h http.Handler = mux
	h = rateLimit(s.Cfg.Server.RateRPS, s.Cfg.Server.RateBurst, h)
	h = instrument(h)
	return logMiddleware(s.Log, h)
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	wh := s.Cfg.Webhooks
	return webhooks.NewWorker(s.Store, s.Log, wh.MaxAttempts, wh.PollInterval, wh.Timeout)
}

// Close stops the runner, waiting for in-flight runs to record their final
// state, then releases the store and broker.
func (s *Server) Close(ctx context.Context) error {
	err := s.Runner.Shutdown(ctx)
	if c, ok := s.Broker.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	if c, ok := s.Store.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
