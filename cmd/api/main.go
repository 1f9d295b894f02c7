package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"vrpga/internal/api"
	"vrpga/internal/buildinfo"
	"vrpga/internal/config"
	"vrpga/internal/logging"
	"vrpga/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to $CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New(os.Stderr, "text", "info").Error("load config", "err", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvDeps, err := api.NewServer(ctx, cfg, log)
	if err != nil {
		log.Error("failed to init server", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srvDeps.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		srvDeps.NewWebhookWorker().Run(workerCtx)
	}()

	errc := make(chan error, 1)
	go func() {
		log.Info("API listening", "addr", srv.Addr, "version", buildinfo.String())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	stopWorker()
	<-workerDone
	// deliveries queued by runs that finish during Close wait in the store
	// for the next start
	if err := srvDeps.Close(shutdownCtx); err != nil {
		log.Error("close server", "err", err)
	}
}
