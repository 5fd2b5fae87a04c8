package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AISRelay/internal/config"
	"AISRelay/internal/ingestion"
	"AISRelay/internal/observability"
	"AISRelay/internal/persistence"
	"AISRelay/internal/server"
	"AISRelay/internal/state"
	"AISRelay/internal/supervisor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// shutdownTimeout bounds stopping the sessions and the final flush.
const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := observability.NewLogger("main")
		bootLog.Fatal().Err(err).Msg("load config")
	}

	loggers := observability.NewLoggers(os.Stdout, observability.ParseLogLevel(cfg.LogLevel), cfg.LogFormat)
	log := loggers.For("main")
	log.Info().Msg("AIS relay starting")

	vessels, err := config.LoadVessels(cfg.VesselsFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.VesselsFile).Msg("load vessel list")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("load timezone")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Snapshot backend ---
	backend, closeBackend, err := openBackend(ctx, cfg, loggers.For("snapshot"))
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.SnapshotBackend).Msg("open snapshot backend")
	}
	defer closeBackend()

	store := state.NewVesselStore()
	writer := persistence.NewSnapshotWriter(store, backend, cfg.FlushInterval, metrics,
		loggers.For("snapshot"))

	// --- Status surface ---
	srv := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Vessels:       store,
		HealthChecker: healthChecker,
		Logger:        loggers.For("server"),
	})

	coordinator := supervisor.NewCoordinator(writer, loggers.For("supervisor"),
		healthChecker, srv)
	srv.SetSessions(coordinator)

	// --- Sessions, one per vessel group ---
	decoder := ingestion.NewDecoder(store, loc, metrics, loggers.For("decoder"))
	dialer := ingestion.WebsocketDialer{HandshakeTimeout: cfg.DialTimeout}
	sessionCfg := ingestion.SessionConfig{
		URL:           cfg.WebsocketURL,
		APIKey:        cfg.APIKey,
		BoundingBoxes: vessels.BoundingBoxes,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.ReconnectDelay,
	}
	if cfg.APIKey == "" {
		log.Warn().Msg("AIS_STREAM_API_KEY is not set, the stream will likely reject subscriptions")
	}

	groups := config.Partition(vessels.MMSI, cfg.GroupSize)
	sessionLog := loggers.For("session")
	for shard, group := range groups {
		s := ingestion.NewSession(shard, group, sessionCfg, dialer, decoder, metrics, coordinator, sessionLog)
		coordinator.Register(s)
		go s.Run(ctx)
	}
	log.Info().
		Int("vessels", len(vessels.MMSI)).
		Int("sessions", len(groups)).
		Msg("sessions started")

	// --- Background goroutines ---
	errChan := make(chan error, 4)

	writerCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	go writer.Run(writerCtx)

	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()

	if cfg.GRPCAddr != "" {
		go func() {
			if err := srv.StartGRPC(serveCtx); err != nil {
				errChan <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}
	if cfg.HTTPAddr != "" {
		go func() {
			if err := srv.StartHTTP(serveCtx); err != nil {
				errChan <- fmt.Errorf("http server: %w", err)
			}
		}()
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := serveMetrics(serveCtx, cfg.MetricsAddr, registry, log); err != nil {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	log.Info().
		Str("backend", cfg.SnapshotBackend).
		Dur("flush_interval", cfg.FlushInterval).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("AIS relay ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("server failed, shutting down")
	}

	// --- Graceful shutdown ---
	// The periodic writer goes first so the final flush is the only one left.
	stopWriter()
	srv.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("final snapshot not written")
	}

	stopServing()
	cancel()
	closeBackend()

	log.Info().Msg("AIS relay shutdown complete")
	os.Exit(0)
}

// openBackend connects the configured snapshot backend. The returned func
// releases it and is safe to call more than once.
func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (persistence.SnapshotStore, func(), error) {
	switch cfg.SnapshotBackend {
	case config.BackendFile:
		log.Info().Str("path", cfg.SnapshotPath).Msg("using file snapshot")
		return persistence.NewFileStore(cfg.SnapshotPath, log), func() {}, nil

	case config.BackendPostgres:
		store, err := persistence.OpenPostgres(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("using postgres snapshot")
		return store, closeOnce(func() { store.Close() }), nil

	case config.BackendSQLite:
		store, err := persistence.OpenSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite snapshot")
		return store, closeOnce(func() { store.Close() }), nil

	case config.BackendNATS:
		nc, js, err := persistence.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			return nil, nil, err
		}
		store, err := persistence.OpenKVStore(ctx, js, cfg.NATSBucket, log)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		log.Info().Str("bucket", cfg.NATSBucket).Msg("using nats kv snapshot")
		return store, closeOnce(func() {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		}), nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.SnapshotBackend)
	}
}

func closeOnce(f func()) func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		f()
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		metricsServer.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
