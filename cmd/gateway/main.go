// Command gateway runs the aviationstack API gateway: an HTTP proxy that
// shapes traffic to aviationstack through a shared cache, a monthly
// quota ledger, request coalescing, and a circuit breaker.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hellomira/aviationstack-gateway/internal/breaker"
	"github.com/hellomira/aviationstack-gateway/internal/cache"
	"github.com/hellomira/aviationstack-gateway/internal/coalesce"
	"github.com/hellomira/aviationstack-gateway/internal/config"
	"github.com/hellomira/aviationstack-gateway/internal/metrics"
	"github.com/hellomira/aviationstack-gateway/internal/pkg/safehttp"
	"github.com/hellomira/aviationstack-gateway/internal/quota"
	"github.com/hellomira/aviationstack-gateway/internal/server"
	"github.com/hellomira/aviationstack-gateway/internal/store"
	"github.com/hellomira/aviationstack-gateway/internal/telemetry"
	"github.com/hellomira/aviationstack-gateway/internal/upstream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger = logger.With(slog.String("service", "aviationstack-gateway"))

	shutdownTracer, err := telemetry.InitTracer("aviationstack-gateway", logger)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := store.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	if err := st.EnsureIndexes(ctx); err != nil {
		return err
	}

	m := metrics.New()
	ledger := quota.New(st, cfg.QuotaCeiling)
	respCache := cache.New(st, m, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	cb := breaker.New(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoverySeconds:  cfg.BreakerRecoverySeconds,
		HalfOpenProbes:   cfg.BreakerHalfOpenProbes,
	})
	coalescer := coalesce.New()

	httpClient := upstream.NewHTTPClient(safehttp.SafeTransport, 15*time.Second)
	caller := upstream.New(upstream.Config{
		BaseURL:     cfg.AviationstackBaseURL,
		APIKeyParam: "access_key",
		APIKey:      cfg.AviationstackAPIKey,
	}, httpClient, respCache, cb, coalescer, ledger, m)

	gw := &server.Gateway{
		Caller:  caller,
		Ledger:  ledger,
		Breaker: cb,
		Metrics: m,
		Store:   st,
		Logger:  logger,
	}

	srv := server.New(cfg.ServerPort, logger)
	gw.Mount(srv.Router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	return nil
}
