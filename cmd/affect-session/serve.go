package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-affect/internal/api"
	"github.com/miradorstack/mirador-affect/internal/cache"
	"github.com/miradorstack/mirador-affect/internal/config"
	"github.com/miradorstack/mirador-affect/internal/engine"
	"github.com/miradorstack/mirador-affect/internal/metrics"
	"github.com/miradorstack/mirador-affect/internal/services"
)

func serveCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info("starting mirador-affect report service", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	bank, err := engine.LoadQuestionBank(cfg.Session.QuestionsPath, logger)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	provider := newCacheProvider(cfg)
	defer provider.Close()
	archive, closeArchive := openArchive(cfg, provider, logger)
	defer closeArchive()

	reports := services.NewReportService(logger, engine.NewCorrelator(logger), bank, archive)
	server, err := api.NewServer(cfg.Server, reports)
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if err := server.Start(); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if mem, ok := provider.(*cache.MemoryProvider); ok {
		g.Go(func() error {
			ticker := time.NewTicker(sweepEvery(cfg))
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := mem.Sweep(); n > 0 {
						logger.Debug("expired cached reports", slog.Int("count", n))
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
		defer cancel()
		server.Shutdown(shutdownCtx)

		if metricsServer != nil {
			metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelMetrics()
			if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server shutdown", slog.Any("error", err))
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("mirador-affect report service stopped", slog.Duration("correlation_p95", reports.LatencyP95()))
	return err
}
