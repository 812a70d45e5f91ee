package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-affect/internal/capture"
	"github.com/miradorstack/mirador-affect/internal/classifier"
	"github.com/miradorstack/mirador-affect/internal/config"
	"github.com/miradorstack/mirador-affect/internal/engine"
	"github.com/miradorstack/mirador-affect/internal/extractors"
	"github.com/miradorstack/mirador-affect/internal/metrics"
	"github.com/miradorstack/mirador-affect/internal/models"
	"github.com/miradorstack/mirador-affect/internal/services"
	"github.com/miradorstack/mirador-affect/internal/ui"
)

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Print the session report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	bank, err := engine.LoadQuestionBank(cfg.Session.QuestionsPath, logger)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	adapter := classifier.Load(cfg.Classifier.ModelPath)
	width, height := cfg.Classifier.InputWidth, cfg.Classifier.InputHeight
	if adapter.Available() {
		width, height = adapter.InputSize()
	} else {
		logger.Warn("emotion model unavailable; the questionnaire runs without classification",
			slog.String("model", cfg.Classifier.ModelPath),
			slog.Any("error", adapter.LoadError()))
	}

	provider := newCacheProvider(cfg)
	defer provider.Close()
	archive, closeArchive := openArchive(cfg, provider, logger)
	defer closeArchive()
	reports := services.NewReportService(logger, engine.NewCorrelator(logger), bank, archive)

	session, err := services.NewSession(logger, services.SessionConfig{
		LogDir: cfg.Session.LogDir,
		Capture: capture.Options{
			DeviceIndex:    cfg.Capture.DeviceIndex,
			SampleInterval: cfg.Capture.SampleInterval,
			PollSlice:      cfg.Capture.PollSlice,
			StopGrace:      cfg.Capture.StopGrace,
			OpenTimeout:    cfg.Capture.OpenTimeout,
		},
	}, newOpener(cfg), adapter, extractors.NewTensorExtractor(width, height), reports)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		_ = session.Close()
		return fmt.Errorf("start session: %w", err)
	}

	model, uiErr := ui.Run(ctx, ui.New(bank, session.Recorder(), logger))
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		logger.Error("questionnaire exited", slog.Any("error", uiErr))
	}
	if err := session.Close(); err != nil {
		logger.Warn("session logs not sealed cleanly", slog.Any("error", err))
	}

	stats := session.CaptureStats()
	logger.Info("session finished",
		slog.Bool("completed", model.Completed()),
		slog.Int64("samples", stats.Samples),
		slog.Int64("classified", stats.Classified),
		slog.Duration("inference_p95", stats.InferenceP95))

	report, err := session.Report(context.Background())
	if err != nil {
		return fmt.Errorf("correlate session: %w", err)
	}
	if err := printReport(report, *jsonOut); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nSurvey log: %s\nPrediction log: %s\n", session.SurveyPath(), session.PredictionPath())
	return nil
}

func printReport(report models.Report, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(os.Stdout, engine.RenderText(report))
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
