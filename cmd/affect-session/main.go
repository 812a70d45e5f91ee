package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/miradorstack/mirador-affect/internal/cache"
	"github.com/miradorstack/mirador-affect/internal/camera"
	"github.com/miradorstack/mirador-affect/internal/config"
	"github.com/miradorstack/mirador-affect/internal/repo"
	"github.com/miradorstack/mirador-affect/internal/services"
	"github.com/miradorstack/mirador-affect/internal/utils"
)

const usage = `usage: affect-session <command> [flags]

commands:
  run      run the questionnaire with background emotion capture
  report   correlate a finished session's logs
  serve    serve the gRPC report API and /metrics
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "report":
		err = reportCommand(os.Args[2:])
	case "serve":
		err = serveCommand(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("affect-session failed", slog.String("command", os.Args[1]), slog.Any("error", err))
		os.Exit(1)
	}
}

// openLogOutput returns where structured logs go. An interactive session keeps them off the
// terminal, so they land in a file under the log directory unless one is configured.
func openLogOutput(cfg *config.Config, interactive bool) (io.Writer, func(), error) {
	path := cfg.Logging.File
	if path == "" && interactive {
		path = filepath.Join(cfg.Session.LogDir, "affect-session.log")
	}
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func newLogger(cfg *config.Config, interactive bool) (*slog.Logger, func(), error) {
	w, closeFn, err := openLogOutput(cfg, interactive)
	if err != nil {
		return nil, nil, err
	}
	logger := utils.NewLogger(w, cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

func newCacheProvider(cfg *config.Config) cache.Provider {
	if !cfg.Cache.Enabled {
		return cache.NoopProvider{}
	}
	return cache.NewMemoryProvider(cfg.Cache.TTL, cfg.Cache.MaxEntries)
}

// openArchive returns nil when archiving is disabled. A broken archive is logged and skipped so
// reports are still produced.
func openArchive(cfg *config.Config, provider cache.Provider, logger *slog.Logger) (services.ReportArchive, func()) {
	if !cfg.Archive.Enabled {
		return nil, func() {}
	}
	archive, err := repo.OpenReportArchive(cfg.Archive.Path, provider, cfg.Cache.TTL, logger)
	if err != nil {
		logger.Warn("report archive unavailable", slog.String("path", cfg.Archive.Path), slog.Any("error", err))
		return nil, func() {}
	}
	logger.Info("report archive ready", slog.String("path", cfg.Archive.Path))
	return archive, func() {
		if err := archive.Close(); err != nil {
			logger.Warn("close report archive", slog.Any("error", err))
		}
	}
}

func newOpener(cfg *config.Config) camera.Opener {
	if cfg.Capture.Source == config.SourcePattern {
		return camera.PatternOpener{}
	}
	return camera.NewDirectoryOpener(cfg.Capture.FramesRoot)
}

func sweepEvery(cfg *config.Config) time.Duration {
	if cfg.Cache.TTL <= 0 {
		return time.Minute
	}
	return cfg.Cache.TTL
}
