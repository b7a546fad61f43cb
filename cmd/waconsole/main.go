package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waconsole/internal/config"
	"waconsole/internal/constants"
	"waconsole/internal/database"
	"waconsole/internal/models"
	"waconsole/internal/retry"
	"waconsole/internal/service"
	"waconsole/internal/tracing"
	"waconsole/pkg/botapi"
	"waconsole/pkg/stream"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes message bodies)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the environment overrides")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("waconsole %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting waconsole")

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.WithError(err).Warn("Failed to read env file")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewTracingManager(tracingConfig(cfg.Tracing), logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	client := botapi.NewClient(botapi.ClientConfig{
		BaseURL:            cfg.Bot.APIBaseURL,
		APIKey:             cfg.Bot.APIKey,
		Timeout:            time.Duration(cfg.Bot.TimeoutMs) * time.Millisecond,
		BreakerMaxFailures: cfg.Bot.BreakerMaxFailures,
		BreakerCooldown:    time.Duration(cfg.Bot.BreakerCooldownSec) * time.Second,
	}, logger)

	conn := stream.NewManager(stream.Config{
		URL:            cfg.Bot.StreamURL,
		APIKey:         cfg.Bot.APIKey,
		Keepalive:      time.Duration(cfg.Stream.KeepaliveSec) * time.Second,
		ReconnectBase:  time.Duration(cfg.Stream.ReconnectBaseMs) * time.Millisecond,
		ReconnectMax:   time.Duration(cfg.Stream.ReconnectMaxMs) * time.Millisecond,
		ConnectTimeout: time.Duration(cfg.Stream.ConnectTimeoutMs) * time.Millisecond,
	}, logger)

	console := service.NewConsole(client, conn, db, service.ConsoleConfig{
		TimelinePageSize:  cfg.Timeline.PageSize,
		DirectoryPageSize: cfg.Directory.PageSize,
		Media:             cfg.Media,
		Verbose:           *verbose,
	}, logger)
	console.Start()
	defer console.Shutdown()

	scheduler := service.NewScheduler(db, cfg.RetentionDays, cfg.CleanupIntervalHours, logger)
	if cfg.CleanupSchedule != "" {
		if err := scheduler.SetSchedule(cfg.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid cleanup schedule: %w", err)
		}
	}
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	watcher := config.NewConfigWatcher(*configPath, logger)
	watcher.OnConfigChange(func(next *models.Config) {
		applyLogLevel(logger, next.LogLevel, *verbose)
		if err := scheduler.Reconfigure(next.RetentionDays, next.CleanupSchedule); err != nil {
			logger.WithError(err).Warn("Ignoring reloaded cleanup schedule")
		}
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	server := NewServer(cfg.Server, int64(cfg.Media.MaxSizeMB)<<20, console, db, logger)
	server.SetBreakerStats(client.BreakerStats)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// openJournal opens the mutation journal, retrying transient failures.
func openJournal(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to open mutation journal: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mutation journal after retries: %w", err)
	}
	return db, nil
}

// applyLogLevel sets the configured level. Verbose forces debug; otherwise
// anything noisier than info is clamped to info.
func applyLogLevel(logger *logrus.Logger, configured string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		level = logrus.InfoLevel
	}
	if level > logrus.InfoLevel {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func tracingConfig(c models.TracingConfig) tracing.TracingConfig {
	tc := tracing.DefaultTracingConfig()
	tc.Enabled = c.Enabled
	tc.UseStdout = c.UseStdout
	if c.ServiceName != "" {
		tc.ServiceName = c.ServiceName
	}
	if c.ServiceVersion != "" {
		tc.ServiceVersion = c.ServiceVersion
	} else {
		tc.ServiceVersion = Version
	}
	if c.Environment != "" {
		tc.Environment = c.Environment
	}
	if c.OTLPEndpoint != "" {
		tc.OTLPEndpoint = c.OTLPEndpoint
	}
	if c.SampleRate > 0 {
		tc.SampleRate = c.SampleRate
	}
	return tc
}
