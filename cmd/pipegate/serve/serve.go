// Package serve implements the serve command.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-pipe/internal/config"
	"github.com/tjfontaine/polyglot-pipe/internal/runtime"
	"github.com/tjfontaine/polyglot-pipe/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func NewCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if it exists
			_ = godotenv.Load(envFile)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return Run(cmd.Context(), cfg, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the config")
	return cmd
}

// Run starts a gateway for cfg and blocks until ctx is cancelled, a
// termination signal arrives, or the server fails. When configPath names an
// existing file, later edits to its log level are applied live.
func Run(ctx context.Context, cfg *config.Config, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	// Initialize structured logger
	var logLevel slog.LevelVar
	logLevel.Set(level)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.InitTracer(runtime.ServiceName, cfg.Telemetry.Tracing, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	gw, err := runtime.New(
		runtime.WithConfig(cfg),
		runtime.WithLogger(logger),
		runtime.WithRegisterer(prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
	)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := watchLogLevel(ctx, configPath, &logLevel, logger); err != nil {
				logger.Warn("config hot-reload disabled", slog.String("error", err.Error()))
			}
		}
	}

	errc, err := gw.Start(ctx)
	if err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping gateway")
	case serveErr = <-errc:
		if serveErr != nil {
			logger.Error("server failed", slog.String("error", serveErr.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return serveErr
}

// watchLogLevel applies log.level changes from the config file. Other
// settings take effect on restart.
func watchLogLevel(ctx context.Context, path string, level *slog.LevelVar, logger *slog.Logger) error {
	w, err := config.NewWatcher(path, logger)
	if err != nil {
		return err
	}
	return w.Watch(ctx, func(cfg *config.Config) {
		l, err := config.ParseLevel(cfg.Log.Level)
		if err != nil {
			return
		}
		if l != level.Level() {
			level.Set(l)
			logger.Info("log level changed", slog.String("level", l.String()))
		}
	})
}
