package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lookout-fleet/lookout/internal/config"
	"github.com/lookout-fleet/lookout/internal/hub"
	"github.com/lookout-fleet/lookout/internal/store"
)

const defaultConfigFile = "lookout-hub.json"

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [config-file]",
		Short: "Start the hub (default when no subcommand is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	// A .env in the working directory feeds the env overrides (PORT,
	// JWT_SECRET, LOOKOUT_*) before the config loads.
	_ = godotenv.Load()

	cfg, configPath, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	ring := store.NewLogRing(cfg.Logging.RingSize)
	logger := newLogger(cfg.Logging, ring)

	h, err := hub.New(cfg, ring, logger)
	if err != nil {
		logger.Error("failed to initialize hub", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("lookout hub starting", "version", version, "config", configPath)

	if err := h.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("hub error", "error", err)
		os.Exit(1)
	}

	logger.Info("hub stopped")
	return nil
}

// loadConfig resolves the config path (positional argument, --config flag,
// LOOKOUT_CONFIG env, ./lookout-hub.json) and loads it. With no file found
// anywhere the built-in defaults run, driven by env overrides alone.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, string, error) {
	path := ""
	switch {
	case len(args) > 0:
		path = args[0]
	case flagChanged(cmd, "config"):
		path = flagValue(cmd, "config")
	case os.Getenv("LOOKOUT_CONFIG") != "":
		path = os.Getenv("LOOKOUT_CONFIG")
	default:
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	if path == "" {
		cfg, err := config.Default()
		if err != nil {
			return nil, "", fmt.Errorf("error: %w", err)
		}
		return cfg, "(defaults)", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("error: %w", err)
	}
	return cfg, path, nil
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if f := cmd.Flag(name); f != nil && f.Changed {
		return true
	}
	f := cmd.Root().PersistentFlags().Lookup(name)
	return f != nil && f.Changed
}

func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil && f.Changed {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup(name); f != nil {
		return f.Value.String()
	}
	return ""
}

// newLogger builds the process logger and tees every record into the ring
// served by GET /api/logs.
func newLogger(cfg config.LoggingConfig, ring *store.LogRing) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(store.NewRingHandler(handler, ring))
}
