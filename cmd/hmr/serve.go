package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/hmr/internal/config"
	"github.com/vango-dev/hmr/internal/dev"
	"github.com/vango-dev/hmr/internal/errors"
	"github.com/vango-dev/hmr/internal/history"
	"github.com/vango-dev/hmr/pkg/telemetry"
)

type serveOptions struct {
	port     int
	host     string
	manifest string
	backend  string
	verbose  bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the development server",
		Long: `Start the development server.

The server polls the module manifest, publishes every change as the
next update generation and replays missed generations to clients
that reconnect.

Examples:
  hmr serve
  hmr serve --port=8080
  hmr serve --manifest=build/hmr-manifest.json --history=disk`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Port to run on (default from hmr.json)")
	cmd.Flags().StringVarP(&opts.host, "host", "H", "", "Host to bind to (default from hmr.json)")
	cmd.Flags().StringVarP(&opts.manifest, "manifest", "m", "", "Module manifest path (default from hmr.json)")
	cmd.Flags().StringVar(&opts.backend, "history", "", "History backend: memory, disk or s3")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

// loadServeConfig loads hmr.json, or falls back to defaults when a
// manifest is given explicitly.
func loadServeConfig(opts serveOptions) (*config.Config, error) {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		he := errors.FromError(err, "")
		if he.Code != "E141" || opts.manifest == "" {
			return nil, err
		}
		cfg = config.New()
	}

	if opts.port > 0 {
		cfg.Dev.Port = opts.port
	}
	if opts.host != "" {
		cfg.Dev.Host = opts.host
	}
	if opts.manifest != "" {
		abs, err := filepath.Abs(opts.manifest)
		if err != nil {
			return nil, err
		}
		cfg.Dev.Manifest = abs
	}
	if opts.backend != "" {
		cfg.History.Backend = opts.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openHistory opens the configured history backend.
func openHistory(ctx context.Context, cfg *config.Config) (*history.Log, error) {
	var backend history.Backend
	switch cfg.History.Backend {
	case config.BackendDisk:
		d, err := history.NewDisk(cfg.HistoryDir())
		if err != nil {
			return nil, errors.New("E123").WithDetail(err.Error()).Wrap(err)
		}
		backend = d
	case config.BackendS3:
		client, err := history.NewS3Client(ctx, cfg.History.Region, cfg.History.Endpoint, cfg.History.Endpoint != "")
		if err != nil {
			return nil, errors.New("E123").WithDetail(err.Error()).Wrap(err)
		}
		backend = history.NewS3(client, cfg.History.Bucket, cfg.History.Prefix)
	default:
		backend = history.NewMemory()
	}
	return history.Open(ctx, backend, 0, cfg.History.Limit)
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := loadServeConfig(opts)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}

	printBanner()
	fmt.Println("  serve")
	fmt.Println()
	info("Manifest: %s", cfg.ManifestPath())
	info("History:  %s (keeps %d)", cfg.History.Backend, cfg.History.Limit)
	info("Listening on http://%s", cfg.DevAddress())
	fmt.Println()

	server := dev.NewServer(dev.ServerOptions{
		Config:  cfg,
		History: store,
		Metrics: telemetry.NewMetrics(),
		Logger:  logger,
		OnUpdate: func(generation uint64, modules, clients int) {
			success("Generation %d: %d module(s) sent to %d client(s)", generation, modules, clients)
		},
		OnReload: func(reason string, clients int) {
			warn("Full reload (%s): %d client(s)", reason, clients)
		},
	})

	err = server.Start(ctx)
	fmt.Println("\n  Shutting down...")
	return err
}
