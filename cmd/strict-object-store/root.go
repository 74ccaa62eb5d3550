package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-object-store/internal/config"
	"github.com/yuya-takeyama/strict-object-store/pkg/logger"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
	"github.com/yuya-takeyama/strict-object-store/pkg/obs/metrics"
	"github.com/yuya-takeyama/strict-object-store/pkg/obs/tracing"
	"github.com/yuya-takeyama/strict-object-store/pkg/storeurl"
)

// app is the state shared by every subcommand for one invocation.
type app struct {
	configFile string
	quiet      bool
	fs         afero.Fs

	cfg     *config.Config
	store   *objectstore.Store
	metrics *metrics.StorageMetrics
}

func newRootCmd() *cobra.Command {
	a := &app{fs: afero.NewOsFs()}

	rootCmd := &cobra.Command{
		Use:   "strict-object-store",
		Short: "Inspect and modify objects in any supported store",
		Long: `strict-object-store works with objects in a local directory, memory, S3,
Redis, SQLite or an IPFS datastore through one set of commands.

The store is selected with --store (or OBJSTORE_STORE), for example
  --store ./data
  --store s3://bucket/prefix
  --store redis://localhost:6379/0?namespace=objects
  --store sqlite:///var/lib/objects.db`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Config file (YAML, TOML or JSON)")
	pf.BoolVar(&a.quiet, "quiet", false, "Suppress non-error output")
	pf.String("store", config.DefaultStore, "Store URL or local directory")
	pf.String("region", "", "AWS region (uses default if not specified)")
	pf.String("profile", "", "AWS profile to use")
	pf.String("endpoint", "", "S3 compatible endpoint URL")
	pf.Bool("path-style", false, "Use path-style S3 addressing")
	pf.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	pf.StringP("output", "o", config.DefaultOutput, "Output format (text, json, yaml)")
	pf.String("metrics-file", "", "Write Prometheus metrics to this file on exit")
	pf.String("trace-endpoint", "", "OTLP/HTTP endpoint; tracing is off when empty")
	pf.Float64("trace-sample-ratio", 1.0, "Fraction of operations to trace")
	pf.Int("concurrency", config.DefaultConcurrency, "Number of concurrent operations")
	pf.Float64("rate-limit", 0, "Maximum operations per second (0 means unlimited)")
	pf.Int("chunk-size", objectstore.DefaultChunkSize, "Stream chunk size in bytes")
	pf.Duration("timeout", config.DefaultTimeout, "Overall timeout (0 means none)")

	rootCmd.AddCommand(
		newLsCmd(a),
		newHeadCmd(a),
		newCatCmd(a),
		newGetRangeCmd(a),
		newPutCmd(a),
		newRmCmd(a),
		newCpCmd(a),
		newMvCmd(a),
		newSyncCmd(a),
	)
	return rootCmd
}

// runE wraps a command body with store setup and teardown.
func (a *app) runE(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cleanup, err := a.setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, cleanup())
		}()

		if a.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
			defer cancel()
		}
		return fn(ctx, cmd, args)
	}
}

func (a *app) setup(ctx context.Context, cmd *cobra.Command) (func() error, error) {
	cfg, err := config.Load(cmd.Flags(), a.configFile)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg

	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.Trace.Endpoint != "",
		Endpoint:    cfg.Trace.Endpoint,
		SampleRatio: cfg.Trace.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	storeOpts := []objectstore.Option{objectstore.WithLogger(log)}
	if cfg.MetricsFile != "" {
		a.metrics = metrics.NewStorageMetrics(nil)
		storeOpts = append(storeOpts, objectstore.WithObserver(a.metrics))
	}

	store, err := storeurl.Open(ctx, cfg.Store, cfg.StoreURLOptions(storeOpts...))
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store
	log.Debug("store opened", slog.String("store", cfg.Store), slog.Bool("conditional_copy", store.Capabilities().ConditionalCopy))

	return func() error {
		var errs []error
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		if a.metrics != nil {
			if err := a.metrics.WriteFile(cfg.MetricsFile); err != nil {
				errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
			}
		}
		if err := shutdownTracing(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

func (a *app) syncLogger(cmd *cobra.Command, dryRun bool) *logger.SyncLogger {
	level, _ := a.cfg.SlogLevel()
	return &logger.SyncLogger{
		IsDryRun:  dryRun,
		IsQuiet:   a.quiet,
		IsVerbose: level <= slog.LevelDebug,
		Out:       cmd.OutOrStdout(),
		ErrOut:    cmd.ErrOrStderr(),
	}
}

// target renders loc the way progress lines and JSON reports show it.
func (a *app) target(loc objpath.Path) string {
	return formatTarget(a.cfg.Store, loc)
}

func formatTarget(store string, loc objpath.Path) string {
	switch {
	case !strings.Contains(store, "://"):
		return path.Join(store, loc.String())
	case strings.HasSuffix(store, "://"):
		return store + "/" + loc.String()
	}
	return strings.TrimSuffix(store, "/") + "/" + loc.String()
}
