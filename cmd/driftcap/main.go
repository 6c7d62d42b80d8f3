package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/artifact"
	"github.com/driftcap/driftcap/internal/connector"
	"github.com/driftcap/driftcap/internal/coordinator"
	"github.com/driftcap/driftcap/internal/detector"
	"github.com/driftcap/driftcap/internal/gate"
	"github.com/driftcap/driftcap/internal/sweeper"
	"github.com/driftcap/driftcap/internal/uploader"
	"github.com/driftcap/driftcap/pkg/backuperrors"
	"github.com/driftcap/driftcap/pkg/compression"
	"github.com/driftcap/driftcap/pkg/config"
	"github.com/driftcap/driftcap/pkg/logger"
	"github.com/driftcap/driftcap/pkg/metrics"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "driftcap",
		Short: "Driftcap - incremental database backup engine",
		Long: `Driftcap captures only what changed since the previous backup cycle.
It detects change per table via timestamps, row watermarks, or transaction
log segments, packages the deltas into compressed artifacts, and optionally
ships them to object storage.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Driftcap v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configFile string
	var dryRun bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one backup cycle",
		Long: `Execute one full backup cycle: wait for resource admission, detect
changed entities under each enabled strategy, build artifacts, advance
watermarks, upload, and apply retention.

Example:
  driftcap run --config driftcap.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(configFile, dryRun)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration YAML file (required)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Detect and build locally but skip uploads")
	_ = runCmd.MarkFlagRequired("config")
	root.AddCommand(runCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Apply retention to local artifacts without running a backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(configFile)
		},
	}
	sweepCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration YAML file (required)")
	_ = sweepCmd.MarkFlagRequired("config")
	root.AddCommand(sweepCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads and validates the configuration and initializes logging.
func setup(configFile string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return nil, nil, fmt.Errorf("logger initialization failed: %w", err)
	}
	return cfg, logger.Get().With(zap.String("component", "driftcap-cli")), nil
}

// runCycle executes one coordinated backup run.
func runCycle(configFile string, dryRun bool) error {
	cfg, log, err := setup(configFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Observability.MetricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: cfg.Observability.MetricsListen, Handler: mux}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	conn, err := connector.NewMySQLConnector(cfg, log)
	if err != nil {
		return fmt.Errorf("source connection failed: %w", err)
	}
	defer conn.Close()

	compCfg := &compression.Config{
		Algorithm: compression.Algorithm(cfg.Backup.CompressionAlgorithm),
		Level:     compression.Level(cfg.Backup.CompressionLevel),
	}
	builder, err := artifact.NewBuilder(cfg.Backup.Dir, cfg.Backup.MinArtifactBytes, compCfg, log)
	if err != nil {
		return fmt.Errorf("artifact builder setup failed: %w", err)
	}

	var dispatcher *uploader.Dispatcher
	if cfg.Upload.Enabled && !dryRun {
		transport, err := uploader.NewS3Transport(ctx, cfg.Upload)
		if err != nil {
			return fmt.Errorf("upload transport setup failed: %w", err)
		}
		dispatcher = uploader.NewDispatcher(transport, cfg.Upload, log)
	}

	g := gate.New(gate.NewSystemSampler(conn, log), cfg.Gate, log)
	sw := sweeper.New(log)

	coord := coordinator.New(cfg, conn, g, builder, dispatcher, sw, log)
	summary, err := coord.Run(ctx)
	if err != nil {
		log.Error("run failed",
			zap.String("run_id", summary.RunID),
			zap.Duration("duration", summary.Duration),
			zap.Error(err))
		if backuperrors.IsFatal(err) {
			return err
		}
		// Recoverable failure classes leave the cycle degraded but
		// resumable; the next scheduled run picks up from the committed
		// watermarks.
		return nil
	}

	fmt.Printf("run %s complete: %d examined, %d changed, %d artifacts, %d uploaded, %d upload failures, %d swept (%s)\n",
		summary.RunID, summary.EntitiesExamined, summary.EntitiesChanged, summary.ArtifactsBuilt,
		summary.UploadsSucceeded, summary.UploadsFailed, summary.ArtifactsSwept,
		summary.Duration.Round(time.Millisecond))
	return nil
}

// runSweep applies retention standalone, without touching the database or
// the watermark stores.
func runSweep(configFile string) error {
	cfg, log, err := setup(configFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sw := sweeper.New(log)
	total := 0
	for name, sc := range map[string]config.StrategyConfig{
		detector.TableTimestampName: cfg.Strategies.TableTimestamp,
		detector.RowWatermarkName:   cfg.Strategies.RowWatermark,
		detector.LogSequenceName:    cfg.Strategies.LogSequence,
	} {
		if !sc.Enabled {
			continue
		}
		removed, err := sw.Sweep(filepath.Join(cfg.Backup.Dir, name), sc.RetentionAge)
		if err != nil {
			return err
		}
		total += removed
	}
	fmt.Printf("swept %d expired artifacts\n", total)
	return nil
}
