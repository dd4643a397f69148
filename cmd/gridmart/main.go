// Package main provides the gridmart warehouse migration tool.
//
// The tool reads a run manifest, connects to the PostgreSQL warehouse, and
// migrates the configured energy-market extracts (marginal prices, energy
// withdrawals, physical contracts) into the dimensional schema in one run.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"golang.org/x/time/rate"

	"github.com/gridmart-io/gridmart/internal/config"
	"github.com/gridmart-io/gridmart/internal/dataset"
	"github.com/gridmart-io/gridmart/internal/loader"
	"github.com/gridmart-io/gridmart/internal/migration"
	"github.com/gridmart-io/gridmart/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "gridmart"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	manifestFlag := flag.String("manifest", "", "path to the run manifest (overrides GRIDMART_MANIFEST)")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("GRIDMART_LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting gridmart migration",
		slog.String("service", name),
		slog.String("version", version),
	)

	manifestPath := *manifestFlag
	if manifestPath == "" {
		manifestPath = migration.ManifestPath()
	}

	manifest, err := migration.LoadManifest(manifestPath)
	if err != nil {
		logger.Error("Failed to load run manifest",
			slog.String("path", manifestPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Loaded run manifest",
		slog.String("path", manifestPath),
		slog.String("encoding", manifest.Encoding),
		slog.String("date_order", manifest.DateOrder),
		slog.Int("batch_size", manifest.BatchSize),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	dims, err := storage.NewDimensionStore(dbConn, logger)
	if err != nil {
		logger.Error("Failed to create dimension store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	facts, err := storage.NewFactStore(dbConn, logger)
	if err != nil {
		logger.Error("Failed to create fact store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Warehouse connection established",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	var loaderOpts []loader.Option
	if manifest.Encoding != "" {
		loaderOpts = append(loaderOpts, loader.WithEncodingHint(manifest.Encoding))
	}

	fileLoader := loader.NewLoader(logger, loaderOpts...)
	normalizer := dataset.NewNormalizer(logger, dataset.WithDateOrder(manifest.ParsedDateOrder()))

	runnerOpts := []migration.RunnerOption{
		migration.WithBatchSize(manifest.BatchSize),
		migration.WithConnectionCloser(dbConn),
	}

	if rps := config.GetEnvFloat("MIGRATION_BATCH_RATE", 0); rps > 0 {
		runnerOpts = append(runnerOpts, migration.WithBatchLimiter(rate.NewLimiter(rate.Limit(rps), 1)))

		logger.Info("Batch rate limiting enabled", slog.Float64("batches_per_second", rps))
	}

	runner := migration.NewRunner(logger, fileLoader, normalizer, dims, facts, runnerOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := runner.Run(ctx, manifest.Datasets)

	for _, ds := range result.Datasets {
		logger.Info("Dataset summary",
			slog.String("run_id", result.RunID),
			slog.String("dataset", ds.Kind.String()),
			slog.String("state", string(ds.State)),
			slog.Int("read", ds.Read),
			slog.Int("inserted", ds.Inserted),
			slog.Any("dropped", ds.Dropped),
		)
	}

	if runErr != nil {
		logger.Error("Migration run failed",
			slog.String("run_id", result.RunID),
			slog.String("error", runErr.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Migration run completed",
		slog.String("run_id", result.RunID),
		slog.Int("total_inserted", result.TotalInserted),
	)
}
