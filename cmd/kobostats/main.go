package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/kobo-stats/config"
	"github.com/aluiziolira/kobo-stats/enrich"
	"github.com/aluiziolira/kobo-stats/pipeline"
)

const version = "1.0.0"

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "kobostats",
		Short: "Export reading statistics from a Kobo e-reader database",
		Long: `kobostats reads KoboReader.sqlite and exports per-book reading stats:
sessions, reading time, page turns, highlights and ISBNs from Open Library.

Without --database it tries, in order:
  /Volumes/KOBOeReader/.kobo/KoboReader.sqlite
  ./KoboReader.sqlite

Output ending in .json is written as plain JSON; anything else is wrapped
as "library = {...}" for loading with a script tag.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd)
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.String("config", "", "YAML config file")
	fl.StringP("database", "d", "", "path to KoboReader.sqlite")
	fl.StringP("output", "o", defaults.OutputFile, "output file (.json for plain JSON)")
	fl.BoolP("console", "c", false, "print a report instead of writing the export")
	fl.Bool("debug", false, "enable debug logging, including Open Library requests")
	fl.String("cache", defaults.CacheFile, "ISBN cache file")
	fl.Int("workers", defaults.Workers, "concurrent ISBN lookups")
	fl.Bool("no-isbn", false, "skip ISBN enrichment")
	fl.String("sessions-parquet", "", "also write reading sessions to this Parquet file")
	fl.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	return cmd
}

// buildConfig layers defaults, the config file, the environment and the
// flags that were set explicitly.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	fl := cmd.Flags()
	cfg := config.DefaultConfig()

	if path, _ := fl.GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if fl.Changed("database") {
		cfg.DatabasePath, _ = fl.GetString("database")
	}
	if fl.Changed("output") {
		cfg.OutputFile, _ = fl.GetString("output")
	}
	if fl.Changed("console") {
		cfg.Console, _ = fl.GetBool("console")
	}
	if fl.Changed("debug") {
		cfg.Debug, _ = fl.GetBool("debug")
	}
	if fl.Changed("cache") {
		cfg.CacheFile, _ = fl.GetString("cache")
	}
	if fl.Changed("workers") {
		cfg.Workers, _ = fl.GetInt("workers")
	}
	if fl.Changed("no-isbn") {
		noISBN, _ := fl.GetBool("no-isbn")
		cfg.EnrichISBN = !noISBN
	}
	if fl.Changed("sessions-parquet") {
		cfg.SessionsFile, _ = fl.GetString("sessions-parquet")
	}
	if fl.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = fl.GetString("metrics-addr")
	}

	if !cfg.ResolveDatabasePath() {
		return nil, fmt.Errorf("no database found; pass --database or mount the reader at %s",
			strings.Join(config.DefaultDatabasePaths, " or "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runExport(ctx context.Context, cfg *config.Config, out io.Writer) error {
	runID := uuid.NewString()
	logger, level := newLogger(cfg.Debug)
	logger = logger.With(slog.String("run_id", runID))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	slog.Info("starting export",
		slog.String("database", cfg.DatabasePath),
		slog.String("output", cfg.OutputFile),
		slog.Bool("enrich_isbn", cfg.EnrichISBN),
		slog.Int("workers", cfg.Workers),
	)

	metrics := enrich.NewMetrics()
	metricsServer := startMetricsServer(cfg.MetricsAddr, metrics)
	defer stopMetricsServer(metricsServer)

	result, err := pipeline.Run(ctx, cfg, pipeline.Options{
		RunID:   runID,
		Metrics: metrics,
		Out:     out,
	})
	if err != nil {
		slog.Error("export failed", slog.Any("error", err))
		return err
	}

	pipeline.PrintSummary(out, result)
	return nil
}

func startMetricsServer(addr string, metrics *enrich.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func stopMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

// newLogger logs to stderr so stdout stays free for progress and reports.
func newLogger(debug bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
