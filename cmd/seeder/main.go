package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/acme-corp/seed-loader/internal/config"
	"github.com/acme-corp/seed-loader/internal/loader"
	"github.com/acme-corp/seed-loader/internal/metrics"
	"github.com/acme-corp/seed-loader/internal/storage"
)

var (
	v          = config.New()
	configPath string
	cfg        *config.Config
	logger     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "seeder",
	Short: "Load JSON seed files into a DynamoDB table",
	Long: `seeder streams JSON seed files (an array of objects, a single object, or
NDJSON) into a DynamoDB table using BatchWriteItem, 25 items per call.

Writes are retried while the table is still being created.

Examples:
  seeder load --table users users.json admins.json
  seeder load --config seeder.toml
  seeder load --output out.ndjson seeds/*.json
  seeder validate --config seeder.toml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, configPath)
		if err != nil {
			return err
		}
		return setupLogger(cfg.Log)
	},
}

var loadCmd = &cobra.Command{
	Use:   "load [files...]",
	Short: "Write seed files into the table",
	RunE: func(cmd *cobra.Command, args []string) error {
		sources := cfg.Sources
		if len(args) > 0 {
			sources = args
		}
		return runLoad(cmd.Context(), sources)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Check the configuration and that every seed file exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		sources := cfg.Sources
		if len(args) > 0 {
			sources = args
		}
		paths, err := loader.ResolveSources(sources, cfg.BaseDir)
		if err != nil {
			return err
		}
		fmt.Printf("Config validation passed: table %q, %d seed file(s).\n", cfg.Table.Name, len(paths))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a TOML/YAML/JSON config file")
	flags.String("table", "", "destination table name")
	flags.String("base-dir", "", "directory relative seed paths are resolved against (default: working directory)")
	flags.Bool("log-json", false, "log as JSON")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	mustBind(v.BindPFlag("table.name", flags.Lookup("table")))
	mustBind(v.BindPFlag("base_dir", flags.Lookup("base-dir")))
	mustBind(v.BindPFlag("log.json", flags.Lookup("log-json")))
	mustBind(v.BindPFlag("log.level", flags.Lookup("log-level")))

	lf := loadCmd.Flags()
	lf.String("region", "", "AWS region")
	lf.String("endpoint", "", "DynamoDB endpoint override, e.g. http://localhost:8000")
	lf.Int("concurrency", 0, "seed files processed at once (0 = all)")
	lf.Duration("retry-increment", storage.DefaultRetryIncrement, "wait added after each not-ready failure")
	lf.Duration("retry-ceiling", storage.DefaultRetryCeiling, "longest wait before giving up")
	lf.String("output", "", "write NDJSON to this file instead of DynamoDB")
	lf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	mustBind(v.BindPFlag("aws.region", lf.Lookup("region")))
	mustBind(v.BindPFlag("aws.endpoint", lf.Lookup("endpoint")))
	mustBind(v.BindPFlag("concurrency", lf.Lookup("concurrency")))
	mustBind(v.BindPFlag("retry.increment", lf.Lookup("retry-increment")))
	mustBind(v.BindPFlag("retry.ceiling", lf.Lookup("retry-ceiling")))
	mustBind(v.BindPFlag("output.path", lf.Lookup("output")))
	mustBind(v.BindPFlag("metrics.addr", lf.Lookup("metrics-addr")))

	rootCmd.AddCommand(loadCmd, validateCmd)
}

func mustBind(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.WithError(err).Error("seeder failed")
		os.Exit(1)
	}
}

func setupLogger(lc config.LogConfig) error {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return errors.Wrap(err, "parsing log level")
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)
	if lc.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func runLoad(ctx context.Context, sources []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	collector := metrics.NewCollector()
	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, collector)
	}

	writer, closeWriter, err := initWriter(ctx, collector)
	if err != nil {
		return err
	}

	opts := cfg.LoaderOptions()
	opts.DiscardSeeds = true
	l := loader.New(writer, logger, opts)
	l.SetMetrics(collector)

	logger.WithFields(logrus.Fields{
		"table":   cfg.Table.Name,
		"sources": len(sources),
		"output":  cfg.Output.Path,
	}).Info("loading seeds")

	go reportMetrics(ctx, collector)

	_, loadErr := l.Load(ctx, sources, cfg.BaseDir)
	if err := closeWriter(); err != nil && loadErr == nil {
		loadErr = err
	}

	snap, _ := collector.JSON()
	logger.Infof("Final metrics:\n%s", snap)
	return loadErr
}

// initWriter returns the NDJSON sink when an output path is configured and
// the DynamoDB batch writer otherwise.
func initWriter(ctx context.Context, collector *metrics.Collector) (storage.Writer, func() error, error) {
	if cfg.Output.Path != "" {
		w := storage.NewJSONFileWriter(cfg.Output.Path)
		if err := w.Open(ctx); err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	}

	client, err := storage.NewDynamoClient(ctx, cfg.AWSOptions())
	if err != nil {
		return nil, nil, err
	}
	w := storage.NewBatchWriter(client, cfg.Table.Name, cfg.RetryPolicy(), logger)
	w.SetMetrics(collector)
	return w, func() error { return nil }, nil
}

func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("metrics server stopped")
	}
}

func reportMetrics(ctx context.Context, collector *metrics.Collector) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := collector.Snapshot()
			logger.WithFields(logrus.Fields{
				"read":       snap.SeedsRead,
				"written":    snap.SeedsWritten,
				"batches":    snap.BatchesWritten,
				"retries":    snap.Retries,
				"throughput": fmt.Sprintf("%.1f seeds/s", snap.Throughput),
			}).Info("seeding progress")
		case <-ctx.Done():
			return
		}
	}
}
