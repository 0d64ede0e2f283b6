package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crmflow/crmflow/internal/pipeline"
	"github.com/crmflow/crmflow/pkg/connector/registry"
	"github.com/crmflow/crmflow/pkg/logger"

	// Import connectors to register them
	_ "github.com/crmflow/crmflow/pkg/connector/destinations/jsonl"
	_ "github.com/crmflow/crmflow/pkg/connector/sources/hubspot"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "crmflow",
		Short: "crmflow - CRM extraction pipelines",
		Long: `crmflow extracts CRM objects, property histories, pipelines, stage
timings and behavioral events into local files, with incremental event
cursors persisted between runs.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crmflow v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available connectors",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available Source Connectors:")
			for _, source := range registry.ListSources() {
				fmt.Printf("  - %s\n", source)
			}
			fmt.Println("\nAvailable Destination Connectors:")
			for _, dest := range registry.ListDestinations() {
				fmt.Printf("  - %s\n", dest)
			}
		},
	})

	var configFile, logLevel, metricsAddr string
	var timeout time.Duration

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an extraction pipeline",
		Long: `Run an extraction pipeline described by a YAML config file holding
the source and destination sections and an optional state path.

Example:
  crmflow run --config pipeline.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(configFile, logLevel, metricsAddr, timeout)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to pipeline YAML config file (required)")
	_ = runCmd.MarkFlagRequired("config")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090); empty disables")
	runCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Pipeline timeout")
	root.AddCommand(runCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Probe source and destination connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := pipeline.NewRunner(configFile)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := r.Health(ctx); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Println("ok")
			return nil
		},
	}
	healthCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to pipeline YAML config file (required)")
	_ = healthCmd.MarkFlagRequired("config")
	root.AddCommand(healthCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runPipeline(configFile, logLevel, metricsAddr string, timeout time.Duration) error {
	if err := logger.Init(logger.Config{Level: logLevel, Encoding: "json"}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(zap.String("component", "crmflow-cli"))

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info("serving metrics", zap.String("addr", metricsAddr))
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	runner, err := pipeline.NewRunner(configFile)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Cancel the run on SIGINT/SIGTERM; state is not persisted for
	// interrupted runs.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sig:
			log.Warn("received signal, cancelling run", zap.String("signal", s.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("starting run", zap.String("config", configFile))
	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}
	return nil
}
