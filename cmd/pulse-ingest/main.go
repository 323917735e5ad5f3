package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/internal/engine"
	"github.com/pinotpulse/ingest/internal/metrics"
	"github.com/pinotpulse/ingest/internal/server"
	"github.com/pinotpulse/ingest/internal/store"
	"github.com/pinotpulse/ingest/pkg/clients"
	"github.com/pinotpulse/ingest/pkg/config"
	"github.com/pinotpulse/ingest/pkg/connector/registry"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/provider"
	"github.com/pinotpulse/ingest/pkg/target"
	"github.com/pinotpulse/ingest/pkg/vault"

	// Register all source adapters with the connector registry.
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/confluent"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/eventhubs"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/fiservdna"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/kafka"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/keystone"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/kinesis"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/postgres"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/pubsub"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/restapi"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/s3"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/sftp"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/snowflake"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/symitar"
	_ "github.com/pinotpulse/ingest/pkg/connector/sources/upload"
)

var version = "0.1.0"

func main() {
	_ = godotenv.Load()

	var cfgFile string

	root := &cobra.Command{
		Use:   "pulse-ingest",
		Short: "Pulse ingestion engine",
		Long: `Pulse ingests operational data from streaming brokers, warehouses,
file drops, APIs, and core banking systems into Pinot, with lifecycle
management, dead letter handling, and per-pipeline metrics.`,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("pulse-ingest v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "providers",
		Short: "List the provider catalog",
		Run: func(_ *cobra.Command, _ []string) {
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tCATEGORY\tMODE\tADAPTER")
			for _, spec := range provider.Default().List() {
				wired := "-"
				if registry.Default().HasSource(spec.Kind) {
					wired = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					spec.Kind, spec.DisplayName, spec.Category, spec.Mode, wired)
			}
			_ = tw.Flush()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the engine configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := config.Load(cfgFile); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the engine and console API",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(cfgFile)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	}); err != nil {
		return err
	}
	log := logger.Get()
	defer func() { _ = log.Sync() }()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	vlt, err := openVault(cfg.Vault)
	if err != nil {
		return err
	}
	defer func() { _ = vlt.Close() }()

	writer := openWriter(cfg.Target, log)
	defer func() { _ = writer.Close() }()

	prom := metrics.NewCollectors(prometheus.DefaultRegisterer)
	agg := metrics.NewAggregator(st, cfg.Metrics.BucketGranularity, cfg.Metrics.Retention, prom)

	manager := engine.NewManager(engine.ManagerParams{
		Store:   st,
		Vault:   vlt,
		Sources: registry.Default(),
		Writer:  writer,
		Agg:     agg,
		Prom:    prom,
		Proc:    cfg.Processing,
		Health:  cfg.Health,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pipelines orphaned in an active state by the previous process are
	// parked before anything else happens.
	if err := manager.Recover(ctx); err != nil {
		return err
	}

	go agg.Run(ctx)
	go manager.RunHealth(ctx)

	srv := server.New(server.Params{
		Config:     cfg.Server,
		Store:      st,
		Vault:      vlt,
		Providers:  provider.Default(),
		Manager:    manager,
		Tester:     engine.NewTester(provider.Default(), registry.Default(), vlt),
		DLQ:        engine.NewDLQService(st, writer),
		Aggregator: agg,
	})

	log.Info("engine started", zap.String("version", version))
	err = srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	manager.Shutdown(shutdownCtx)

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	if ferr := agg.Flush(flushCtx); ferr != nil {
		log.Warn("metric flush on shutdown failed", zap.Error(ferr))
	}

	log.Info("engine stopped")
	return err
}

func openVault(cfg config.VaultConfig) (vault.Vault, error) {
	if cfg.Backend == "memory" {
		return vault.NewMemoryVault(), nil
	}
	return vault.NewFileVault(cfg.Path, cfg.KeyHex)
}

func openWriter(cfg config.TargetConfig, log *zap.Logger) target.Writer {
	if cfg.Backend == "memory" {
		return target.NewMemoryWriter()
	}
	return target.NewPinotWriter(cfg.BaseURL, clients.NewHTTPClient(nil, log), log)
}
