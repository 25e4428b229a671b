package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robometrics/robometrics/pkg/analytics"
	"github.com/robometrics/robometrics/pkg/api"
	"github.com/robometrics/robometrics/pkg/config"
	"github.com/robometrics/robometrics/pkg/ingest"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the metrics service",
	Long: `Start the robometrics service: a watcher that ingests new
output.xml documents from the configured results directories, and the
HTTP API serving run history and analytics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	service, index, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		if index != nil {
			if err := index.Stop(); err != nil {
				log.WithError(err).Warn("Run index stop error")
			}
		}
	}()

	engine := analytics.NewEngine(service.Store())

	interval, err := time.ParseDuration(cfg.Ingest.ScanInterval)
	if err != nil {
		return fmt.Errorf("parsing scan interval: %w", err)
	}

	watcher := ingest.NewWatcher(
		log, service, cfg.Ingest.ResultsDirs, interval,
		cfg.Ingest.Concurrency,
	)

	srvOpts := []api.Option{}
	if index != nil {
		srvOpts = append(srvOpts, api.WithIndex(index))
	}

	if len(cfg.Ingest.ResultsDirs) > 0 {
		srvOpts = append(srvOpts, api.WithResultsDir(cfg.Ingest.ResultsDirs[0]))
	}

	srv := api.NewServer(log, &cfg.Server, service, engine, srvOpts...)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Start ingesting only after the API is listening.
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	if err := watcher.Stop(); err != nil {
		log.WithError(err).Warn("Watcher stop error")
	}

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
