package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/robometrics/robometrics/pkg/archive"
	"github.com/robometrics/robometrics/pkg/config"
	"github.com/robometrics/robometrics/pkg/ingest"
	"github.com/robometrics/robometrics/pkg/parser"
	"github.com/robometrics/robometrics/pkg/runindex"
	"github.com/robometrics/robometrics/pkg/store"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [output.xml]",
	Short: "Ingest one output.xml document",
	Long: `Parse a single output.xml document, persist the run record, and
archive its companion artifacts. Without an argument the first configured
results directory is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
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

	xmlPath := ""
	if len(args) == 1 {
		xmlPath = args[0]
	} else {
		xmlPath = filepath.Join(cfg.Ingest.ResultsDirs[0], "output.xml")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

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

	result, err := service.Ingest(ctx, xmlPath)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", xmlPath, err)
	}

	if result.Skipped {
		log.WithField("run_id", result.Run.RunID).
			Info("Run already ingested")

		return nil
	}

	log.WithField("run_id", result.Run.RunID).
		WithField("archived", result.Archived).
		Info("Ingestion complete")

	return nil
}

// buildService assembles the ingestion pipeline from config. The
// returned index store is nil when indexing is disabled; the caller
// owns stopping it.
func buildService(
	ctx context.Context, cfg *config.Config,
) (*ingest.Service, runindex.Store, error) {
	loc, err := cfg.ParseTimezone()
	if err != nil {
		return nil, nil, err
	}

	p := parser.New(log, parser.WithLocation(loc))

	st, err := store.New(log, cfg.Storage.HistoryDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening run store: %w", err)
	}

	resultsDir := ""
	if len(cfg.Ingest.ResultsDirs) > 0 {
		resultsDir = cfg.Ingest.ResultsDirs[0]
	}

	archiveOpts := []archive.Option{}
	if cfg.Storage.S3 != nil && cfg.Storage.S3.Enabled {
		archiveOpts = append(archiveOpts,
			archive.WithMirror(archive.NewS3Mirror(log, cfg.Storage.S3)))
	}

	archiver := archive.New(
		log, resultsDir, cfg.Storage.HistoryDir, archiveOpts...,
	)

	var (
		index       runindex.Store
		serviceOpts []ingest.Option
	)

	if cfg.Storage.Index != nil && cfg.Storage.Index.Enabled {
		index = runindex.NewStore(log, &cfg.Storage.Index.Database)

		if err := index.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("starting run index: %w", err)
		}

		serviceOpts = append(serviceOpts, ingest.WithIndex(index))
	}

	return ingest.NewService(log, p, st, archiver, serviceOpts...), index, nil
}
