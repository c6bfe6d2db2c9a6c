package cmd

import (
	"bytes"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/app"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
)

var exportJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// newExportCmd creates the 'export' subcommand.
func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Writes every stored record as one JSON array",
		Long: `Reads all records from the configured sink and uploads them as a JSON
array to the export target (local directory, GCS or S3).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "object name (default records-<timestamp>.json)")
	return cmd
}

func runExport(cmd *cobra.Command, out string) error {
	ctx := cmd.Context()
	e, err := resolveEnv(ctx)
	if err != nil {
		return err
	}
	if out == "" {
		out = fmt.Sprintf("records-%s.json", time.Now().UTC().Format("20060102T150405Z"))
	}

	store, err := app.NewStore(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			e.logger.Warn("Failed to close store", zap.Error(cerr))
		}
	}()

	records, err := store.Records(ctx)
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	if records == nil {
		records = []crawler.LayerRecord{}
	}
	body, err := exportJSON.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	blobs, closeBlobs, err := app.NewBlobStore(ctx, e.cfg.Export)
	if err != nil {
		return err
	}
	if closeBlobs != nil {
		defer func() { _ = closeBlobs() }()
	}
	uri, err := blobs.PutObject(ctx, out, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("upload export: %w", err)
	}
	e.logger.Info("Exported records", zap.Int("records", len(records)), zap.String("uri", uri))
	fmt.Fprintln(cmd.OutOrStdout(), uri)
	return nil
}
