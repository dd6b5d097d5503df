package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flagwise/flagwise/pkg/cli"
	"github.com/flagwise/flagwise/pkg/config"
	"github.com/flagwise/flagwise/pkg/storage"
	"github.com/flagwise/flagwise/pkg/storage/export"
)

var exportFlags struct {
	format    string
	output    string
	flagged   bool
	startTime string
	endTime   string
	limit     int
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored request records",
	Long: `Export stored request records as CSV or JSON.

Reads from the storage backend configured in the config file.

Examples:
  # Export everything as CSV to stdout
  flagwise export

  # Export flagged requests to a file
  flagwise export --flagged --format json --output flagged.json

  # Export a time range
  flagwise export --start 2026-08-01T00:00:00Z --end 2026-08-28T00:00:00Z`,
	RunE: exportRequests,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFlags.format, "format", "csv", "output format: csv, json")
	exportCmd.Flags().StringVarP(&exportFlags.output, "output", "o", "", "output file (defaults to stdout)")
	exportCmd.Flags().BoolVar(&exportFlags.flagged, "flagged", false, "export only flagged requests")
	exportCmd.Flags().StringVar(&exportFlags.startTime, "start", "", "start of time range (RFC3339)")
	exportCmd.Flags().StringVar(&exportFlags.endTime, "end", "", "end of time range (RFC3339)")
	exportCmd.Flags().IntVar(&exportFlags.limit, "limit", 0, "maximum records to export (0 = all)")
}

func exportRequests(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	store, err := buildStore(cfg)
	if err != nil {
		return cli.NewCommandError("export", err)
	}
	defer store.Close()

	q := &storage.RequestQuery{Limit: exportFlags.limit}
	if exportFlags.flagged {
		flagged := true
		q.Flagged = &flagged
	}
	if exportFlags.startTime != "" {
		t, err := time.Parse(time.RFC3339, exportFlags.startTime)
		if err != nil {
			return cli.NewCommandError("export", fmt.Errorf("invalid --start: %w", err))
		}
		q.StartTime = &t
	}
	if exportFlags.endTime != "" {
		t, err := time.Parse(time.RFC3339, exportFlags.endTime)
		if err != nil {
			return cli.NewCommandError("export", fmt.Errorf("invalid --end: %w", err))
		}
		q.EndTime = &t
	}

	ctx := context.Background()
	records, err := store.ListRequests(ctx, q)
	if err != nil {
		return cli.NewCommandError("export", fmt.Errorf("query failed: %w", err))
	}

	out := os.Stdout
	if exportFlags.output != "" {
		f, err := os.Create(exportFlags.output)
		if err != nil {
			return cli.NewCommandError("export", err)
		}
		defer f.Close()
		out = f
	}

	switch exportFlags.format {
	case "csv":
		err = export.NewCSVExporter(true).Export(ctx, records, out)
	case "json":
		err = export.NewJSONExporter(true).Export(ctx, records, out)
	default:
		return cli.NewCommandError("export", fmt.Errorf("unsupported format: %s", exportFlags.format))
	}
	if err != nil {
		return cli.NewCommandError("export", err)
	}

	if exportFlags.output != "" {
		fmt.Printf("✓ Exported %d records to %s\n", len(records), exportFlags.output)
	}
	return nil
}
