package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flagwise/flagwise/pkg/cli"
	"github.com/flagwise/flagwise/pkg/config"
)

var statsFlags struct {
	format string
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics for stored requests",
	Long: `Show aggregate statistics over the stored request stream: totals,
flagged rate, average risk score, and the top providers, models, and
flagged source IPs.

Examples:
  # Plain text summary
  flagwise stats

  # JSON output
  flagwise stats --format json`,
	RunE: showStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVar(&statsFlags.format, "format", "text", "output format: text, json")
}

func showStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	store, err := buildStore(cfg)
	if err != nil {
		return cli.NewCommandError("stats", err)
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		return cli.NewCommandError("stats", err)
	}

	if statsFlags.format == "json" {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, stats)
	}

	fmt.Printf("Total requests:   %d\n", stats.TotalRequests)
	fmt.Printf("Flagged requests: %d (%.1f%%)\n", stats.FlaggedRequests, stats.FlaggedRate*100)
	fmt.Printf("Avg risk score:   %.1f\n", stats.AvgRiskScore)
	if len(stats.TopProviders) > 0 {
		fmt.Println("Top providers:")
		for _, p := range stats.TopProviders {
			fmt.Printf("  %-20s %d\n", p.Name, p.Count)
		}
	}
	if len(stats.TopModels) > 0 {
		fmt.Println("Top models:")
		for _, m := range stats.TopModels {
			fmt.Printf("  %-20s %d\n", m.Name, m.Count)
		}
	}
	if len(stats.TopRiskIPs) > 0 {
		fmt.Println("Top flagged source IPs:")
		for _, ip := range stats.TopRiskIPs {
			fmt.Printf("  %-20s %d\n", ip.Name, ip.Count)
		}
	}
	return nil
}
