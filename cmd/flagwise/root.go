package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "flagwise",
	Short: "FlagWise - security monitoring for LLM chatbot traffic",
	Long: `FlagWise is a security monitoring engine for LLM chatbot traffic.

It scores prompt/response pairs against configurable detection rules,
aggregates scored traffic into per-actor sessions, and raises alerts on
threshold breaches and rule matches:
  - Ordered detection rules (keyword, regex, model restriction, custom scoring)
  - Per-actor session aggregation with anomaly tagging
  - Threshold and detection-rule alerting with cool-down dedup
  - SQLite persistence with retention pruning and CSV/JSON export`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
