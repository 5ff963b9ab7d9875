package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Register all sample stream outputs.
	_ "seabench/benchmark-engine/pkg/output/all"
	"seabench/benchmark-engine/pkg/version"
)

// Banner is the ASCII art shown with the version.
const Banner = `
      ____  ___ _  _ ____ _  _    Benchmark Engine %s
      |__\  |__ |\ | |    |__|
      |__/  |__ | \| |___ |  |
`

var (
	cfgFile string
	debug   bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "benchmark-engine",
	Short: "Macrobenchmark orchestration engine for search and database clusters",
	Long: `benchmark-engine drives configurable load against a target cluster,
measures latency and throughput per operation, and reports reproducible
performance metrics. It runs standalone or as a coordinator with a fleet
of remote load-generation workers.`,
	Version: version.Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, version.Version) + "\n")
}
