package main

import (
	"github.com/spf13/cobra"

	"seabench/benchmark-engine/cmd/coordinator"
	"seabench/benchmark-engine/cmd/run"
	"seabench/benchmark-engine/cmd/worker"
)

// The subcommands parse their own flag sets: flag parsing is disabled on
// the cobra wrappers so every argument passes through untouched.

var runCmd = &cobra.Command{
	Use:                "run [options] <workload.yaml>",
	Short:              "Run a benchmark standalone with an in-process worker fleet",
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run.Execute(args)
	},
}

var coordinatorCmd = &cobra.Command{
	Use:                "coordinator <subcommand> [options]",
	Short:              "Manage the coordinator daemon",
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return coordinator.Execute(args)
	},
}

var workerCmd = &cobra.Command{
	Use:                "worker <subcommand> [options]",
	Short:              "Manage load-generation worker daemons",
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return worker.Execute(args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(workerCmd)
}
