// Package cmd hosts the cobra CLI: `serve` drives an engine against a
// synthetic workload and `inspect-config` validates a config file
// in-place.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vllm-core",
	Short: "Standalone request-engine core for LLM serving",
}

// Execute runs the CLI, exiting the process with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectConfigCmd)
}
