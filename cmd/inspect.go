package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var inspectConfigFile string

var inspectConfigCmd = &cobra.Command{
	Use:   "inspect-config",
	Short: "Load a scheduler/cache/model config file, validate it, and print the resolved values",
	Run: func(cmd *cobra.Command, args []string) {
		if inspectConfigFile == "" {
			logrus.Fatal("inspect-config: --config is required")
		}
		cfg, err := loadEngineConfig(inspectConfigFile)
		if err != nil {
			logrus.Fatalf("inspect-config: %v", err)
		}
		if cfg.Scheduler.MaxNumBatchedTokens <= 0 {
			logrus.Fatalf("inspect-config: scheduler.max_num_batched_tokens must be positive, got %d", cfg.Scheduler.MaxNumBatchedTokens)
		}
		if cfg.Scheduler.MaxNumSeqs <= 0 {
			logrus.Fatalf("inspect-config: scheduler.max_num_seqs must be positive, got %d", cfg.Scheduler.MaxNumSeqs)
		}
		if cfg.Cache.BlockSize <= 0 {
			logrus.Fatalf("inspect-config: cache.block_size must be positive, got %d", cfg.Cache.BlockSize)
		}
		switch cfg.Scheduler.PreemptionMode {
		case "auto", "recompute", "swap":
		default:
			logrus.Fatalf("inspect-config: scheduler.preemption_mode must be one of auto/recompute/swap, got %q", cfg.Scheduler.PreemptionMode)
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			logrus.Fatalf("inspect-config: re-marshal: %v", err)
		}
		fmt.Print(string(out))
	},
}

func init() {
	inspectConfigCmd.Flags().StringVar(&inspectConfigFile, "config", "", "path to a scheduler/cache/model YAML config file")
}
