package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/megha95/vllm/core"
)

// loadEngineConfig reads and strictly parses a YAML config file into a
// core.EngineConfig, starting from the engine defaults and overlaying
// whatever sections the file sets. Unknown fields are a hard error
// (the teacher's `cmd/default_config.go` strict-decode convention:
// "typos must cause errors").
func loadEngineConfig(path string) (core.EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.EngineConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := core.DefaultEngineConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return core.EngineConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.PipelineParallelSize < 1 {
		cfg.PipelineParallelSize = 1
	}
	if cfg.Model.MaxModelLen == 0 {
		cfg.Model.MaxModelLen = cfg.Scheduler.MaxModelLen
	}
	return cfg, nil
}
