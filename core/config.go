package core

// SchedulerConfig is the scheduler's tunable surface, matching
// spec.md §6's config surface and the teacher's YAML-driven config
// style (cmd/default_config.go, cmd/hfconfig.go: plain structs with
// yaml tags and a constructor applying defaults).
type SchedulerConfig struct {
	MaxNumBatchedTokens   int  `yaml:"max_num_batched_tokens"`
	MaxNumSeqs            int  `yaml:"max_num_seqs"`
	MaxModelLen           int  `yaml:"max_model_len"`
	EnableChunkedPrefill  bool `yaml:"enable_chunked_prefill"`
	NumSchedulerSteps     int  `yaml:"num_scheduler_steps"`
	UseAsyncOutputProc    bool `yaml:"use_async_output_proc"`
	PreemptionMode        string `yaml:"preemption_mode"` // "auto", "recompute", "swap"
	RecomputePreemptionThresholdTokens int `yaml:"recompute_preemption_threshold_tokens"`
}

// DefaultSchedulerConfig matches vLLM's out-of-the-box defaults: no
// chunked prefill, single-step decode, async output processing on.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxNumBatchedTokens:                2048,
		MaxNumSeqs:                         256,
		MaxModelLen:                        2048,
		EnableChunkedPrefill:               false,
		NumSchedulerSteps:                  1,
		UseAsyncOutputProc:                 true,
		PreemptionMode:                     "auto",
		RecomputePreemptionThresholdTokens: 64,
	}
}

// CacheConfig is the BlockManager's tunable surface.
type CacheConfig struct {
	BlockSize              int  `yaml:"block_size"`
	NumGPUBlocksOverride   int  `yaml:"num_gpu_blocks_override"`
	NumHostBlocks          int  `yaml:"num_host_blocks"`
	EnablePrefixCaching    bool `yaml:"enable_prefix_caching"`
	UseV2BlockManager      bool `yaml:"use_v2_block_manager"`
}

// DefaultCacheConfig mirrors vLLM's common single-GPU defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BlockSize:           16,
		NumGPUBlocksOverride: 0,
		NumHostBlocks:        0,
		EnablePrefixCaching:  false,
		UseV2BlockManager:    true,
	}
}

// ModelConfig carries the model-level facts the scheduler and executor
// both consult. It is deliberately narrow: the neural architecture
// itself is out of scope (spec.md §1 Non-goals).
type ModelConfig struct {
	Name             string `yaml:"name"`
	MaxModelLen      int    `yaml:"max_model_len"`
	IsEncoderDecoder bool   `yaml:"is_encoder_decoder"`
}

// EngineConfig bundles the three config surfaces plus pipeline-parallel
// fan-out, the unit cmd/ loads from YAML and the unit MultiEngine
// takes to build its virtual engines.
type EngineConfig struct {
	Scheduler           SchedulerConfig `yaml:"scheduler"`
	Cache               CacheConfig     `yaml:"cache"`
	Model               ModelConfig     `yaml:"model"`
	PipelineParallelSize int            `yaml:"pipeline_parallel_size"`
	MaxLogprobs         int             `yaml:"max_logprobs"`
}

// DefaultEngineConfig returns a single-virtual-engine configuration
// with vLLM's common defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Scheduler:            DefaultSchedulerConfig(),
		Cache:                DefaultCacheConfig(),
		Model:                ModelConfig{Name: "reference", MaxModelLen: 2048},
		PipelineParallelSize: 1,
		MaxLogprobs:          20,
	}
}
