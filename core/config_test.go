package core

import "testing"

func TestDefaultSchedulerConfig_NoChunkedPrefillSingleStepAsyncOn(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	if cfg.EnableChunkedPrefill {
		t.Error("expected chunked prefill disabled by default")
	}
	if cfg.NumSchedulerSteps != 1 {
		t.Errorf("expected single-step decode by default, got %d", cfg.NumSchedulerSteps)
	}
	if !cfg.UseAsyncOutputProc {
		t.Error("expected async output processing enabled by default")
	}
	if cfg.PreemptionMode != "auto" {
		t.Errorf("expected preemption_mode=auto by default, got %q", cfg.PreemptionMode)
	}
	if cfg.MaxNumBatchedTokens <= 0 || cfg.MaxNumSeqs <= 0 {
		t.Error("expected positive default batch/seq budgets")
	}
}

func TestDefaultCacheConfig_NoOverridesNoPrefixCaching(t *testing.T) {
	cfg := DefaultCacheConfig()
	if cfg.NumGPUBlocksOverride != 0 || cfg.NumHostBlocks != 0 {
		t.Error("expected zero-value overrides by default (trust the executor's reported capacity)")
	}
	if cfg.EnablePrefixCaching {
		t.Error("expected prefix caching disabled by default")
	}
	if cfg.BlockSize <= 0 {
		t.Error("expected a positive default block size")
	}
}

func TestDefaultEngineConfig_SingleVirtualEngine(t *testing.T) {
	cfg := DefaultEngineConfig()
	if cfg.PipelineParallelSize != 1 {
		t.Errorf("expected pipeline_parallel_size=1 by default, got %d", cfg.PipelineParallelSize)
	}
	if cfg.Scheduler.MaxModelLen != cfg.Model.MaxModelLen {
		t.Errorf("expected scheduler and model max_model_len to agree by default, got %d vs %d",
			cfg.Scheduler.MaxModelLen, cfg.Model.MaxModelLen)
	}
}
