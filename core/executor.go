package core

// SeqData is the per-sequence metadata the engine hands the executor:
// which tokens to feed, and where in the KV cache to write them.
type SeqData struct {
	SeqID          SeqID
	TokenIDs       []int // the chunk of new tokens to compute this step
	BlockTable     []BlockID
	ComputedTokens int // tokens already resident before this chunk
}

// SeqGroupMetadata bundles one group's per-sequence metadata plus the
// sampling parameters the executor's sampler needs.
type SeqGroupMetadata struct {
	RequestID RequestID
	IsPrefill bool
	SeqData   map[SeqID]SeqData
	Sampling  SamplingParams
	LoRA      *LoRARequest
}

// ExecuteRequest is the payload submitted to ModelExecutor.Execute,
// matching spec.md §4.5 / §6 exactly: per-sequence metadata, the three
// block-movement maps, and (for pipeline-parallel stages beyond the
// first) the previous stage's sampled token ids.
type ExecuteRequest struct {
	SeqGroupMetadata []SeqGroupMetadata

	BlocksToSwapIn  map[BlockID]BlockID
	BlocksToSwapOut map[BlockID]BlockID
	BlocksToCopy    []CowEvent

	NumLookaheadSlots int
	NumSteps          int

	// LastSampledTokenIDs lets a downstream pipeline stage build its next
	// input without a broadcast from stage 0 (spec.md §4.5).
	LastSampledTokenIDs map[SeqID]int
}

// SampledToken is one child sequence's sampled output for one step.
type SampledToken struct {
	SeqID   SeqID
	Token   int
	Logprob Logprob
}

// SamplerOutput is one forward pass's worth of sampled tokens across
// every scheduled sequence, plus optional prompt-logprobs for groups
// that requested them this step.
type SamplerOutput struct {
	Samples        []SampledToken
	PromptLogprobs map[RequestID][]Logprob

	// PredictedStepMicros is the executor's own estimate of how long this
	// step took, in microseconds, when it has one; zero if unavailable.
	PredictedStepMicros int64
}

// ModelExecutor is the opaque neural-network boundary (spec.md §1):
// the core never interprets what runs inside Execute, only its typed
// inputs and outputs.
type ModelExecutor interface {
	DetermineNumAvailableBlocks() (deviceBlocks, hostBlocks int, err error)
	InitializeCache(deviceBlocks, hostBlocks int) error

	// Execute runs one or more forward passes (len(result) == 1 for
	// single-step, == req.NumSteps for multi-step) and returns the
	// sampled tokens from each.
	Execute(req ExecuteRequest) ([]SamplerOutput, error)

	StopRemoteWorkerExecutionLoop() error

	AddLoRA(lora *LoRARequest) error
	RemoveLoRA(id int64) error
	ListLoRAs() []*LoRARequest

	// Ping reports whether the executor is reachable and healthy.
	Ping() error
}
