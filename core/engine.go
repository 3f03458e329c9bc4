package core

import (
	"errors"
	"fmt"

	"github.com/megha95/vllm/core/trace"
)

// pendingOutput is one tick's sampler output awaiting post-processing,
// queued so it can be drained on a later tick (async post-processing)
// or immediately (synchronous path).
type pendingOutput struct {
	decision        *ScheduleDecision
	output          SamplerOutput
	alreadyAppended bool
}

// Engine orchestrates one iteration of schedule -> execute -> post-
// process (spec.md §4.5), grounded on sim/simulator.go's event loop
// (Run/Step) but driven by a real ModelExecutor instead of a hand-coded
// latency model, and on `_examples/original_source/vllm/engine/
// llm_engine.py`'s `step()` for the exact ordering between scheduling,
// execution, multi-step bookkeeping, and async draining.
type Engine struct {
	cfg EngineConfig

	bm         *BlockManager
	scheduler  *Scheduler
	outputProc *OutputProcessor
	executor   ModelExecutor
	tokenizer  Tokenizer

	active  map[RequestID]struct{}
	pending []pendingOutput

	cachedDecision  *ScheduleDecision
	cachedRemaining int
	lastSampled     map[SeqID]int

	Stats *Stats
}

// NewEngine wires an Engine over the given collaborators: it queries
// the executor for available KV-cache capacity, builds the BlockManager
// and Scheduler over it, and initializes the executor's cache.
func NewEngine(cfg EngineConfig, executor ModelExecutor, tokenizer Tokenizer, stopChecker StopChecker, victim PreemptionPolicy) (*Engine, error) {
	deviceBlocks, hostBlocks, err := executor.DetermineNumAvailableBlocks()
	if err != nil {
		return nil, fmt.Errorf("engine: determine available blocks: %w", err)
	}
	if cfg.Cache.NumGPUBlocksOverride > 0 {
		deviceBlocks = cfg.Cache.NumGPUBlocksOverride
	}
	if cfg.Cache.NumHostBlocks > 0 {
		hostBlocks = cfg.Cache.NumHostBlocks
	}
	if err := executor.InitializeCache(deviceBlocks, hostBlocks); err != nil {
		return nil, fmt.Errorf("engine: initialize cache: %w", err)
	}

	bm := NewBlockManager(deviceBlocks, hostBlocks, cfg.Cache.BlockSize, cfg.Cache.EnablePrefixCaching)
	scheduler := NewScheduler(cfg.Scheduler, cfg.Model.MaxModelLen, bm, victim)
	outputProc := NewOutputProcessor(bm, tokenizer, stopChecker, cfg.Model.MaxModelLen)

	return &Engine{
		cfg:        cfg,
		bm:         bm,
		scheduler:  scheduler,
		outputProc: outputProc,
		executor:   executor,
		tokenizer:  tokenizer,
		active:     make(map[RequestID]struct{}),
	}, nil
}

// AddRequest admits a new request (spec.md §6). It is idempotent per
// id: a still-in-flight id returns DuplicateRequestError. Validation
// failures (empty prompt, prompt over max_model_len, logprobs depth
// over limit, best_of < n) return ValidationError and the request is
// not admitted.
func (e *Engine) AddRequest(id RequestID, inputs PromptInputs, params RequestParams) error {
	if _, ok := e.active[id]; ok {
		return &DuplicateRequestError{RequestID: id}
	}
	if e.cfg.Model.IsEncoderDecoder && inputs.Kind != PromptEncoderDecoder {
		return &ValidationError{RequestID: id, Reason: "encoder-decoder model requires an encoder-decoder prompt"}
	}
	if !e.cfg.Model.IsEncoderDecoder && inputs.Kind == PromptEncoderDecoder {
		return &ValidationError{RequestID: id, Reason: "decoder-only model cannot accept an encoder-decoder prompt"}
	}
	if len(inputs.PromptTokenIDs) == 0 {
		return &ValidationError{RequestID: id, Reason: "empty prompt"}
	}
	if len(inputs.PromptTokenIDs) > e.cfg.Model.MaxModelLen {
		return &ValidationError{RequestID: id, Reason: "prompt exceeds max_model_len"}
	}
	if params.Sampling != nil {
		if err := params.Sampling.Validate(e.cfg.MaxLogprobs); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.RequestID = id
			}
			return err
		}
	}

	group := NewSequenceGroup(id, params, inputs.PromptTokenIDs)
	if inputs.Kind == PromptEncoderDecoder {
		group.EncoderSeq = NewSequence(group.allocSeqID(), id, inputs.EncoderTokenIDs)
	}
	group.Metrics.ArrivalTime = float64(e.scheduler.CurrentTick())
	e.active[id] = struct{}{}
	e.scheduler.AddSeqGroup(group)
	return nil
}

// AbortRequest removes request id wherever it currently lives. Unknown
// or already-finished ids are silently ignored (spec.md §6).
func (e *Engine) AbortRequest(id RequestID) {
	e.scheduler.Abort(id)
	delete(e.active, id)
}

// SetTrace attaches a decision trace to the engine's scheduler; pass nil
// to disable (the default).
func (e *Engine) SetTrace(tr *trace.Trace) { e.scheduler.SetTrace(tr) }

// HasUnfinishedRequests reports whether any group is waiting, running,
// or swapped.
func (e *Engine) HasUnfinishedRequests() bool { return e.scheduler.HasUnfinishedSeqGroups() }

// NumUnfinishedRequests returns the total count across all queues.
func (e *Engine) NumUnfinishedRequests() int { return e.scheduler.NumUnfinishedSeqGroups() }

// CheckHealth pings the tokenizer and executor (spec.md §6); callers
// are expected to terminate the engine on a non-nil return.
func (e *Engine) CheckHealth() error {
	if e.tokenizer != nil {
		if err := e.tokenizer.Ping(); err != nil {
			return &HealthCheckError{Component: "tokenizer", Err: err}
		}
	}
	if err := e.executor.Ping(); err != nil {
		return &HealthCheckError{Component: "executor", Err: err}
	}
	return nil
}

// Step runs one iteration and returns the RequestOutputs produced since
// the last tick (spec.md §4.5, §6).
func (e *Engine) Step() ([]*RequestOutput, error) {
	var results []*RequestOutput

	reuseCached := e.cachedDecision != nil && e.cachedRemaining > 0
	var decision *ScheduleDecision
	if reuseCached {
		decision = e.cachedDecision
	} else {
		// Drain whatever the previous tick left pending before scheduling
		// anew: a tick's async output is allowed to overlap with exactly
		// one subsequent tick's execute call, never more (spec.md §5:
		// "delivered no later than the engine's return from the tick that
		// submitted step k+1").
		results = append(results, e.drainPending()...)

		decision = e.scheduler.Schedule()
		for _, g := range decision.IgnoredGroups {
			delete(e.active, g.RequestID)
		}
		if e.cfg.Scheduler.NumSchedulerSteps > 1 {
			e.cachedRemaining = e.cfg.Scheduler.NumSchedulerSteps
			for _, sg := range decision.ScheduledGroups {
				sg.Group.SetRemainingSteps(e.cachedRemaining)
			}
		}
		e.cachedDecision = decision
	}

	req := e.buildExecuteRequest(decision)
	outputs, err := e.executor.Execute(req)
	if err != nil {
		return nil, &ExecutorError{Err: err}
	}
	so := outputs[0]
	e.lastSampled = extractLastSampled(so)

	if e.cfg.Scheduler.NumSchedulerSteps > 1 {
		for _, sg := range decision.ScheduledGroups {
			sg.Group.FinishStep()
		}
		e.cachedRemaining--
		if e.cachedRemaining > 0 {
			return results, nil
		}
	}
	e.cachedDecision = nil

	e.pending = append(e.pending, pendingOutput{
		decision: decision, output: so, alreadyAppended: decision.AllowAsyncOutputProc,
	})

	if decision.AllowAsyncOutputProc {
		e.advanceToNextStep(decision, so)
	} else {
		results = append(results, e.drainPending()...)
	}

	if !e.scheduler.HasUnfinishedSeqGroups() {
		results = append(results, e.drainPending()...)
	}

	for _, ro := range results {
		if ro.Finished {
			delete(e.active, ro.RequestID)
		}
	}
	if e.Stats != nil {
		e.Stats.RecordStepLatency(so.PredictedStepMicros)
		e.Stats.RecordTick(decision, results, e.bm.NumFreeDeviceBlocks(), e.bm.NumTotalDeviceBlocks())
	}
	return results, nil
}

// advanceToNextStep pre-appends this tick's sampled tokens so the next
// forward pass can be built immediately, without waiting for the
// OutputProcessor (spec.md §4.5 step 6). It must not run stop-checks or
// free anything — that is the deferred OutputProcessor's job when the
// entry is later drained.
func (e *Engine) advanceToNextStep(decision *ScheduleDecision, so SamplerOutput) {
	for _, sg := range decision.ScheduledGroups {
		for _, sample := range so.Samples {
			seq, ok := sg.Group.Seqs[sample.SeqID]
			if !ok || seq.Status.IsFinished() {
				continue
			}
			seq.AppendTokenID(sample.Token, sample.Logprob)
		}
	}
}

// drainPending runs every queued sampler output through the
// OutputProcessor and clears the queue.
func (e *Engine) drainPending() []*RequestOutput {
	if len(e.pending) == 0 {
		return nil
	}
	var results []*RequestOutput
	for _, entry := range e.pending {
		e.outputProc.SetTick(entry.decision.Tick)
		for _, sg := range entry.decision.ScheduledGroups {
			samples := samplesForGroup(entry.output, sg.Group)
			if len(samples) == 0 {
				continue
			}
			promptLP := entry.output.PromptLogprobs[sg.Group.RequestID]
			if ro := e.outputProc.Process(sg.Group, samples, promptLP, entry.alreadyAppended); ro != nil {
				results = append(results, ro)
			}
		}
	}
	e.pending = nil
	return results
}

func samplesForGroup(so SamplerOutput, group *SequenceGroup) []SampledToken {
	var out []SampledToken
	for _, s := range so.Samples {
		if _, ok := group.Seqs[s.SeqID]; ok {
			out = append(out, s)
		}
	}
	return out
}

func extractLastSampled(so SamplerOutput) map[SeqID]int {
	m := make(map[SeqID]int, len(so.Samples))
	for _, s := range so.Samples {
		m[s.SeqID] = s.Token
	}
	return m
}

func (e *Engine) buildExecuteRequest(decision *ScheduleDecision) ExecuteRequest {
	req := ExecuteRequest{
		BlocksToSwapIn:      decision.BlocksToSwapIn,
		BlocksToSwapOut:     decision.BlocksToSwapOut,
		BlocksToCopy:        decision.BlocksToCopy,
		NumSteps:            1,
		LastSampledTokenIDs: e.lastSampled,
	}
	for _, sg := range decision.ScheduledGroups {
		md := SeqGroupMetadata{
			RequestID: sg.Group.RequestID,
			IsPrefill: sg.IsPrefillChunk,
			SeqData:   make(map[SeqID]SeqData),
			Sampling:  samplingOrDefault(sg.Group),
			LoRA:      firstLoRA(sg.Group),
		}
		for _, seq := range sg.Group.GetSeqs(func(st SeqStatus) bool { return st == SeqRunning }) {
			md.SeqData[seq.ID] = SeqData{
				SeqID:          seq.ID,
				TokenIDs:       newTokensFor(seq, sg),
				BlockTable:     append([]BlockID(nil), seq.BlockTable.Blocks...),
				ComputedTokens: seq.NumComputedTokens,
			}
		}
		req.SeqGroupMetadata = append(req.SeqGroupMetadata, md)
	}
	return req
}

func newTokensFor(seq *Sequence, sg ScheduledSeqGroup) []int {
	if sg.IsPrefillChunk {
		end := seq.NumComputedTokens
		start := end - sg.TokenChunkSize
		if start < 0 {
			start = 0
		}
		if end > len(seq.PromptTokenIDs) {
			end = len(seq.PromptTokenIDs)
		}
		return append([]int(nil), seq.PromptTokenIDs[start:end]...)
	}
	return []int{seq.LastTokenID()}
}

func samplingOrDefault(group *SequenceGroup) SamplingParams {
	if group.Params.Sampling != nil {
		return *group.Params.Sampling
	}
	return DefaultSamplingParams()
}

func firstLoRA(group *SequenceGroup) *LoRARequest {
	for _, s := range group.GetSeqs(nil) {
		if s.LoRA != nil {
			return s.LoRA
		}
	}
	return nil
}
