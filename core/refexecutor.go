package core

import (
	"errors"
	"fmt"

	"github.com/megha95/vllm/core/latency"
)

// ReferenceExecutor is a deterministic in-process ModelExecutor: it
// does not run a neural network (out of scope per spec.md §1) but
// produces a reproducible sampled token per live sequence, so
// core.Engine is exercisable and testable end-to-end without a real
// model, the same role the teacher's discrete-event simulator plays
// for a whole cluster rather than one engine's step loop.
type ReferenceExecutor struct {
	deviceBlocks int
	hostBlocks   int

	eos       int
	vocabSize int

	estimator *latency.StepTimeEstimator
	loras     map[int64]*LoRARequest
}

// NewReferenceExecutor constructs an executor that reports deviceBlocks
// device blocks and hostBlocks host blocks available and samples tokens
// deterministically from [0, vocabSize). eosTokenID is stored but not
// used by Execute; stopping is left to the StopChecker.
func NewReferenceExecutor(deviceBlocks, hostBlocks, vocabSize, eosTokenID int) *ReferenceExecutor {
	return &ReferenceExecutor{
		deviceBlocks: deviceBlocks,
		hostBlocks:   hostBlocks,
		eos:          eosTokenID,
		vocabSize:    vocabSize,
		estimator:    latency.NewStepTimeEstimator(50, 0.1, 20),
		loras:        make(map[int64]*LoRARequest),
	}
}

func (e *ReferenceExecutor) DetermineNumAvailableBlocks() (int, int, error) {
	return e.deviceBlocks, e.hostBlocks, nil
}

func (e *ReferenceExecutor) InitializeCache(deviceBlocks, hostBlocks int) error {
	e.deviceBlocks = deviceBlocks
	e.hostBlocks = hostBlocks
	return nil
}

// Execute deterministically samples one token per live sequence for
// each of req.NumSteps passes (1 when not running multi-step). The
// token is `(seqID + ComputedTokens + step + last sampled token, if any)
// % vocabSize`, reproducible across runs for the same request stream.
func (e *ReferenceExecutor) Execute(req ExecuteRequest) ([]SamplerOutput, error) {
	steps := req.NumSteps
	if steps < 1 {
		steps = 1
	}

	cacheMiss, decodeTokens := 0, 0
	for _, md := range req.SeqGroupMetadata {
		for _, sd := range md.SeqData {
			if md.IsPrefill {
				cacheMiss += len(sd.TokenIDs)
			} else {
				decodeTokens += len(sd.TokenIDs)
			}
		}
	}
	predictedMicros := e.estimator.Predict(cacheMiss, decodeTokens)

	outputs := make([]SamplerOutput, 0, steps)
	last := req.LastSampledTokenIDs
	for step := 0; step < steps; step++ {
		out := SamplerOutput{PromptLogprobs: map[RequestID][]Logprob{}, PredictedStepMicros: predictedMicros}
		next := make(map[SeqID]int, len(last))
		for _, md := range req.SeqGroupMetadata {
			for seqID, sd := range md.SeqData {
				seed := int(seqID) + sd.ComputedTokens + step
				if prev, ok := last[seqID]; ok {
					seed += prev
				}
				token := seed % e.vocabSize
				out.Samples = append(out.Samples, SampledToken{
					SeqID:   seqID,
					Token:   token,
					Logprob: Logprob{Token: token, Logprob: -0.1},
				})
				next[seqID] = token
			}

			if md.IsPrefill && md.Sampling.PromptLogprobs > 0 {
				lp := make([]Logprob, 0, md.Sampling.PromptLogprobs)
				for i := 0; i < md.Sampling.PromptLogprobs; i++ {
					lp = append(lp, Logprob{Token: i, Logprob: -1.0})
				}
				out.PromptLogprobs[md.RequestID] = lp
			}
		}
		outputs = append(outputs, out)
		last = next
	}
	return outputs, nil
}

func (e *ReferenceExecutor) StopRemoteWorkerExecutionLoop() error { return nil }

func (e *ReferenceExecutor) AddLoRA(lora *LoRARequest) error {
	e.loras[lora.ID] = lora
	return nil
}

func (e *ReferenceExecutor) RemoveLoRA(id int64) error {
	if _, ok := e.loras[id]; !ok {
		return fmt.Errorf("lora %d not loaded", id)
	}
	delete(e.loras, id)
	return nil
}

func (e *ReferenceExecutor) ListLoRAs() []*LoRARequest {
	out := make([]*LoRARequest, 0, len(e.loras))
	for _, l := range e.loras {
		out = append(out, l)
	}
	return out
}

func (e *ReferenceExecutor) Ping() error { return nil }

// ErrorInjectingExecutor wraps a ModelExecutor and fails Execute on
// demand, exercising the ExecutorError rollback path of spec.md §7:
// "engine state for that step is rolled back".
type ErrorInjectingExecutor struct {
	ModelExecutor
	FailNext bool
}

func (e *ErrorInjectingExecutor) Execute(req ExecuteRequest) ([]SamplerOutput, error) {
	if e.FailNext {
		e.FailNext = false
		return nil, errors.New("injected executor failure")
	}
	return e.ModelExecutor.Execute(req)
}
