package core

import "math"

// SequenceOutput is one child sequence's user-visible state as of the
// current tick.
type SequenceOutput struct {
	SeqID             SeqID
	Text              string
	TokenIDs          []int
	CumulativeLogprob float64
	Logprobs          []Logprob
	Finished          bool
	FinishReason      FinishReason
}

// RequestOutput is what the engine hands back to the caller for one
// group on one tick (spec.md §6: `step() -> [RequestOutput]`).
type RequestOutput struct {
	RequestID      RequestID
	Outputs        []SequenceOutput
	Finished       bool
	PromptLogprobs []Logprob

	// TTFT is FirstTokenTime - ArrivalTime in ticks, set once the group's
	// first token has been produced; nil until then.
	TTFT *float64
}

// OutputProcessor turns sampler output into sequence-state mutation and
// user-visible RequestOutputs (spec.md §4.4), grounded on the
// completion/stop handling in sim/simulator.go's Step.
type OutputProcessor struct {
	bm          *BlockManager
	tokenizer   Tokenizer
	stopChecker StopChecker
	maxModelLen int

	// currentTick is the tick of the decision currently being drained,
	// set by the engine via SetTick before each pending entry is
	// processed; it timestamps SequenceGroupMetrics.FirstTokenTime.
	currentTick int64
}

// NewOutputProcessor constructs a processor over the given
// collaborators.
func NewOutputProcessor(bm *BlockManager, tokenizer Tokenizer, stopChecker StopChecker, maxModelLen int) *OutputProcessor {
	return &OutputProcessor{bm: bm, tokenizer: tokenizer, stopChecker: stopChecker, maxModelLen: maxModelLen}
}

// SetTick records which tick's samples are about to be processed.
func (op *OutputProcessor) SetTick(tick int64) { op.currentTick = tick }

// Process consumes one step's sampled tokens for group and returns its
// RequestOutput. When alreadyAppended is true (the async path: the
// engine's advanceToNextStep already called Sequence.AppendTokenID for
// these samples), Process only runs stop-checks, beam
// selection/finalization, and output emission — it must not append
// again (spec.md §4.4 "Asynchronous variant").
func (op *OutputProcessor) Process(group *SequenceGroup, samples []SampledToken, promptLogprobs []Logprob, alreadyAppended bool) *RequestOutput {
	if group.IsFinished() {
		// The group finished by some means other than this step's samples
		// (most commonly: aborted mid-flight). spec.md §4.3: "its outputs
		// are discarded by the OutputProcessor."
		return nil
	}

	if group.Metrics.FirstTokenTime == nil && len(samples) > 0 {
		t := float64(op.currentTick)
		group.Metrics.FirstTokenTime = &t
	}

	for _, sample := range samples {
		seq, ok := group.Seqs[sample.SeqID]
		if !ok || seq.Status.IsFinished() {
			continue
		}
		if !alreadyAppended {
			seq.AppendTokenID(sample.Token, sample.Logprob)
		}
		op.checkStop(group, seq, sample.Token)
	}

	if group.Params.Sampling != nil && group.Params.Sampling.IsBeamSearch() {
		op.runBeamStep(group)
	}

	if group.IsFinished() {
		op.trimToN(group)
	}

	return op.buildOutput(group, promptLogprobs)
}

func (op *OutputProcessor) checkStop(group *SequenceGroup, seq *Sequence, newToken int) {
	tail := ""
	if op.tokenizer != nil {
		if text, err := op.tokenizer.Decode(seq.OutputTokenIDs, seq.LoRA); err == nil {
			tail = text
		}
	}
	reason, _ := op.stopChecker.Check(seq, newToken, tail, *group.Params.Sampling, op.maxModelLen)
	switch reason {
	case StopEOS, StopString:
		seq.Finish(SeqFinishedStopped, FinishStop)
	case StopMaxTokens, StopContextLength:
		seq.Finish(SeqFinishedLengthCapped, FinishLength)
	}
}

// runBeamStep implements spec.md §4.4 item 3: one-time branching from a
// single parent up to best_of siblings (the first decode step after
// admission, mirroring boundary scenario 4's "after first decode
// selects 2 beams"), then every step thereafter re-ranks all live and
// newly finished children by cumulative logprob — length-penalized for
// finished children only — and prunes back down to best_of, freeing the
// pruned children's blocks via BlockManager. Blocks are forked only in
// the one-time branching step.
func (op *OutputProcessor) runBeamStep(group *SequenceGroup) {
	bestOf := group.Params.Sampling.BestOf
	current := group.GetSeqs(nil)

	if len(current) > 0 && len(current) < bestOf {
		parent := current[0]
		for len(group.Seqs) < bestOf {
			group.Fork(op.bm, parent)
		}
		current = group.GetSeqs(nil)
	}

	if len(current) <= bestOf {
		return
	}

	penalty := group.Params.Sampling.LengthPenalty
	if penalty == 0 {
		penalty = 1.0
	}
	score := func(s *Sequence) float64 {
		if s.Status.IsFinished() {
			return s.CumulativeLogprob / math.Pow(float64(len(s.OutputTokenIDs)), penalty)
		}
		return s.CumulativeLogprob
	}
	sortDescByScore(current, score)

	for _, s := range current[bestOf:] {
		group.Free(op.bm, s)
	}
}

// trimToN keeps only the top n (SamplingParams.N) finished children
// once the whole group has finished, freeing the rest.
func (op *OutputProcessor) trimToN(group *SequenceGroup) {
	if group.Params.Sampling == nil {
		return
	}
	n := group.Params.Sampling.N
	if n <= 0 {
		return
	}
	all := group.GetSeqs(nil)
	if len(all) <= n {
		return
	}
	penalty := group.Params.Sampling.LengthPenalty
	if penalty == 0 {
		penalty = 1.0
	}
	sortDescByScore(all, func(s *Sequence) float64 {
		return s.CumulativeLogprob / math.Pow(float64(len(s.OutputTokenIDs)), penalty)
	})
	for _, s := range all[n:] {
		group.Free(op.bm, s)
	}
}

func sortDescByScore(seqs []*Sequence, score func(*Sequence) float64) {
	for i := 1; i < len(seqs); i++ {
		for j := i; j > 0 && score(seqs[j]) > score(seqs[j-1]); j-- {
			seqs[j], seqs[j-1] = seqs[j-1], seqs[j]
		}
	}
}

func (op *OutputProcessor) buildOutput(group *SequenceGroup, promptLogprobs []Logprob) *RequestOutput {
	out := &RequestOutput{RequestID: group.RequestID, Finished: group.IsFinished(), PromptLogprobs: promptLogprobs}
	if group.Metrics.FirstTokenTime != nil {
		ttft := *group.Metrics.FirstTokenTime - group.Metrics.ArrivalTime
		out.TTFT = &ttft
	}
	for _, seq := range group.GetSeqs(nil) {
		text := ""
		if op.tokenizer != nil {
			if t, err := op.tokenizer.Decode(seq.OutputTokenIDs, seq.LoRA); err == nil {
				text = t
			}
		}
		out.Outputs = append(out.Outputs, SequenceOutput{
			SeqID:             seq.ID,
			Text:              text,
			TokenIDs:          append([]int(nil), seq.OutputTokenIDs...),
			CumulativeLogprob: seq.CumulativeLogprob,
			Logprobs:          seq.OutputLogprobs,
			Finished:          seq.Status.IsFinished(),
			FinishReason:      seq.FinishReason(),
		})
	}
	return out
}
