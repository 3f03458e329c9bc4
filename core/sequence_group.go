package core

// SequenceGroupMetrics tracks per-request timing used for TTFT/latency
// reporting.
type SequenceGroupMetrics struct {
	ArrivalTime     float64
	FirstTokenTime  *float64
	FirstScheduled  *float64
	TimeInQueue     float64
}

// SequenceGroup is a request and all of its currently live child
// sequences. best_of==1 (plain sampling) keeps exactly one child for its
// whole life; beam search / n-sampling keep up to BestOf children, which
// share the prompt's blocks via copy-on-write until they diverge.
type SequenceGroup struct {
	RequestID RequestID
	Params    RequestParams

	// Seqs is keyed by SeqID so O(1) removal and fork bookkeeping do not
	// require scanning (spec.md §9's "avoid scanning" applies here too).
	Seqs map[SeqID]*Sequence

	// EncoderSeq is set only for encoder-decoder models and is immutable
	// once created.
	EncoderSeq *Sequence

	Metrics SequenceGroupMetrics

	nextSeqID SeqID

	// numComputedTokens tracks chunked-prefill progress shared by all
	// children before they diverge (they share the same prompt prefix).
	numComputedTokens int

	// remainingSteps is the multi-step sub-step counter; 0 outside a
	// multi-step window.
	remainingSteps int
}

// NewSequenceGroup creates a group with one initial sequence over the
// given prompt, in the waiting state.
func NewSequenceGroup(requestID RequestID, params RequestParams, promptTokenIDs []int) *SequenceGroup {
	g := &SequenceGroup{
		RequestID: requestID,
		Params:    params,
		Seqs:      make(map[SeqID]*Sequence),
	}
	seq := NewSequence(g.allocSeqID(), requestID, promptTokenIDs)
	g.Seqs[seq.ID] = seq
	return g
}

func (g *SequenceGroup) allocSeqID() SeqID {
	id := g.nextSeqID
	g.nextSeqID++
	return id
}

// NumComputedTokens returns the group's shared prefill progress.
func (g *SequenceGroup) NumComputedTokens() int { return g.numComputedTokens }

// UpdateNumComputedTokens advances the group's prefill progress by
// chunkSize, as the scheduler schedules one chunk of the prompt.
// Invariant: num_computed_tokens <= total prompt tokens until the group
// leaves prefill, then tracks total tokens generated.
func (g *SequenceGroup) UpdateNumComputedTokens(chunkSize int) {
	g.numComputedTokens += chunkSize
	for _, s := range g.Seqs {
		if !s.Status.IsFinished() {
			s.NumComputedTokens = g.numComputedTokens
		}
	}
}

// IsPrefill reports whether any child sequence has not finished ingesting
// the prompt.
func (g *SequenceGroup) IsPrefill() bool {
	for _, s := range g.Seqs {
		if s.IsPrefill() {
			return true
		}
	}
	return false
}

// GetSeqs returns all child sequences, optionally filtered by status.
// A nil filter returns every sequence.
func (g *SequenceGroup) GetSeqs(filter func(SeqStatus) bool) []*Sequence {
	out := make([]*Sequence, 0, len(g.Seqs))
	for _, s := range g.Seqs {
		if filter == nil || filter(s.Status) {
			out = append(out, s)
		}
	}
	return out
}

// UnfinishedSeqs returns every child sequence not yet in a finished_*
// status.
func (g *SequenceGroup) UnfinishedSeqs() []*Sequence {
	return g.GetSeqs(func(s SeqStatus) bool { return !s.IsFinished() })
}

// IsFinished reports whether every child sequence is in a terminal
// status (spec.md §3: "finished when every child is in a terminal
// status or the request is aborted").
func (g *SequenceGroup) IsFinished() bool {
	if len(g.Seqs) == 0 {
		return true
	}
	for _, s := range g.Seqs {
		if !s.Status.IsFinished() {
			return false
		}
	}
	return true
}

// SetStatus transitions every non-finished child sequence to status.
// Used when the whole group moves queues together (admitted, preempted,
// resumed).
func (g *SequenceGroup) SetStatus(status SeqStatus) {
	for _, s := range g.Seqs {
		if !s.Status.IsFinished() {
			s.Status = status
		}
	}
}

// MaxTokensBudget returns the group's SamplingParams.MaxTokens, or 0 for
// pooling requests (which have no token budget).
func (g *SequenceGroup) MaxTokensBudget() int {
	if g.Params.Sampling == nil {
		return 0
	}
	return g.Params.Sampling.MaxTokens
}

// RemainingSteps reports the multi-step sub-step countdown cached by the
// engine across ticks; 0 means "call the scheduler again next tick".
func (g *SequenceGroup) RemainingSteps() int { return g.remainingSteps }

// SetRemainingSteps sets the multi-step sub-step countdown.
func (g *SequenceGroup) SetRemainingSteps(n int) { g.remainingSteps = n }

// FinishStep decrements the multi-step countdown by one, restoring
// normal per-tick scheduling accounting once it reaches zero.
func (g *SequenceGroup) FinishStep() {
	if g.remainingSteps > 0 {
		g.remainingSteps--
	}
}

// Fork creates a new child sequence sharing parent's token history and
// blocks (via BlockManager.Fork), used by beam search to materialize a
// surviving beam. The new sequence is appended to g.Seqs.
func (g *SequenceGroup) Fork(bm *BlockManager, parent *Sequence) *Sequence {
	child := &Sequence{
		ID:                g.allocSeqID(),
		GroupID:           g.RequestID,
		PromptTokenIDs:     append([]int(nil), parent.PromptTokenIDs...),
		OutputTokenIDs:     append([]int(nil), parent.OutputTokenIDs...),
		BlockTable:         NewBlockTable(),
		Status:             parent.Status,
		CumulativeLogprob:  parent.CumulativeLogprob,
		OutputLogprobs:     append([]Logprob(nil), parent.OutputLogprobs...),
		NumComputedTokens:  parent.NumComputedTokens,
		LoRA:               parent.LoRA,
		PromptAdapter:      parent.PromptAdapter,
	}
	bm.Fork(parent, child)
	g.Seqs[child.ID] = child
	return child
}

// Free removes seq from the group and returns its blocks to bm. Used by
// the OutputProcessor when a beam is evicted, or when a sequence
// finishes and the whole group has finished.
func (g *SequenceGroup) Free(bm *BlockManager, seq *Sequence) {
	bm.Free(seq)
	delete(g.Seqs, seq.ID)
}
