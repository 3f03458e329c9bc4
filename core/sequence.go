package core

// Logprob is one token's log-probability, optionally alongside the
// logprobs of its top-k alternatives at that position.
type Logprob struct {
	Token       int
	Logprob     float64
	Alternates  map[int]float64 // only populated when LogprobsDepth > 0
}

// Sequence is one linear token stream: a request's prompt plus whatever
// has been generated for it so far. Beam search / best-of-N sampling
// produce multiple live Sequences per SequenceGroup, forked from a
// common prefix.
//
// Invariant: len(BlockTable.Blocks) * blockSize >= len(AllTokenIDs()).
type Sequence struct {
	ID      SeqID
	GroupID RequestID

	PromptTokenIDs []int
	OutputTokenIDs []int

	BlockTable *BlockTable

	Status SeqStatus

	CumulativeLogprob float64
	OutputLogprobs    []Logprob

	// NumComputedTokens is how many tokens (of PromptTokenIDs followed by
	// OutputTokenIDs) have actually been run through the model. It only
	// grows, except that preemption by recompute resets it to 0, and it
	// equals len(PromptTokenIDs) exactly when the sequence leaves prefill.
	NumComputedTokens int

	LoRA           *LoRARequest
	PromptAdapter  *PromptAdapterRequest

	finishReason FinishReason
}

// NewSequence creates a sequence in the waiting state for the given
// prompt. The Sequence owns no blocks until BlockManager.Allocate
// fills its BlockTable.
func NewSequence(id SeqID, groupID RequestID, promptTokenIDs []int) *Sequence {
	return &Sequence{
		ID:             id,
		GroupID:        groupID,
		PromptTokenIDs: append([]int(nil), promptTokenIDs...),
		BlockTable:     NewBlockTable(),
		Status:         SeqWaiting,
	}
}

// TotalTokens returns the full length of the sequence's token stream
// (prompt + generated-so-far).
func (s *Sequence) TotalTokens() int {
	return len(s.PromptTokenIDs) + len(s.OutputTokenIDs)
}

// AllTokenIDs returns the concatenated prompt and output tokens. Callers
// must not mutate the returned slice.
func (s *Sequence) AllTokenIDs() []int {
	out := make([]int, 0, s.TotalTokens())
	out = append(out, s.PromptTokenIDs...)
	out = append(out, s.OutputTokenIDs...)
	return out
}

// IsPrefill reports whether the sequence has not yet computed its full
// prompt (spec.md §4.3: "equals total_tokens exactly when the sequence
// leaves prefill").
func (s *Sequence) IsPrefill() bool {
	return s.NumComputedTokens < len(s.PromptTokenIDs)
}

// AppendTokenID appends one sampled token and its logprob, advancing the
// output stream. It does not touch NumComputedTokens or block tables;
// those are owned by the scheduler/output-processor and BlockManager
// respectively.
func (s *Sequence) AppendTokenID(token int, logprob Logprob) {
	s.OutputTokenIDs = append(s.OutputTokenIDs, token)
	s.CumulativeLogprob += logprob.Logprob
	s.OutputLogprobs = append(s.OutputLogprobs, logprob)
}

// LastTokenID returns the most recently produced token: the last output
// token if any have been generated, else the last prompt token.
func (s *Sequence) LastTokenID() int {
	if len(s.OutputTokenIDs) > 0 {
		return s.OutputTokenIDs[len(s.OutputTokenIDs)-1]
	}
	if len(s.PromptTokenIDs) > 0 {
		return s.PromptTokenIDs[len(s.PromptTokenIDs)-1]
	}
	return -1
}

// Finish transitions the sequence to a terminal status. A finished
// sequence's status never changes again (spec.md invariant 6); calling
// Finish on an already-finished sequence is a no-op.
func (s *Sequence) Finish(status SeqStatus, reason FinishReason) {
	if s.Status.IsFinished() {
		return
	}
	s.Status = status
	s.finishReason = reason
}

// FinishReason returns why the sequence stopped, or FinishNone if it has
// not finished.
func (s *Sequence) FinishReason() FinishReason { return s.finishReason }
