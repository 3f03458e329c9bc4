package core

import "strings"

// StopReason is the outcome of a StopChecker.Check call.
type StopReason int

const (
	StopContinue StopReason = iota
	StopEOS
	StopString
	StopMaxTokens
	StopContextLength
)

// StopChecker decides, after one new token is appended to a sequence,
// whether that sequence should stop (spec.md §1, §4.4). Implementations
// are expected to detokenize incrementally; the core passes the
// already-detokenized tail so that stop strings spanning multiple
// tokens can be matched.
type StopChecker interface {
	Check(seq *Sequence, newToken int, detokenizedTail string, params SamplingParams, maxModelLen int) (StopReason, string)
}

// DefaultStopChecker implements the stop rules spec.md §4.4 names: EOS
// (unless ignored), any configured stop string or stop token id, the
// sequence's own max_tokens budget, and the model's context length.
type DefaultStopChecker struct {
	EOSTokenID int
}

// Check applies the rules in the order vLLM's Sequence.stop checks
// them: length caps first (cheapest), then EOS, then stop strings,
// since a caller who set ignore_eos still wants their stop strings
// honored even past the natural EOS point.
func (c DefaultStopChecker) Check(seq *Sequence, newToken int, detokenizedTail string, params SamplingParams, maxModelLen int) (StopReason, string) {
	if params.MaxTokens > 0 && len(seq.OutputTokenIDs) >= params.MaxTokens {
		return StopMaxTokens, "max_tokens"
	}
	if seq.TotalTokens() >= maxModelLen {
		return StopContextLength, "context_length"
	}
	for _, tid := range params.StopTokenIDs {
		if tid == newToken {
			return StopString, "stop_token_id"
		}
	}
	if !params.IgnoreEOS && newToken == c.EOSTokenID {
		return StopEOS, "eos"
	}
	for _, stopStr := range params.StopStrings {
		if stopStr != "" && strings.Contains(detokenizedTail, stopStr) {
			return StopString, stopStr
		}
	}
	return StopContinue, ""
}
