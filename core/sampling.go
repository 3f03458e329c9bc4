package core

// SamplingParams controls how a SequenceGroup's child sequences are
// sampled. It covers both plain temperature sampling (N==1) and
// best-of-N / beam search (BestOf > 1).
type SamplingParams struct {
	N              int      // number of output sequences to return to the caller
	BestOf         int      // number of sequences generated internally (>= N); beam search needs >1 and UseBeamSearch
	UseBeamSearch  bool
	Temperature    float64
	TopP           float64
	TopK           int
	StopStrings    []string
	StopTokenIDs   []int
	IgnoreEOS      bool
	MaxTokens      int
	LogprobsDepth  int // 0 disables logprobs
	PromptLogprobs int // 0 disables prompt logprobs
	LengthPenalty  float64
}

// DefaultSamplingParams returns the single-sample defaults (temperature
// 1.0, top-p 1.0, 16 max tokens) used when a request carries no
// SamplingParams at all.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		N:             1,
		BestOf:        1,
		Temperature:   1.0,
		TopP:          1.0,
		MaxTokens:     16,
		LengthPenalty: 1.0,
	}
}

// Validate applies the ValidationError cases spec.md assigns to
// AddRequest that are about sampling parameters rather than the prompt.
func (p SamplingParams) Validate(maxLogprobs int) error {
	if p.BestOf < p.N {
		return &ValidationError{Reason: "best_of must be >= n"}
	}
	if p.LogprobsDepth > maxLogprobs {
		return &ValidationError{Reason: "logprobs depth exceeds configured limit"}
	}
	if p.MaxTokens < 0 {
		return &ValidationError{Reason: "max_tokens must be >= 0"}
	}
	return nil
}

// IsBeamSearch reports whether this group must be processed through the
// beam-search path of the OutputProcessor (more than one best_of sibling,
// explicitly requested beam search).
func (p SamplingParams) IsBeamSearch() bool {
	return p.UseBeamSearch && p.BestOf > 1
}

// PoolingParams is the sampling-params analogue for embedding/pooling
// requests, which produce one pooled vector rather than a token stream.
type PoolingParams struct {
	Dimensions int
}

// RequestParams is the tagged variant spec.md's add_request signature
// needs (SamplingParams | PoolingParams). Exactly one of Sampling or
// Pooling is set; IsPooling reports which.
type RequestParams struct {
	Sampling *SamplingParams
	Pooling  *PoolingParams
}

// IsPooling reports whether this is a pooling (embedding) request rather
// than a generation request.
func (p RequestParams) IsPooling() bool { return p.Pooling != nil }

// PromptKind distinguishes decoder-only prompts from encoder-decoder
// prompts within PromptInputs.
type PromptKind int

const (
	PromptDecoderOnly PromptKind = iota
	PromptEncoderDecoder
)

// PromptInputs is the tagged variant of request input spec.md's
// add_request accepts: a flat token sequence for decoder-only models, or
// an (encoder, decoder) pair for encoder-decoder models. Multi-modal
// prompt preprocessing is out of scope (spec.md §1); MultiModalData is
// accepted but neither read nor forwarded to the executor.
type PromptInputs struct {
	Kind             PromptKind
	PromptTokenIDs   []int // decoder-only prompt, or decoder prompt for encoder-decoder
	EncoderTokenIDs  []int // only set when Kind == PromptEncoderDecoder
	MultiModalData   any
}

// LoRARequest identifies a low-rank adapter to apply to a request.
type LoRARequest struct {
	Name string
	ID   int64
	Path string
}

// PromptAdapterRequest identifies a prompt adapter (soft prompt) to
// apply to a request.
type PromptAdapterRequest struct {
	Name          string
	ID            int64
	Path          string
	NumVirtualTokens int
}
