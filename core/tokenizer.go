package core

// Tokenizer is the external collaborator that turns text into token ids
// and back (spec.md §1: "out of scope... the core calls into a
// Tokenizer"). Implementations may wrap a real tokenizer library,
// an RPC client, or (for tests) a trivial in-memory scheme.
type Tokenizer interface {
	Encode(prompt string, lora *LoRARequest) ([]int, error)
	Decode(tokenIDs []int, lora *LoRARequest) (string, error)

	// GetLoRATokenizer returns the tokenizer variant to use for lora, or
	// the receiver itself when lora is nil or the tokenizer has no
	// per-adapter vocabulary extensions.
	GetLoRATokenizer(lora *LoRARequest) Tokenizer

	// Ping reports whether the tokenizer is reachable and healthy.
	Ping() error
}
