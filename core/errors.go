package core

import "fmt"

// ValidationError is returned by AddRequest when a request cannot be
// admitted: an empty prompt, a prompt longer than max_model_len, a
// logprobs depth over the configured limit, best_of < n, a negative
// max_tokens, or a prompt kind that does not match the model
// (encoder-decoder vs decoder-only). LoRA references are not validated.
type ValidationError struct {
	RequestID RequestID
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request %s: validation failed: %s", e.RequestID, e.Reason)
}

// DuplicateRequestError is returned by AddRequest when RequestID is
// already in flight.
type DuplicateRequestError struct {
	RequestID RequestID
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("request %s: duplicate request id", e.RequestID)
}

// ExecutorError wraps a failure from ModelExecutor.Execute. The engine
// does not mutate sequence state for the step that produced it: no
// tokens are appended, no blocks are freed for non-finished sequences.
type ExecutorError struct {
	Err error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("model executor failed: %v", e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// HealthCheckError is returned by CheckHealth when the tokenizer or
// executor does not respond. Callers are expected to terminate the
// engine on receiving this error.
type HealthCheckError struct {
	Component string
	Err       error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("health check failed for %s: %v", e.Component, e.Err)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }
