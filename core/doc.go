// Package core implements the request engine core of an LLM serving
// system: the scheduler, the sequence/sequence-group state machine, the
// step loop (with async output post-processing and multi-step decoding),
// and paged KV-cache block accounting.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - sequence.go, sequence_group.go: request lifecycle and token streams
//   - block_manager.go: paged KV-cache allocation, copy-on-write, swap
//   - schedule.go: the scheduler's per-tick decision algorithm
//   - output_processor.go: appends sampled tokens, runs stop-checks
//   - engine.go: the step loop that ties the above together
//   - multiengine.go: pipeline-parallel virtual engines
//
// Tokenization, detokenization, the neural forward pass, and adapter
// mechanics are external collaborators reached through the Tokenizer,
// StopChecker, and ModelExecutor interfaces (tokenizer.go, stopcheck.go,
// executor.go); refexecutor.go provides a deterministic reference
// implementation used by tests and the `serve` CLI command.
package core
