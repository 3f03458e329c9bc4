package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTokenizer struct{}

func (echoTokenizer) Encode(prompt string, lora *LoRARequest) ([]int, error) { return nil, nil }
func (echoTokenizer) Decode(tokenIDs []int, lora *LoRARequest) (string, error) {
	return "", nil
}
func (echoTokenizer) GetLoRATokenizer(lora *LoRARequest) Tokenizer { return echoTokenizer{} }
func (echoTokenizer) Ping() error                                 { return nil }

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *ReferenceExecutor) {
	t.Helper()
	exec := NewReferenceExecutor(64, 16, 1000, 2)
	eng, err := NewEngine(cfg, exec, echoTokenizer{}, DefaultStopChecker{EOSTokenID: 2}, nil)
	require.NoError(t, err)
	return eng, exec
}

func testEngineConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.Scheduler.MaxNumBatchedTokens = 256
	cfg.Scheduler.MaxNumSeqs = 16
	cfg.Model.MaxModelLen = 256
	return cfg
}

// TestEngine_AsyncOutputProc_OneTickLag exercises boundary scenario 5:
// with async output processing on, a tick's RequestOutput for a given
// step is not returned until the *next* Step() call, never the same one.
func TestEngine_AsyncOutputProc_OneTickLag(t *testing.T) {
	cfg := testEngineConfig()
	eng, _ := newTestEngine(t, cfg)

	params := RequestParams{Sampling: &SamplingParams{N: 1, BestOf: 1, MaxTokens: 50, Temperature: 1.0}}
	require.NoError(t, eng.AddRequest("r1", PromptInputs{Kind: PromptDecoderOnly, PromptTokenIDs: []int{10, 11, 12}}, params))

	first, err := eng.Step()
	require.NoError(t, err)
	assert.Empty(t, first, "the admitting tick's own output must not be visible until the following tick")

	second, err := eng.Step()
	require.NoError(t, err)
	assert.NotEmpty(t, second, "the previous tick's pending output must drain on this tick")
}

// TestEngine_SyncOutputProc_NoLag exercises the synchronous counterpart:
// disabling async output processing delivers each tick's output on that
// same tick.
func TestEngine_SyncOutputProc_NoLag(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Scheduler.UseAsyncOutputProc = false
	eng, _ := newTestEngine(t, cfg)

	params := RequestParams{Sampling: &SamplingParams{N: 1, BestOf: 1, MaxTokens: 50, Temperature: 1.0}}
	require.NoError(t, eng.AddRequest("r1", PromptInputs{Kind: PromptDecoderOnly, PromptTokenIDs: []int{10, 11, 12}}, params))

	out, err := eng.Step()
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

// TestEngine_Abort_InFlight exercises boundary scenario 6: aborting a
// request mid-flight removes it from the active set and it is never
// reported again, even once pending output drains.
func TestEngine_Abort_InFlight(t *testing.T) {
	cfg := testEngineConfig()
	eng, _ := newTestEngine(t, cfg)

	params := RequestParams{Sampling: &SamplingParams{N: 1, BestOf: 1, MaxTokens: 50, Temperature: 1.0}}
	require.NoError(t, eng.AddRequest("doomed", PromptInputs{Kind: PromptDecoderOnly, PromptTokenIDs: []int{1, 2, 3}}, params))

	_, err := eng.Step()
	require.NoError(t, err)

	eng.AbortRequest("doomed")
	assert.False(t, eng.HasUnfinishedRequests())

	for i := 0; i < 3; i++ {
		out, err := eng.Step()
		require.NoError(t, err)
		for _, ro := range out {
			assert.NotEqual(t, RequestID("doomed"), ro.RequestID)
		}
	}
}

func TestEngine_AddRequest_DuplicateIDRejected(t *testing.T) {
	cfg := testEngineConfig()
	eng, _ := newTestEngine(t, cfg)
	params := RequestParams{Sampling: &SamplingParams{N: 1, BestOf: 1, MaxTokens: 10, Temperature: 1.0}}
	require.NoError(t, eng.AddRequest("dup", PromptInputs{Kind: PromptDecoderOnly, PromptTokenIDs: []int{1}}, params))

	err := eng.AddRequest("dup", PromptInputs{Kind: PromptDecoderOnly, PromptTokenIDs: []int{1}}, params)
	var dupErr *DuplicateRequestError
	require.True(t, errors.As(err, &dupErr))
}

func TestEngine_AddRequest_PromptExceedsMaxModelLenRejected(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Model.MaxModelLen = 4
	eng, _ := newTestEngine(t, cfg)
	params := RequestParams{Sampling: &SamplingParams{N: 1, BestOf: 1, MaxTokens: 10, Temperature: 1.0}}

	err := eng.AddRequest("toolong", PromptInputs{Kind: PromptDecoderOnly, PromptTokenIDs: []int{1, 2, 3, 4, 5, 6}}, params)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
}

// TestEngine_MultiStep_CachesDecisionAcrossSteps exercises the multi-step
// decoding path: the same ScheduleDecision is reused for
// NumSchedulerSteps consecutive Step() calls, and no output is produced
// until the last of them.
func TestEngine_MultiStep_CachesDecisionAcrossSteps(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Scheduler.NumSchedulerSteps = 3
	eng, _ := newTestEngine(t, cfg)

	params := RequestParams{Sampling: &SamplingParams{N: 1, BestOf: 1, MaxTokens: 50, Temperature: 1.0}}
	require.NoError(t, eng.AddRequest("r1", PromptInputs{Kind: PromptDecoderOnly, PromptTokenIDs: []int{10, 11, 12}}, params))

	out1, err := eng.Step() // schedules, sets cachedRemaining=3, consumes one step
	require.NoError(t, err)
	assert.Empty(t, out1)
	require.NotNil(t, eng.cachedDecision)
	firstDecision := eng.cachedDecision
	assert.Equal(t, 2, eng.cachedRemaining)

	out2, err := eng.Step() // reuses cached decision
	require.NoError(t, err)
	assert.Empty(t, out2)
	assert.Same(t, firstDecision, eng.cachedDecision)
	assert.Equal(t, 1, eng.cachedRemaining)

	// Multi-step decoding disqualifies async output processing for the
	// whole cached decision, so the final sub-step delivers its output
	// synchronously rather than lagging a further tick.
	out3, err := eng.Step()
	require.NoError(t, err)
	assert.Nil(t, eng.cachedDecision)
	assert.NotEmpty(t, out3)

	out4, err := eng.Step() // first sub-step of the next 3-step cycle
	require.NoError(t, err)
	assert.Empty(t, out4)
}

func TestEngine_ExecutorError_PropagatesAndSkipsPostProcessing(t *testing.T) {
	cfg := testEngineConfig()
	exec := NewReferenceExecutor(64, 16, 1000, 2)
	failing := &ErrorInjectingExecutor{ModelExecutor: exec, FailNext: true}
	eng, err := NewEngine(cfg, failing, echoTokenizer{}, DefaultStopChecker{EOSTokenID: 2}, nil)
	require.NoError(t, err)

	params := RequestParams{Sampling: &SamplingParams{N: 1, BestOf: 1, MaxTokens: 50, Temperature: 1.0}}
	require.NoError(t, eng.AddRequest("r1", PromptInputs{Kind: PromptDecoderOnly, PromptTokenIDs: []int{10, 11, 12}}, params))

	out, err := eng.Step()
	require.Nil(t, out)
	var execErr *ExecutorError
	require.True(t, errors.As(err, &execErr))

	out2, err := eng.Step()
	require.NoError(t, err)
	assert.Empty(t, out2, "the failed tick produced nothing to drain")
}

// TestEngine_Metrics_ArrivalAndTTFTAreStamped exercises the full
// SequenceGroupMetrics/TTFT wiring end to end: ArrivalTime is set on
// AddRequest, FirstScheduled/TimeInQueue on first admission, and the
// engine's Stats accumulate a TTFT sample once the request finishes.
func TestEngine_Metrics_ArrivalAndTTFTAreStamped(t *testing.T) {
	cfg := testEngineConfig()
	eng, _ := newTestEngine(t, cfg)
	eng.Stats = &Stats{}

	params := RequestParams{Sampling: &SamplingParams{N: 1, BestOf: 1, MaxTokens: 1, Temperature: 1.0, IgnoreEOS: true}}
	require.NoError(t, eng.AddRequest("r1", PromptInputs{Kind: PromptDecoderOnly, PromptTokenIDs: []int{1, 2}}, params))

	group := eng.scheduler.waiting.Peek()
	require.NotNil(t, group, "request must still be queued immediately after AddRequest")
	assert.Equal(t, 0.0, group.Metrics.ArrivalTime, "first request arrives before any tick has run")
	assert.Nil(t, group.Metrics.FirstScheduled, "not yet admitted")

	for i := 0; i < 5 && eng.HasUnfinishedRequests(); i++ {
		_, err := eng.Step()
		require.NoError(t, err)
	}

	require.NotNil(t, group.Metrics.FirstScheduled)
	assert.GreaterOrEqual(t, group.Metrics.TimeInQueue, 0.0)
	require.NotNil(t, group.Metrics.FirstTokenTime)
	assert.GreaterOrEqual(t, eng.Stats.TTFTN, 1)
	assert.GreaterOrEqual(t, eng.Stats.PredictedStepTicks, int64(1))
}

func TestEngine_Stats_RecordsCompletedRequestOnFinish(t *testing.T) {
	cfg := testEngineConfig()
	eng, _ := newTestEngine(t, cfg)
	eng.Stats = &Stats{}

	params := RequestParams{Sampling: &SamplingParams{N: 1, BestOf: 1, MaxTokens: 1, Temperature: 1.0, IgnoreEOS: true}}
	require.NoError(t, eng.AddRequest("short", PromptInputs{Kind: PromptDecoderOnly, PromptTokenIDs: []int{1, 2}}, params))

	for i := 0; i < 5 && eng.HasUnfinishedRequests(); i++ {
		_, err := eng.Step()
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, eng.Stats.Ticks, int64(1))
}
