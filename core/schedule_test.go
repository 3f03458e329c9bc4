package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(cfg SchedulerConfig, deviceBlocks, hostBlocks, blockSize int) (*Scheduler, *BlockManager) {
	bm := NewBlockManager(deviceBlocks, hostBlocks, blockSize, false)
	return NewScheduler(cfg, 1<<20, bm, nil), bm
}

func defaultTestSchedulerConfig() SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.MaxNumBatchedTokens = 16
	cfg.MaxNumSeqs = 10
	cfg.EnableChunkedPrefill = false
	return cfg
}

// TestScheduler_OverflowByOne exercises boundary scenario 1: two 12-token
// prompts arrive together under a 16-token batch budget. The first tick
// admits only A; the second admits B alongside A's first decode step;
// neither is preempted.
func TestScheduler_OverflowByOne(t *testing.T) {
	s, bm := newTestScheduler(defaultTestSchedulerConfig(), 16, 0, 4)
	a := newPromptGroup("a", 12)
	b := newPromptGroup("b", 12)
	s.AddSeqGroup(a)
	s.AddSeqGroup(b)

	d1 := s.Schedule()
	require.Len(t, d1.ScheduledGroups, 1)
	assert.Equal(t, RequestID("a"), d1.ScheduledGroups[0].Group.RequestID)
	assert.Zero(t, d1.NumPreempted)
	assert.LessOrEqual(t, d1.numBatchedTokens(), 16)

	d2 := s.Schedule()
	require.Len(t, d2.ScheduledGroups, 2)
	assert.Equal(t, RequestID("b"), d2.ScheduledGroups[0].Group.RequestID)
	assert.Zero(t, d2.NumPreempted)
	_ = bm
}

// admitBothFullyPrefilled gets two 16-token prompts fully allocated and
// running in one tick (8 device blocks exactly fit both at block_size=4).
func admitBothFullyPrefilled(t *testing.T, s *Scheduler) (*SequenceGroup, *SequenceGroup) {
	t.Helper()
	a := newPromptGroup("a", 16)
	b := newPromptGroup("b", 16)
	s.AddSeqGroup(a)
	s.AddSeqGroup(b)
	d := s.Schedule()
	require.Len(t, d.ScheduledGroups, 2)
	require.Zero(t, d.NumPreempted)
	return a, b
}

// TestScheduler_PreemptByRecompute exercises boundary scenario 2: once
// both prompts fully occupy the device pool, the next decode tick must
// preempt the last-admitted group (B), and — since B has generated fewer
// tokens than its own prompt length — it is preempted by recompute.
func TestScheduler_PreemptByRecompute(t *testing.T) {
	cfg := defaultTestSchedulerConfig()
	cfg.MaxNumBatchedTokens = 100
	s, bm := newTestScheduler(cfg, 8, 0, 4)
	a, b := admitBothFullyPrefilled(t, s)

	freeBeforeDecode := bm.NumFreeDeviceBlocks()
	require.Zero(t, freeBeforeDecode)

	d := s.Schedule()
	require.Equal(t, 1, d.NumPreempted)
	require.Len(t, d.ScheduledGroups, 1)
	assert.Equal(t, RequestID("a"), d.ScheduledGroups[0].Group.RequestID)

	bSeq := b.GetSeqs(nil)[0]
	assert.Equal(t, SeqWaiting, bSeq.Status)
	assert.Empty(t, bSeq.BlockTable.Blocks)
	assert.Equal(t, 0, bSeq.NumComputedTokens)
	assert.False(t, s.running.Contains("b"))

	aSeq := a.GetSeqs(nil)[0]
	assert.Equal(t, SeqRunning, aSeq.Status)
}

// TestScheduler_PreemptBySwap exercises boundary scenario 3: once B has
// generated at least as many tokens as its own prompt length, the "auto"
// preemption-mode threshold chooses swap instead of recompute.
func TestScheduler_PreemptBySwap(t *testing.T) {
	cfg := defaultTestSchedulerConfig()
	cfg.MaxNumBatchedTokens = 100
	s, bm := newTestScheduler(cfg, 8, 8, 4)
	a, b := admitBothFullyPrefilled(t, s)

	bSeq := b.GetSeqs(nil)[0]
	bSeq.OutputTokenIDs = make([]int, 200) // generated >= prompt length (16)

	d := s.Schedule()
	require.Equal(t, 1, d.NumPreempted)
	require.Len(t, d.ScheduledGroups, 1)
	assert.Equal(t, RequestID("a"), d.ScheduledGroups[0].Group.RequestID)

	assert.Equal(t, SeqSwapped, bSeq.Status)
	assert.NotEmpty(t, bSeq.BlockTable.Blocks)
	assert.NotZero(t, len(d.BlocksToSwapOut))
	assert.True(t, bm.host.owns(bSeq.BlockTable.Blocks[0]))
	_ = a
}

func TestScheduler_PreemptionMode_ExplicitOverrideWins(t *testing.T) {
	cfg := defaultTestSchedulerConfig()
	cfg.MaxNumBatchedTokens = 100
	cfg.PreemptionMode = "swap"
	s, _ := newTestScheduler(cfg, 8, 8, 4)
	_, b := admitBothFullyPrefilled(t, s)
	// b has generated 0 tokens, which would normally mean "recompute" —
	// but the explicit override forces swap regardless.
	d := s.Schedule()
	require.Equal(t, 1, d.NumPreempted)
	assert.Equal(t, SeqSwapped, b.GetSeqs(nil)[0].Status)
}

func TestScheduler_Abort_FreesBlocksAndFinishesSequences(t *testing.T) {
	cfg := defaultTestSchedulerConfig()
	cfg.MaxNumBatchedTokens = 100
	s, bm := newTestScheduler(cfg, 8, 0, 4)
	a, _ := admitBothFullyPrefilled(t, s)
	free := bm.NumFreeDeviceBlocks()

	ok := s.Abort("a")
	require.True(t, ok)
	assert.Greater(t, bm.NumFreeDeviceBlocks(), free)
	for _, seq := range a.GetSeqs(nil) {
		assert.Equal(t, SeqFinishedAborted, seq.Status)
	}
	assert.False(t, s.running.Contains("a"))

	assert.False(t, s.Abort("a")) // idempotent: already gone
	assert.False(t, s.Abort("does-not-exist"))
}

func TestScheduler_AsyncEligibility_FalseWhenConfigDisablesIt(t *testing.T) {
	cfg := defaultTestSchedulerConfig()
	cfg.UseAsyncOutputProc = false
	s, _ := newTestScheduler(cfg, 16, 0, 4)
	s.AddSeqGroup(newPromptGroup("a", 4))
	d := s.Schedule()
	assert.False(t, d.AllowAsyncOutputProc)
}

func TestScheduler_AsyncEligibility_FalseForBeamSearchOrMultiStep(t *testing.T) {
	cfg := defaultTestSchedulerConfig()
	s, _ := newTestScheduler(cfg, 16, 0, 4)
	plain := newPromptGroup("plain", 4)
	s.AddSeqGroup(plain)
	d := s.Schedule()
	assert.True(t, d.AllowAsyncOutputProc)

	cfg2 := defaultTestSchedulerConfig()
	cfg2.NumSchedulerSteps = 4
	s2, _ := newTestScheduler(cfg2, 16, 0, 4)
	s2.AddSeqGroup(newPromptGroup("multi", 4))
	d2 := s2.Schedule()
	assert.False(t, d2.AllowAsyncOutputProc)

	s3, _ := newTestScheduler(defaultTestSchedulerConfig(), 16, 0, 4)
	beam := newPromptGroup("beam", 4)
	beam.Params.Sampling.UseBeamSearch = true
	beam.Params.Sampling.BestOf = 2
	s3.AddSeqGroup(beam)
	d3 := s3.Schedule()
	assert.False(t, d3.AllowAsyncOutputProc)
}
