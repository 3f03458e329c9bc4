package core

import (
	"github.com/sirupsen/logrus"

	"github.com/megha95/vllm/core/trace"
)

// ScheduledSeqGroup is one group's entry in a ScheduleDecision: how many
// new tokens of this group to feed the model this step, and whether
// that chunk is a prefill chunk (used to keep prefill groups ahead of
// decode groups in the final ordering, spec.md §4.2's tie-break rule).
type ScheduledSeqGroup struct {
	Group          *SequenceGroup
	TokenChunkSize int
	IsPrefillChunk bool
}

// ScheduleDecision is the Scheduler's per-tick output, matching
// spec.md §3's ScheduleDecision value exactly.
type ScheduleDecision struct {
	Tick            int64
	ScheduledGroups []ScheduledSeqGroup
	IgnoredGroups   []*SequenceGroup

	BlocksToSwapIn  map[BlockID]BlockID
	BlocksToSwapOut map[BlockID]BlockID
	BlocksToCopy    []CowEvent

	NumPrefillGroups     int
	AllowAsyncOutputProc  bool
	NumPreempted          int
}

func newScheduleDecision() *ScheduleDecision {
	return &ScheduleDecision{
		BlocksToSwapIn:  make(map[BlockID]BlockID),
		BlocksToSwapOut: make(map[BlockID]BlockID),
	}
}

func (d *ScheduleDecision) numBatchedTokens() int {
	total := 0
	for _, sg := range d.ScheduledGroups {
		total += sg.TokenChunkSize
	}
	return total
}

// Scheduler holds the three request queues and produces one
// ScheduleDecision per tick, grounded on sim/simulator.go's
// makeRunningBatch and sim/batch_formation.go's VLLMBatchFormation
// (token-budget accounting, FCFS admission, chunked prefill, LIFO tail
// eviction), generalized to the three-phase running/swapped/waiting
// algorithm and swap-mode preemption of spec.md §4.2.
type Scheduler struct {
	cfg    SchedulerConfig
	maxModelLen int

	bm     *BlockManager
	victim PreemptionPolicy

	waiting *waitQueue
	running *runningList
	swapped *waitQueue

	tr   *trace.Trace
	tick int64
}

// SetTrace attaches a decision trace; pass nil to disable (the default).
func (s *Scheduler) SetTrace(tr *trace.Trace) { s.tr = tr }

// CurrentTick returns the number of ticks scheduled so far (0 before the
// first Schedule call), used to timestamp SequenceGroupMetrics.
func (s *Scheduler) CurrentTick() int64 { return s.tick }

// NewScheduler constructs a scheduler over an empty set of queues.
func NewScheduler(cfg SchedulerConfig, maxModelLen int, bm *BlockManager, victim PreemptionPolicy) *Scheduler {
	if victim == nil {
		victim = LastAdmittedVictim{}
	}
	return &Scheduler{
		cfg:         cfg,
		maxModelLen: maxModelLen,
		bm:          bm,
		victim:      victim,
		waiting:     newWaitQueue(),
		running:     newRunningList(),
		swapped:     newWaitQueue(),
	}
}

// AddSeqGroup enqueues a freshly created group at the back of waiting.
func (s *Scheduler) AddSeqGroup(g *SequenceGroup) {
	s.waiting.PushBack(g)
}

// Abort removes a group wherever it currently lives (waiting, running,
// or swapped), finishes its sequences as aborted, and returns its
// blocks. Idempotent: aborting an id that is not in flight is a no-op
// and reports false, never an error (spec.md §6: "unknown ids silently
// ignored").
func (s *Scheduler) Abort(id RequestID) bool {
	var g *SequenceGroup
	if got, ok := s.waiting.Remove(id); ok {
		g = got
	} else if got, ok := s.swapped.Remove(id); ok {
		g = got
	} else if got, ok := s.running.RemoveID(id); ok {
		g = got
	} else {
		return false
	}
	for _, seq := range g.GetSeqs(nil) {
		seq.Finish(SeqFinishedAborted, FinishAbort)
		s.bm.Free(seq)
	}
	return true
}

// HasUnfinishedSeqGroups reports whether any group is waiting, running,
// or swapped.
func (s *Scheduler) HasUnfinishedSeqGroups() bool {
	return s.waiting.Len() > 0 || s.running.Len() > 0 || s.swapped.Len() > 0
}

// NumUnfinishedSeqGroups returns the total count across all three
// queues.
func (s *Scheduler) NumUnfinishedSeqGroups() int {
	return s.waiting.Len() + s.running.Len() + s.swapped.Len()
}

// Schedule runs the three-phase algorithm of spec.md §4.2 and returns
// the resulting decision.
func (s *Scheduler) Schedule() *ScheduleDecision {
	s.tick++
	decision := newScheduleDecision()
	decision.Tick = s.tick
	tokenBudget := s.cfg.MaxNumBatchedTokens

	s.phaseRunning(decision, &tokenBudget)
	if decision.NumPreempted == 0 {
		s.phaseSwapped(decision, &tokenBudget)
	}
	s.phaseWaiting(decision, &tokenBudget)

	stablePartitionPrefillFirst(decision)
	decision.NumPrefillGroups = countPrefillChunks(decision)
	decision.AllowAsyncOutputProc = s.computeAsyncEligibility(decision)
	return decision
}

// phaseRunning advances every currently-running group by one decode
// step, or one chunk of prefill for groups still mid-prompt under
// chunked prefill. Mirrors VLLMBatchFormation.FormBatch's Phase 1: it
// ranges over a snapshot of the running list taken at phase entry, so a
// group already evicted as someone else's preemption victim is skipped
// rather than revisited (sim/batch_formation.go's documented
// range-over-original-array behavior, reproduced explicitly here with a
// membership check instead of relying on Go's range-capture quirk). A
// group whose sequences have all finished is removed from running here
// and its blocks are freed.
func (s *Scheduler) phaseRunning(decision *ScheduleDecision, tokenBudget *int) {
	snapshot := append([]*SequenceGroup(nil), s.running.All()...)
	for _, group := range snapshot {
		if !s.running.Contains(group.RequestID) {
			continue // already evicted as another group's preemption victim
		}
		if group.IsFinished() {
			s.running.RemoveID(group.RequestID)
			for _, seq := range group.GetSeqs(nil) {
				s.bm.Free(seq)
			}
			continue
		}
		if *tokenBudget <= 0 {
			logrus.Debugf("scheduler: token budget exhausted mid-running-phase, deferring remainder")
			break
		}

		isPrefill := group.IsPrefill()
		chunkSize := s.runningChunkSize(group, isPrefill, *tokenBudget)
		if chunkSize <= 0 {
			break
		}

		if !s.admitChunk(group, chunkSize, decision) {
			break
		}

		*tokenBudget -= chunkSize
		group.UpdateNumComputedTokens(chunkSize)
		decision.ScheduledGroups = append(decision.ScheduledGroups, ScheduledSeqGroup{
			Group: group, TokenChunkSize: chunkSize, IsPrefillChunk: isPrefill,
		})
	}
}

func (s *Scheduler) runningChunkSize(group *SequenceGroup, isPrefill bool, tokenBudget int) int {
	if !isPrefill {
		if tokenBudget < 1 {
			return 0
		}
		return 1
	}
	remaining := len(templatePrompt(group)) - group.NumComputedTokens()
	if remaining > tokenBudget {
		if !s.cfg.EnableChunkedPrefill {
			return 0 // whole remaining prefill must fit in one shot without chunking
		}
		remaining = tokenBudget
	}
	return remaining
}

// admitChunk tries to grow every live child of group by chunkSize
// tokens' worth of storage, preempting victims from running as needed.
// Returns false if no amount of preemption frees enough room (the
// circuit breaker of sim/batch_formation.go's preemptForTokens: an
// empty running list with nothing left to evict).
func (s *Scheduler) admitChunk(group *SequenceGroup, chunkSize int, decision *ScheduleDecision) bool {
	for _, seq := range group.GetSeqs(func(st SeqStatus) bool { return !st.IsFinished() }) {
		for i := 0; i < chunkSize; i++ {
			if !s.appendOneSlot(group, seq, decision) {
				return false
			}
		}
	}
	return true
}

// appendOneSlot extends seq by one token's worth of storage, preempting
// running victims until either the append succeeds or there is nothing
// left to preempt (spec.md §4.2: "the preempted current group may
// itself become the victim; in that case the scheduler retries from the
// front of running" — here, seq's own group being chosen as victim
// simply means this append cannot proceed this tick).
func (s *Scheduler) appendOneSlot(group *SequenceGroup, seq *Sequence, decision *ScheduleDecision) bool {
	for {
		if s.bm.CanAppendSlot(seq) {
			cow, err := s.bm.AppendSlot(seq)
			if err == nil {
				if cow != nil {
					decision.BlocksToCopy = append(decision.BlocksToCopy, *cow)
				}
				return true
			}
		}

		victim := s.victim.SelectVictim(s.running)
		if victim == nil {
			return false
		}
		s.preemptGroup(victim, decision)
		if victim.RequestID == group.RequestID {
			return false
		}
	}
}

// preemptGroup evicts victim from running, choosing recompute or swap
// mode, and records the result on decision.
func (s *Scheduler) preemptGroup(victim *SequenceGroup, decision *ScheduleDecision) {
	s.running.RemoveID(victim.RequestID)
	mode := s.preemptionMode(victim)

	if mode == PreemptionSwap {
		mapping, err := s.bm.SwapOut(victim)
		if err == nil {
			for src, dst := range mapping {
				decision.BlocksToSwapOut[src] = dst
			}
			s.swapped.PushBack(victim)
			decision.NumPreempted++
			logrus.Warnf("scheduler: preempting request %s by swap", victim.RequestID)
			if s.tr != nil {
				s.tr.RecordPreemption(trace.PreemptionRecord{RequestID: string(victim.RequestID), Tick: s.tick, Mode: "swap"})
				s.tr.RecordSwap(trace.SwapRecord{RequestID: string(victim.RequestID), Tick: s.tick, Direction: "out", NumBlocks: len(mapping)})
			}
			return
		}
		logrus.Warnf("scheduler: swap-out failed for request %s (%v), falling back to recompute", victim.RequestID, err)
	}

	for _, seq := range victim.GetSeqs(func(st SeqStatus) bool { return st == SeqRunning }) {
		s.bm.Free(seq)
		seq.Status = SeqWaiting
		seq.NumComputedTokens = 0
	}
	victim.numComputedTokens = 0
	s.waiting.PrependFront(victim)
	decision.NumPreempted++
	logrus.Warnf("scheduler: preempting request %s by recompute", victim.RequestID)
	if s.tr != nil {
		s.tr.RecordPreemption(trace.PreemptionRecord{RequestID: string(victim.RequestID), Tick: s.tick, Mode: "recompute"})
	}
}

// preemptionMode resolves the configured preemption_mode to a concrete
// choice for this victim. Under "auto" a victim that has generated
// fewer tokens than its own prompt length is cheap to recompute (little
// prefill work is lost); once it has generated at least that many
// tokens, swap preserves the far larger decode history instead of
// redoing it (spec.md §8 boundary scenarios 2 and 3 fix this threshold
// exactly at the victim's own prompt length).
func (s *Scheduler) preemptionMode(victim *SequenceGroup) PreemptionMode {
	switch s.cfg.PreemptionMode {
	case "recompute":
		return PreemptionRecompute
	case "swap":
		return PreemptionSwap
	}
	promptLen := len(templatePrompt(victim))
	generated := 0
	for _, seq := range victim.GetSeqs(nil) {
		if len(seq.OutputTokenIDs) > generated {
			generated = len(seq.OutputTokenIDs)
		}
	}
	if generated < promptLen {
		return PreemptionRecompute
	}
	return PreemptionSwap
}

// phaseSwapped resumes swapped groups in FIFO-of-swap order, only when
// Phase A preempted nothing this tick (spec.md §4.2: "the 'no
// preemption' gate prevents thrash").
func (s *Scheduler) phaseSwapped(decision *ScheduleDecision, tokenBudget *int) {
	for s.swapped.Len() > 0 {
		if *tokenBudget < 1 {
			break
		}
		if s.totalScheduledOrRunning(decision) >= s.cfg.MaxNumSeqs {
			break
		}
		group := s.swapped.Peek()
		if !s.bm.CanSwapIn(group) {
			break
		}

		mapping, err := s.bm.SwapIn(group)
		if err != nil {
			break
		}
		s.swapped.PopFront()
		for src, dst := range mapping {
			decision.BlocksToSwapIn[src] = dst
		}
		if s.tr != nil {
			s.tr.RecordSwap(trace.SwapRecord{RequestID: string(group.RequestID), Tick: s.tick, Direction: "in", NumBlocks: len(mapping)})
		}

		ok := true
		for _, seq := range group.GetSeqs(func(st SeqStatus) bool { return st == SeqRunning }) {
			cow, err := s.bm.AppendSlot(seq)
			if err != nil {
				ok = false
				break
			}
			if cow != nil {
				decision.BlocksToCopy = append(decision.BlocksToCopy, *cow)
			}
		}
		if !ok {
			break
		}

		s.running.Append(group)
		*tokenBudget--
		decision.ScheduledGroups = append(decision.ScheduledGroups, ScheduledSeqGroup{
			Group: group, TokenChunkSize: 1, IsPrefillChunk: false,
		})
	}
}

// phaseWaiting admits waiting groups in arrival order, chunked-prefill
// aware, until the token budget, the group budget, or memory is
// exhausted (spec.md §4.2 Phase C).
func (s *Scheduler) phaseWaiting(decision *ScheduleDecision, tokenBudget *int) {
	for s.waiting.Len() > 0 {
		group := s.waiting.Peek()
		promptLen := len(templatePrompt(group))

		if promptLen > s.maxModelLen {
			s.waiting.PopFront()
			s.finishIgnored(group)
			decision.IgnoredGroups = append(decision.IgnoredGroups, group)
			if s.tr != nil {
				s.tr.RecordAdmission(trace.AdmissionRecord{RequestID: string(group.RequestID), Tick: s.tick, Admitted: false, Reason: "prompt exceeds max_model_len"})
			}
			continue
		}

		switch s.bm.CanAllocate(group) {
		case AllocNever:
			s.waiting.PopFront()
			s.finishIgnored(group)
			decision.IgnoredGroups = append(decision.IgnoredGroups, group)
			if s.tr != nil {
				s.tr.RecordAdmission(trace.AdmissionRecord{RequestID: string(group.RequestID), Tick: s.tick, Admitted: false, Reason: "prompt too large for total KV-cache capacity"})
			}
			continue
		case AllocLater:
			return // memory exhausted; retry next tick
		}

		if *tokenBudget <= 0 {
			return
		}
		if s.totalScheduledOrRunning(decision) >= s.cfg.MaxNumSeqs {
			return
		}

		remaining := promptLen - group.NumComputedTokens()
		chunkSize := remaining
		if chunkSize > *tokenBudget {
			if !s.cfg.EnableChunkedPrefill {
				return // cannot admit a partial prompt without chunked prefill
			}
			chunkSize = *tokenBudget
		}
		if chunkSize <= 0 {
			return
		}

		s.waiting.PopFront()
		if group.NumComputedTokens() == 0 {
			s.bm.Allocate(group)
			scheduled := float64(s.tick)
			group.Metrics.FirstScheduled = &scheduled
			group.Metrics.TimeInQueue = scheduled - group.Metrics.ArrivalTime
			if s.tr != nil {
				s.tr.RecordAdmission(trace.AdmissionRecord{RequestID: string(group.RequestID), Tick: s.tick, Admitted: true, Reason: "allocated"})
			}
		}
		group.SetStatus(SeqRunning)
		s.running.Append(group)
		group.UpdateNumComputedTokens(chunkSize)
		*tokenBudget -= chunkSize

		decision.ScheduledGroups = append(decision.ScheduledGroups, ScheduledSeqGroup{
			Group: group, TokenChunkSize: chunkSize, IsPrefillChunk: true,
		})
	}
}

func (s *Scheduler) finishIgnored(group *SequenceGroup) {
	for _, seq := range group.GetSeqs(nil) {
		seq.Finish(SeqFinishedIgnored, FinishIgnored)
	}
}

// totalScheduledOrRunning is the group-budget denominator: groups
// already running plus groups newly scheduled this tick.
func (s *Scheduler) totalScheduledOrRunning(decision *ScheduleDecision) int {
	return s.running.Len()
}

func countPrefillChunks(decision *ScheduleDecision) int {
	n := 0
	for _, sg := range decision.ScheduledGroups {
		if sg.IsPrefillChunk {
			n++
		}
	}
	return n
}

// stablePartitionPrefillFirst reorders ScheduledGroups so every prefill
// chunk precedes every decode chunk, preserving relative order within
// each partition (spec.md §4.2: "prefill groups precede decode groups;
// ... FIFO admission order is preserved").
func stablePartitionPrefillFirst(decision *ScheduleDecision) {
	out := make([]ScheduledSeqGroup, 0, len(decision.ScheduledGroups))
	for _, sg := range decision.ScheduledGroups {
		if sg.IsPrefillChunk {
			out = append(out, sg)
		}
	}
	for _, sg := range decision.ScheduledGroups {
		if !sg.IsPrefillChunk {
			out = append(out, sg)
		}
	}
	decision.ScheduledGroups = out
}

// computeAsyncEligibility implements spec.md §4.2's allow_async_output_proc
// rule: no scheduled group may require inspecting the previous token to
// decide the next, and multi-step must be off.
func (s *Scheduler) computeAsyncEligibility(decision *ScheduleDecision) bool {
	if !s.cfg.UseAsyncOutputProc {
		return false
	}
	if s.cfg.NumSchedulerSteps > 1 {
		return false
	}
	for _, sg := range decision.ScheduledGroups {
		p := sg.Group.Params.Sampling
		if p == nil {
			continue
		}
		if p.IsBeamSearch() || p.N > 1 || len(p.StopStrings) > 0 {
			return false
		}
	}
	return true
}
