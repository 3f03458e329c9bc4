package core

import "github.com/megha95/vllm/core/trace"

// MultiEngine fans a single logical engine out across P independent
// "virtual engines" for pipeline-parallel deployments (spec.md §4.5),
// grounded on sim/cluster's multi-instance deployment: `AddRequest`
// routes to whichever virtual engine currently has the fewest
// unfinished groups, the same least-loaded rule sim/cluster.Deployment
// uses to route requests across simulated instances.
type MultiEngine struct {
	engines []*Engine
	owner   map[RequestID]int // which virtual engine holds a given request
}

// NewMultiEngine builds pipelineParallelSize independent engines, each
// over its own executor and BlockManager partition. newExecutor is
// called once per virtual engine so callers can hand each one its own
// ModelExecutor instance (e.g. one per pipeline stage's device).
func NewMultiEngine(cfg EngineConfig, newExecutor func(stage int) ModelExecutor, tokenizer Tokenizer, stopChecker StopChecker, victim PreemptionPolicy) (*MultiEngine, error) {
	n := cfg.PipelineParallelSize
	if n < 1 {
		n = 1
	}
	me := &MultiEngine{
		engines: make([]*Engine, n),
		owner:   make(map[RequestID]int),
	}
	for i := 0; i < n; i++ {
		eng, err := NewEngine(cfg, newExecutor(i), tokenizer, stopChecker, victim)
		if err != nil {
			return nil, err
		}
		me.engines[i] = eng
	}
	return me, nil
}

// AddRequest routes id to the least-loaded virtual engine.
func (me *MultiEngine) AddRequest(id RequestID, inputs PromptInputs, params RequestParams) error {
	idx := me.leastLoaded()
	if err := me.engines[idx].AddRequest(id, inputs, params); err != nil {
		return err
	}
	me.owner[id] = idx
	return nil
}

func (me *MultiEngine) leastLoaded() int {
	best := 0
	for i, eng := range me.engines {
		if eng.NumUnfinishedRequests() < me.engines[best].NumUnfinishedRequests() {
			best = i
		}
	}
	return best
}

// SetTrace attaches the same decision trace to every virtual engine.
func (me *MultiEngine) SetTrace(tr *trace.Trace) {
	for _, eng := range me.engines {
		eng.SetTrace(tr)
	}
}

// AbortRequest aborts id on whichever virtual engine holds it.
func (me *MultiEngine) AbortRequest(id RequestID) {
	if idx, ok := me.owner[id]; ok {
		me.engines[idx].AbortRequest(id)
		delete(me.owner, id)
	}
}

// Step drives every virtual engine with work by one tick, one engine
// after another, and aggregates their outputs. Stages are not overlapped:
// each engine's Step completes before the next one starts.
func (me *MultiEngine) Step() ([]*RequestOutput, error) {
	var all []*RequestOutput
	for _, eng := range me.engines {
		if !eng.HasUnfinishedRequests() && len(eng.pending) == 0 {
			continue
		}
		outs, err := eng.Step()
		if err != nil {
			return nil, err
		}
		all = append(all, outs...)
	}
	for _, ro := range all {
		if ro.Finished {
			delete(me.owner, ro.RequestID)
		}
	}
	return all, nil
}

// HasUnfinishedRequests reports whether any virtual engine has
// unfinished groups.
func (me *MultiEngine) HasUnfinishedRequests() bool {
	for _, eng := range me.engines {
		if eng.HasUnfinishedRequests() {
			return true
		}
	}
	return false
}

// NumUnfinishedRequests sums unfinished groups across every virtual
// engine.
func (me *MultiEngine) NumUnfinishedRequests() int {
	total := 0
	for _, eng := range me.engines {
		total += eng.NumUnfinishedRequests()
	}
	return total
}

// CheckHealth pings every virtual engine's collaborators.
func (me *MultiEngine) CheckHealth() error {
	for _, eng := range me.engines {
		if err := eng.CheckHealth(); err != nil {
			return err
		}
	}
	return nil
}
