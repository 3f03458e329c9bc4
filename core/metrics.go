package core

import "fmt"

// Stats aggregates engine-wide performance counters across ticks,
// grounded on sim/metrics.go's Metrics struct, generalized from a
// fixed-horizon simulation report to an ongoing engine counter updated
// every Step.
type Stats struct {
	Ticks int64

	CompletedRequests int
	IgnoredRequests   int
	AbortedRequests   int
	TotalOutputTokens int

	NumPreemptions int

	TTFTSum float64 // sum of time-to-first-token, in ticks, across completed requests
	TTFTN   int

	KVBlocksUsedIntegral int64 // running integral of used device blocks over ticks
	PeakKVBlocksUsed     int

	PredictedStepMicrosSum int64 // sum of the executor's own per-step latency estimate
	PredictedStepTicks     int64
}

// RecordStepLatency folds one step's executor-reported latency estimate
// into the running average; a zero estimate (an executor that doesn't
// predict) is still counted, since zero is a valid prediction.
func (st *Stats) RecordStepLatency(predictedMicros int64) {
	st.PredictedStepMicrosSum += predictedMicros
	st.PredictedStepTicks++
}

// RecordTick folds one Step's ScheduleDecision and resulting outputs
// into the running stats.
func (st *Stats) RecordTick(decision *ScheduleDecision, outputs []*RequestOutput, numFreeDeviceBlocks, totalDeviceBlocks int) {
	st.Ticks++
	st.NumPreemptions += decision.NumPreempted
	st.IgnoredRequests += len(decision.IgnoredGroups)

	used := totalDeviceBlocks - numFreeDeviceBlocks
	st.KVBlocksUsedIntegral += int64(used)
	if used > st.PeakKVBlocksUsed {
		st.PeakKVBlocksUsed = used
	}

	for _, out := range outputs {
		for _, so := range out.Outputs {
			st.TotalOutputTokens += len(so.TokenIDs)
			if so.Finished {
				switch so.FinishReason {
				case FinishAbort:
					st.AbortedRequests++
				case FinishIgnored:
					st.IgnoredRequests++
				default:
					st.CompletedRequests++
				}
			}
		}
		if out.Finished && out.TTFT != nil {
			st.TTFTSum += *out.TTFT
			st.TTFTN++
		}
	}
}

// Print displays aggregated stats, mirroring sim/metrics.go's Print.
func (st *Stats) Print() {
	fmt.Println("=== Engine Stats ===")
	fmt.Printf("Ticks                : %d\n", st.Ticks)
	fmt.Printf("Completed Requests   : %d\n", st.CompletedRequests)
	fmt.Printf("Ignored Requests     : %d\n", st.IgnoredRequests)
	fmt.Printf("Aborted Requests     : %d\n", st.AbortedRequests)
	fmt.Printf("Total Output Tokens  : %d\n", st.TotalOutputTokens)
	fmt.Printf("Preemptions          : %d\n", st.NumPreemptions)
	if st.Ticks > 0 {
		fmt.Printf("Average KV Blocks Used : %.2f\n", float64(st.KVBlocksUsedIntegral)/float64(st.Ticks))
	}
	fmt.Printf("Peak KV Blocks Used  : %d\n", st.PeakKVBlocksUsed)
	if st.TTFTN > 0 {
		fmt.Printf("Average TTFT         : %.2f ticks\n", st.TTFTSum/float64(st.TTFTN))
	}
	if st.PredictedStepTicks > 0 {
		fmt.Printf("Average Predicted Step Time : %.2f us\n", float64(st.PredictedStepMicrosSum)/float64(st.PredictedStepTicks))
	}
}
