package core

import "testing"

func TestStats_RecordTick_AccumulatesTTFTOnlyForFinishedWithTTFT(t *testing.T) {
	st := &Stats{}
	decision := newScheduleDecision()

	ttft := 4.0
	finishedWithTTFT := &RequestOutput{
		RequestID: "a",
		Finished:  true,
		TTFT:      &ttft,
		Outputs:   []SequenceOutput{{Finished: true, FinishReason: FinishStop}},
	}
	finishedNoTTFT := &RequestOutput{
		RequestID: "b",
		Finished:  true,
		Outputs:   []SequenceOutput{{Finished: true, FinishReason: FinishIgnored}},
	}
	unfinished := &RequestOutput{RequestID: "c", Finished: false}

	st.RecordTick(decision, []*RequestOutput{finishedWithTTFT, finishedNoTTFT, unfinished}, 8, 8)

	if st.TTFTN != 1 {
		t.Fatalf("expected exactly one TTFT sample (finished with a non-nil TTFT), got %d", st.TTFTN)
	}
	if st.TTFTSum != 4.0 {
		t.Fatalf("expected TTFTSum=4.0, got %v", st.TTFTSum)
	}
}

func TestStats_RecordStepLatency_AccumulatesAcrossCalls(t *testing.T) {
	st := &Stats{}
	st.RecordStepLatency(100)
	st.RecordStepLatency(300)

	if st.PredictedStepTicks != 2 {
		t.Fatalf("expected 2 recorded ticks, got %d", st.PredictedStepTicks)
	}
	if st.PredictedStepMicrosSum != 400 {
		t.Fatalf("expected summed micros=400, got %d", st.PredictedStepMicrosSum)
	}
}
