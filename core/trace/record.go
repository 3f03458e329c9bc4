package trace

// AdmissionRecord captures a single admission-or-ignore decision made in
// the waiting-queue phase of one tick.
type AdmissionRecord struct {
	RequestID string
	Tick      int64
	Admitted  bool
	Reason    string // e.g. "allocated", "prompt exceeds max_model_len", "insufficient free blocks"
}

// PreemptionRecord captures a single victim selection in the
// running-queue phase of one tick.
type PreemptionRecord struct {
	RequestID string
	Tick      int64
	Mode      string // "recompute" or "swap"
	Reason    string // e.g. "swap failed, falling back to recompute"
}

// SwapRecord captures a single swap-in or swap-out batch issued for one
// tick.
type SwapRecord struct {
	RequestID string
	Tick      int64
	Direction string // "in" or "out"
	NumBlocks int
}
