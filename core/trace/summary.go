package trace

// Summary aggregates statistics from a Trace.
type Summary struct {
	TotalAdmissionDecisions int
	AdmittedCount           int
	IgnoredCount            int
	RecomputeCount          int
	SwapCount               int
	SwapInCount             int
	SwapOutCount            int
}

// Summarize computes aggregate statistics from a Trace. Safe for nil or
// empty traces (returns zero-value fields).
func Summarize(t *Trace) *Summary {
	s := &Summary{}
	if t == nil {
		return s
	}

	s.TotalAdmissionDecisions = len(t.Admissions)
	for _, a := range t.Admissions {
		if a.Admitted {
			s.AdmittedCount++
		} else {
			s.IgnoredCount++
		}
	}

	for _, p := range t.Preemptions {
		switch p.Mode {
		case "recompute":
			s.RecomputeCount++
		case "swap":
			s.SwapCount++
		}
	}

	for _, sw := range t.Swaps {
		switch sw.Direction {
		case "in":
			s.SwapInCount++
		case "out":
			s.SwapOutCount++
		}
	}

	return s
}
