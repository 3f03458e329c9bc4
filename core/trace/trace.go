// Package trace provides decision-trace recording for scheduler analysis.
// It has no dependency on core — it stores pure data types, recorded by
// the engine/scheduler and consumed by callers who want to inspect why a
// given tick made the decisions it did.
package trace

// Level controls the verbosity of decision tracing.
type Level string

const (
	// LevelNone disables tracing (zero overhead).
	LevelNone Level = "none"
	// LevelDecisions captures every admission/preemption/swap decision.
	LevelDecisions Level = "decisions"
)

var validLevels = map[Level]bool{
	LevelNone:      true,
	LevelDecisions: true,
	"":             true, // empty defaults to none
}

// IsValidLevel returns true if the given level string is recognized.
func IsValidLevel(level string) bool {
	return validLevels[Level(level)]
}

// Config controls trace collection behavior.
type Config struct {
	Level Level
}

// Trace collects decision records across a run's ticks.
type Trace struct {
	Config      Config
	Admissions  []AdmissionRecord
	Preemptions []PreemptionRecord
	Swaps       []SwapRecord
}

// New creates a Trace ready for recording.
func New(config Config) *Trace {
	return &Trace{
		Config:      config,
		Admissions:  make([]AdmissionRecord, 0),
		Preemptions: make([]PreemptionRecord, 0),
		Swaps:       make([]SwapRecord, 0),
	}
}

// Enabled reports whether recording does anything at the configured level.
func (t *Trace) Enabled() bool {
	return t != nil && t.Config.Level == LevelDecisions
}

// RecordAdmission appends an admission decision record.
func (t *Trace) RecordAdmission(r AdmissionRecord) {
	if !t.Enabled() {
		return
	}
	t.Admissions = append(t.Admissions, r)
}

// RecordPreemption appends a preemption decision record.
func (t *Trace) RecordPreemption(r PreemptionRecord) {
	if !t.Enabled() {
		return
	}
	t.Preemptions = append(t.Preemptions, r)
}

// RecordSwap appends a swap-in/swap-out decision record.
func (t *Trace) RecordSwap(r SwapRecord) {
	if !t.Enabled() {
		return
	}
	t.Swaps = append(t.Swaps, r)
}
