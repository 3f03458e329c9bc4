package core

// PreemptionPolicy picks which running group to evict when the
// scheduler needs to free device blocks for the group at the head of
// running, grounded on sim/admission.go's AdmissionPolicy
// name-constructor pattern (policy selected by name, default swapped in
// where the caller passes none).
type PreemptionPolicy interface {
	// SelectVictim returns the group to preempt from running, or nil if
	// running is empty. The returned group is still a member of
	// running; the caller removes it.
	SelectVictim(running *runningList) *SequenceGroup
}

// LastAdmittedVictim evicts the most recently admitted group still
// running (LIFO), vLLM's default and the only order
// sim/batch_formation.go's preemptForTokens implements.
type LastAdmittedVictim struct{}

func (LastAdmittedVictim) SelectVictim(running *runningList) *SequenceGroup {
	items := running.All()
	if len(items) == 0 {
		return nil
	}
	return items[len(items)-1]
}

// NewPreemptionPolicy constructs a policy by name. An empty string
// defaults to LastAdmittedVictim. Panics on an unrecognized name.
func NewPreemptionPolicy(name string) PreemptionPolicy {
	switch name {
	case "", "lifo":
		return LastAdmittedVictim{}
	default:
		panic("core: unknown preemption policy " + name)
	}
}
