package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLastAdmittedVictim_SelectVictim_EmptyRunningReturnsNil(t *testing.T) {
	var v LastAdmittedVictim
	r := newRunningList()
	assert.Nil(t, v.SelectVictim(r))
}

func TestLastAdmittedVictim_SelectVictim_PicksMostRecentlyAppended(t *testing.T) {
	var v LastAdmittedVictim
	r := newRunningList()
	a := newPromptGroup("a", 4)
	b := newPromptGroup("b", 4)
	c := newPromptGroup("c", 4)
	r.Append(a)
	r.Append(b)
	r.Append(c)

	assert.Equal(t, c, v.SelectVictim(r))

	r.RemoveID("c")
	assert.Equal(t, b, v.SelectVictim(r))
}

func TestNewPreemptionPolicy_DefaultsToLastAdmittedVictim(t *testing.T) {
	assert.Equal(t, LastAdmittedVictim{}, NewPreemptionPolicy(""))
	assert.Equal(t, LastAdmittedVictim{}, NewPreemptionPolicy("lifo"))
}

func TestNewPreemptionPolicy_PanicsOnUnknownName(t *testing.T) {
	assert.Panics(t, func() {
		NewPreemptionPolicy("bogus")
	})
}
