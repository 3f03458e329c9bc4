package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitQueue_FIFO_Order(t *testing.T) {
	q := newWaitQueue()
	a := newPromptGroup("a", 4)
	b := newPromptGroup("b", 4)
	q.PushBack(a)
	q.PushBack(b)

	require.Equal(t, 2, q.Len())
	assert.Equal(t, a, q.Peek())
	got := q.PopFront()
	assert.Equal(t, a, got)
	assert.Equal(t, b, q.Peek())
}

func TestWaitQueue_PrependFront_ReinsertsAtHead(t *testing.T) {
	q := newWaitQueue()
	a := newPromptGroup("a", 4)
	b := newPromptGroup("b", 4)
	q.PushBack(a)
	q.PrependFront(b)
	assert.Equal(t, b, q.Peek())
}

func TestWaitQueue_Remove_ByRequestID(t *testing.T) {
	q := newWaitQueue()
	a := newPromptGroup("a", 4)
	b := newPromptGroup("b", 4)
	q.PushBack(a)
	q.PushBack(b)

	got, ok := q.Remove("a")
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, b, q.Peek())

	_, ok = q.Remove("nonexistent")
	assert.False(t, ok)
}

func TestRunningList_RemoveLast_IsLIFO(t *testing.T) {
	r := newRunningList()
	a := newPromptGroup("a", 4)
	b := newPromptGroup("b", 4)
	r.Append(a)
	r.Append(b)

	victim := r.RemoveLast()
	assert.Equal(t, b, victim)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Contains("a"))
	assert.False(t, r.Contains("b"))
}

func TestRunningList_RemoveID_Works(t *testing.T) {
	r := newRunningList()
	a := newPromptGroup("a", 4)
	b := newPromptGroup("b", 4)
	r.Append(a)
	r.Append(b)

	got, ok := r.RemoveID("a")
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.False(t, r.Contains("a"))
	assert.True(t, r.Contains("b"))
}
