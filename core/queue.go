package core

// waitQueue is a FIFO of waiting or swapped sequence groups with O(1)
// abort-by-id, grounded on sim/queue.go's WaitQueue and the
// PrependFront/Peek/Len surface sim/batch_formation.go schedules against.
// The scheduler uses one waitQueue for the waiting list and another for
// the swapped list.
type waitQueue struct {
	items []*SequenceGroup
	index map[RequestID]int
}

func newWaitQueue() *waitQueue {
	return &waitQueue{index: make(map[RequestID]int)}
}

// PushBack appends a group to the tail (new arrival, or a group demoted
// back to waiting/swapped).
func (q *waitQueue) PushBack(g *SequenceGroup) {
	q.index[g.RequestID] = len(q.items)
	q.items = append(q.items, g)
}

// PrependFront inserts a group at the head. The scheduler uses it to put
// a group preempted by recompute at the front of the waiting queue, so
// it is the first candidate for re-admission.
func (q *waitQueue) PrependFront(g *SequenceGroup) {
	q.items = append([]*SequenceGroup{g}, q.items...)
	q.reindex()
}

// Peek returns the head of the queue without removing it, or nil if
// empty.
func (q *waitQueue) Peek() *SequenceGroup {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// PopFront removes and returns the head of the queue, or nil if empty.
func (q *waitQueue) PopFront() *SequenceGroup {
	if len(q.items) == 0 {
		return nil
	}
	g := q.items[0]
	q.items = q.items[1:]
	delete(q.index, g.RequestID)
	q.reindex()
	return g
}

// Remove deletes the group with the given request id from anywhere in
// the queue (used by abort), reporting whether it was present.
func (q *waitQueue) Remove(id RequestID) (*SequenceGroup, bool) {
	i, ok := q.index[id]
	if !ok {
		return nil, false
	}
	g := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	delete(q.index, id)
	q.reindex()
	return g, true
}

func (q *waitQueue) reindex() {
	for i, g := range q.items {
		q.index[g.RequestID] = i
	}
}

// Len reports the number of groups currently queued.
func (q *waitQueue) Len() int { return len(q.items) }

// All returns the queue's groups in order, front first. Callers must not
// mutate the returned slice.
func (q *waitQueue) All() []*SequenceGroup { return q.items }

// runningList is the set of running groups, in admission order. It
// persists across ticks: groups are appended on admission or swap-in and
// removed on preemption, abort, or once finished. Unlike waitQueue it
// carries no id index and exposes plain slice operations plus a linear
// id-based removal.
type runningList struct {
	items []*SequenceGroup
}

func newRunningList(groups ...*SequenceGroup) *runningList {
	return &runningList{items: append([]*SequenceGroup(nil), groups...)}
}

func (r *runningList) Len() int { return len(r.items) }

func (r *runningList) All() []*SequenceGroup { return r.items }

func (r *runningList) Append(g *SequenceGroup) { r.items = append(r.items, g) }

// Contains reports whether a group with the given request id is still
// in the running list.
func (r *runningList) Contains(id RequestID) bool {
	for _, g := range r.items {
		if g.RequestID == id {
			return true
		}
	}
	return false
}

// RemoveLast evicts and returns the most recently admitted group still
// running, the LIFO tail-eviction order sim/batch_formation.go's
// preemptForTokens uses to pick a victim.
func (r *runningList) RemoveLast() *SequenceGroup {
	if len(r.items) == 0 {
		return nil
	}
	g := r.items[len(r.items)-1]
	r.items = r.items[:len(r.items)-1]
	return g
}

// RemoveID removes a specific group (abort of an in-flight request).
func (r *runningList) RemoveID(id RequestID) (*SequenceGroup, bool) {
	for i, g := range r.items {
		if g.RequestID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return g, true
		}
	}
	return nil, false
}
