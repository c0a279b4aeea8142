// Package timer implements the event loop's deadline-ordered timer wheel: a
// min-heap of absolute deadlines plus the bookkeeping needed to cancel a
// timer in O(1) without a heap-wide scan.
package timer

import (
	"container/heap"
	"sync/atomic"
)

// Callback runs synchronously on the loop thread when a timer fires. It must
// not block.
type Callback func()

// ID identifies a scheduled timer. Cancellation is keyed by ID.
type ID uint64

// entry is one heap element.
type entry struct {
	id           ID
	delayMs      int64
	repeat       int64 // <0 infinite, 0 or 1 a single remaining fire, >1 remaining fires
	nextTrigger  int64 // absolute ms
	cb           Callback
	index        int // heap.Interface bookkeeping
}

// minHeap orders entries by nextTrigger ascending.
type minHeap []*entry

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].nextTrigger < h[j].nextTrigger }
func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *minHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// defaultWaitCeilingMs bounds how long the loop blocks when no timers are
// scheduled.
const defaultWaitCeilingMs = 1000

// Manager owns the min-heap plus a live-id tombstone set so a cancelled
// timer's stale heap entry is dropped on extraction instead of requiring an
// O(n) heap search at cancel time.
type Manager struct {
	h       minHeap
	live    map[ID]*entry
	nowMs   int64
	nextID  uint64
	nowFunc func() int64
}

// NewManager returns an empty Manager. nowFunc supplies the current time in
// absolute milliseconds; tests can substitute a fake clock.
func NewManager(nowFunc func() int64) *Manager {
	m := &Manager{live: make(map[ID]*entry), nowFunc: nowFunc}
	heap.Init(&m.h)
	m.nowMs = nowFunc()
	return m
}

// Schedule adds a timer that fires after delayMs, repeating repeatCount
// times (negative means infinite; zero and one both give a single shot).
func (m *Manager) Schedule(delayMs int64, repeatCount int64, cb Callback) ID {
	id := ID(atomic.AddUint64(&m.nextID, 1))
	e := &entry{
		id:          id,
		delayMs:     delayMs,
		repeat:      repeatCount,
		nextTrigger: m.nowFunc() + delayMs,
		cb:          cb,
	}
	m.live[id] = e
	heap.Push(&m.h, e)
	return id
}

// Cancel removes a timer. It is a tombstone operation: the heap entry, if
// still present, is dropped lazily the next time it would be extracted.
func (m *Manager) Cancel(id ID) {
	delete(m.live, id)
}

// FirstWaitMs returns how long the loop may block before the next timer is
// due: max(next_trigger-now, 0), or a default ceiling when no timer is live.
func (m *Manager) FirstWaitMs() int64 {
	m.nowMs = m.nowFunc()
	for m.h.Len() > 0 {
		top := m.h[0]
		if _, ok := m.live[top.id]; !ok {
			heap.Pop(&m.h)
			continue
		}
		wait := top.nextTrigger - m.nowMs
		if wait < 0 {
			wait = 0
		}
		return wait
	}
	return defaultWaitCeilingMs
}

// Tick extracts and fires every timer whose nextTrigger <= now, rescheduling
// repeaters and retiring exhausted ones. Cancelled timers (absent from the
// live set) are dropped without firing. Returns the number of timers that
// actually fired, for metrics.
func (m *Manager) Tick() int {
	fired := 0
	m.nowMs = m.nowFunc()
	for m.h.Len() > 0 && m.h[0].nextTrigger <= m.nowMs {
		e := heap.Pop(&m.h).(*entry)
		if _, ok := m.live[e.id]; !ok {
			// Cancelled: drop silently, never invoke the callback.
			continue
		}

		e.cb()
		fired++

		if e.repeat < 0 {
			e.nextTrigger = m.nowMs + e.delayMs
			heap.Push(&m.h, e)
			continue
		}

		e.repeat--
		if e.repeat > 0 {
			e.nextTrigger = m.nowMs + e.delayMs
			heap.Push(&m.h, e)
		} else {
			delete(m.live, e.id)
		}
	}
	return fired
}

// Len reports the number of live timers still pending (heap size may exceed
// this due to lazily-dropped tombstones).
func (m *Manager) Len() int {
	return len(m.live)
}
