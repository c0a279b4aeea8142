// Package task implements the hand-off of off-thread work back onto the
// event loop: I/O-runtime goroutines call Finish when work completes, and
// the loop thread drains it via ProcessFinished on its next iteration.
package task

import (
	"sync"
	"sync/atomic"
)

// ID identifies a unit of work for the lifetime of the process.
type ID uint64

// Runnable is a unit of work whose completion is observed by the loop
// thread. Done reports whether the task considers itself actually
// complete; a task that lies (returns false) is restored to in-flight so a
// buggy or slow-finishing task is never silently dropped — spec §4.3 calls
// this out explicitly as a case tests must cover.
type Runnable interface {
	Done() bool
}

// Func adapts a plain function to Runnable, always reporting done.
type Func func()

// Done runs the function on the loop thread and returns true.
func (f Func) Done() bool {
	f()
	return true
}

// Manager owns the in-flight and completed maps plus the notifier used to
// wake the loop thread when work completes.
type Manager struct {
	mu        sync.Mutex
	inFlight  map[ID]Runnable
	completed map[ID]Runnable
	nextID    uint64
	notify    func()
}

// NewManager returns an empty Manager. notify is called (from any
// goroutine) whenever Finish moves a task to the completed set; the loop
// wires this to its wakeup mechanism.
func NewManager(notify func()) *Manager {
	return &Manager{
		inFlight:  make(map[ID]Runnable),
		completed: make(map[ID]Runnable),
		notify:    notify,
	}
}

// Add assigns the next unused id and registers t as in-flight. The id
// counter is atomic; a collision-avoiding linear probe runs under the
// manager lock in the astronomically unlikely event the 64-bit counter
// wraps and collides with a still-live id.
func (m *Manager) Add(t Runnable) ID {
	id := ID(atomic.AddUint64(&m.nextID, 1))

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		_, inFlight := m.inFlight[id]
		_, done := m.completed[id]
		if !inFlight && !done {
			break
		}
		id++
	}
	m.inFlight[id] = t
	return id
}

// Finish moves a task from in-flight to completed and wakes the loop.
// Called from worker (I/O) threads.
func (m *Manager) Finish(id ID) {
	m.mu.Lock()
	t, ok := m.inFlight[id]
	if ok {
		delete(m.inFlight, id)
		m.completed[id] = t
	}
	m.mu.Unlock()

	if ok && m.notify != nil {
		m.notify()
	}
}

// Remove cancels a task, deleting it from whichever map holds it.
func (m *Manager) Remove(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
	delete(m.completed, id)
}

// ProcessFinished drains the completed set and invokes Done on each task.
// Must only be called from the loop thread. A task whose Done reports
// false is restored to in-flight rather than dropped. Returns the number
// of tasks that were actually completed (i.e. not restored), for metrics.
func (m *Manager) ProcessFinished() int {
	m.mu.Lock()
	batch := m.completed
	m.completed = make(map[ID]Runnable)
	m.mu.Unlock()

	var restore map[ID]Runnable
	for id, t := range batch {
		if !t.Done() {
			if restore == nil {
				restore = make(map[ID]Runnable)
			}
			restore[id] = t
		}
	}

	if len(restore) > 0 {
		m.mu.Lock()
		for id, t := range restore {
			m.inFlight[id] = t
		}
		m.mu.Unlock()
	}
	return len(batch) - len(restore)
}

// InFlightCount reports the number of tasks currently in flight (for tests
// and metrics).
func (m *Manager) InFlightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inFlight)
}
