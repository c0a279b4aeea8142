// Package engine implements the single-threaded event loop that owns
// session state, the cluster catalog, dispatcher tables, and the timer
// wheel (spec §4.11). I/O runtime goroutines only ever reach the loop
// through the event queue, TaskManager.Finish, or a connection's sink
// mutex; nothing here is guarded by a lock, because nothing here is
// touched off this goroutine.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshnode/meshnode/internal/metrics"
	"github.com/meshnode/meshnode/internal/netio"
	"github.com/meshnode/meshnode/internal/task"
	"github.com/meshnode/meshnode/internal/timer"
)

// Server is the process's single event loop.
type Server struct {
	queue      *netio.Queue
	dispatcher *netio.Dispatcher
	tasks      *task.Manager
	timers     *timer.Manager
	log        *zap.Logger
	metrics    *metrics.Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewServer wires a Server. The caller is responsible for registering
// every handler on dispatcher before calling Run. m may be nil, in which
// case no metrics are recorded.
func NewServer(queue *netio.Queue, dispatcher *netio.Dispatcher, tasks *task.Manager, timers *timer.Manager, log *zap.Logger, m *metrics.Metrics) *Server {
	return &Server{
		queue:      queue,
		dispatcher: dispatcher,
		tasks:      tasks,
		timers:     timers,
		log:        log,
		metrics:    m,
		stopCh:     make(chan struct{}),
	}
}

// Stop requests the loop to exit after finishing its current iteration.
// Safe to call from any goroutine, any number of times.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run executes the loop described in spec §4.11 until Stop is called or
// ctx is cancelled. Each iteration: drain and dispatch every queued event,
// process finished tasks, compute the next wait bound from the timer
// wheel, block until woken or the bound elapses, tick timers, then check
// for a stop request. A handler that panics is logged at ERROR and the loop
// goes on with the next event.
func (s *Server) Run(ctx context.Context) error {
	for {
		for _, e := range s.queue.DrainAll() {
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("event handler panicked", zap.Any("panic", r),
							zap.String("origin", e.Origin.String()), zap.Uint64("session_id", e.SessionID))
					}
				}()
				s.dispatcher.Dispatch(e)
			}()
			if s.metrics != nil {
				s.metrics.EventsDispatched.WithLabelValues(e.Origin.String()).Inc()
			}
		}

		completed := s.tasks.ProcessFinished()
		if s.metrics != nil && completed > 0 {
			s.metrics.TasksCompleted.Add(float64(completed))
		}

		waitMs := s.timers.FirstWaitMs()
		timerC := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
		select {
		case <-s.queue.Wake():
		case <-timerC.C:
		case <-s.stopCh:
		case <-ctx.Done():
			timerC.Stop()
			return ctx.Err()
		}
		timerC.Stop()

		fired := s.timers.Tick()
		if s.metrics != nil && fired > 0 {
			s.metrics.TimerFires.Add(float64(fired))
		}

		select {
		case <-s.stopCh:
			return nil
		default:
		}
	}
}
