package testutil

import (
	"sync"
	"time"
)

// ScheduledFunc is a callback waiting in a ManualScheduler.
type ScheduledFunc struct {
	Delay time.Duration
	Fn    func()
}

// ManualScheduler queues callbacks instead of starting timers; tests fire them
// one at a time with RunNext.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []ScheduledFunc
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, ScheduledFunc{Delay: d, Fn: fn})
}

// Pending returns the delays of the queued callbacks, oldest first.
func (s *ManualScheduler) Pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delays := make([]time.Duration, len(s.pending))
	for i, p := range s.pending {
		delays[i] = p.Delay
	}
	return delays
}

// RunNext pops the oldest callback and runs it on the calling goroutine.
// It returns the callback's delay, or false when nothing is queued.
func (s *ManualScheduler) RunNext() (time.Duration, bool) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return 0, false
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()

	next.Fn()
	return next.Delay, true
}
