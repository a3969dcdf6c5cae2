package service

import "time"

// Scheduler runs fn once after d. Poll ticks are driven exclusively through it,
// so tests can substitute a manual implementation and fire ticks by hand.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

type timerScheduler struct{}

// NewTimerScheduler returns the wall-clock Scheduler backed by time.AfterFunc.
func NewTimerScheduler() Scheduler {
	return timerScheduler{}
}

func (timerScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}
