package client

import "time"

// CancelFunc cancels a scheduled callback. Calling it after the callback has
// fired is a no-op.
type CancelFunc func()

// Scheduler is the one-shot timer port used for proactive token refresh.
// Injecting it lets tests drive the refresh schedule with a manual clock
// instead of wall-clock timers.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) CancelFunc
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
type TimerScheduler struct{}

var _ Scheduler = TimerScheduler{}

func (TimerScheduler) Schedule(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return func() {
		t.Stop()
	}
}
