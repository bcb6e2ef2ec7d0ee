package feed

import (
	"sync"
	"time"
)

// Scheduler runs fn every period until the returned cancel is called.
// Cancel must be safe to call more than once.
type Scheduler interface {
	ScheduleRecurring(period time.Duration, fn func()) (cancel func())
}

// TickerScheduler schedules with time.Ticker. Each firing runs fn on its own
// goroutine so a slow tick never delays the next one.
type TickerScheduler struct{}

// ScheduleRecurring implements Scheduler.
func (TickerScheduler) ScheduleRecurring(period time.Duration, fn func()) func() {
	ticker := time.NewTicker(period)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				go fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
