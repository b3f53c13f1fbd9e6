package match

import (
	"sync"
	"time"
)

// timerSet holds every timer belonging to one session so teardown can
// cancel them all atomically. Callbacks scheduled before stopAll but firing
// after it are suppressed.
type timerSet struct {
	mu      sync.Mutex
	stopped bool
	timers  []*time.Timer
	done    chan struct{}
}

func newTimerSet() *timerSet {
	return &timerSet{done: make(chan struct{})}
}

// afterFunc schedules fn once after d. The returned timer may be stopped
// individually (e.g. the connect watchdog on the Active transition).
func (ts *timerSet) afterFunc(d time.Duration, fn func()) *time.Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.stopped {
		return nil
	}

	timer := time.AfterFunc(d, func() {
		ts.mu.Lock()
		stopped := ts.stopped
		ts.mu.Unlock()
		if !stopped {
			fn()
		}
	})
	ts.timers = append(ts.timers, timer)
	return timer
}

// every runs fn on a fixed interval until stopAll.
func (ts *timerSet) every(d time.Duration, fn func()) {
	ts.mu.Lock()
	if ts.stopped {
		ts.mu.Unlock()
		return
	}
	done := ts.done
	ts.mu.Unlock()

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ts.mu.Lock()
				stopped := ts.stopped
				ts.mu.Unlock()
				if stopped {
					return
				}
				fn()
			}
		}
	}()
}

// stopAll cancels every pending timer and ticker. Idempotent.
func (ts *timerSet) stopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.stopped {
		return
	}
	ts.stopped = true
	for _, timer := range ts.timers {
		timer.Stop()
	}
	ts.timers = nil
	close(ts.done)
}
