package workflow

import (
	"sync"
	"sync/atomic"
	"time"
)

// Repeater runs fn on a fixed cadence until stopped.
type Repeater struct {
	stop    chan struct{}
	once    sync.Once
	stopped atomic.Bool
}

// Repeat starts calling fn every interval on its own goroutine. The first
// call happens one interval after Repeat returns.
func Repeat(interval time.Duration, fn func()) *Repeater {
	r := &Repeater{stop: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				if r.stopped.Load() {
					return
				}
				fn()
			}
		}
	}()

	return r
}

// Stop cancels the task. No call of fn starts after Stop returns; a call
// already running is not interrupted. Safe to call more than once.
func (r *Repeater) Stop() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.stopped.Store(true)
		close(r.stop)
	})
}
