package services

import (
	"sync"
	"time"
)

// TimerRegistry owns the live debounce timers, one per session id.
// Rescheduling cancels and replaces the existing timer: the latest
// arrival wins, timers are never queued up.
type TimerRegistry struct {
	clock  Clock
	mu     sync.Mutex
	timers map[string]Timer
}

// NewTimerRegistry creates a registry on the given clock
func NewTimerRegistry(clock Clock) *TimerRegistry {
	return &TimerRegistry{
		clock:  clock,
		timers: make(map[string]Timer),
	}
}

// Schedule arms (or re-arms) the timer for a session id
func (r *TimerRegistry) Schedule(id string, d time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.timers[id]; ok {
		old.Stop()
	}

	var timer Timer
	timer = r.clock.AfterFunc(d, func() {
		r.mu.Lock()
		// Only forget the entry if it still points at this timer;
		// a reschedule may already have replaced it
		if r.timers[id] == timer {
			delete(r.timers, id)
		}
		r.mu.Unlock()
		fire()
	})
	r.timers[id] = timer
}

// Cancel stops and forgets the timer for a session id, if any
func (r *TimerRegistry) Cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

// Active returns the number of armed timers
func (r *TimerRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// StopAll cancels every armed timer
func (r *TimerRegistry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
