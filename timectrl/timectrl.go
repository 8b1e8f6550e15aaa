package timectrl

import (
	"fmt"
	"sync"
	"time"
)

// SimClock gives read access to simulation time. Simulation time is the
// offset from the start of the run, so every run starts at zero.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Duration
}

// Mode describes how the TimeController paces simulation time.
type Mode int

const (
	// RealTime sleeps so that simulated time tracks wall-clock time.
	RealTime Mode = iota
	// Accelerated jumps straight to the next event.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// TimeController holds simulation time for a discrete-event loop and
// notifies registered listeners each time it advances.
type TimeController struct {
	mu   sync.RWMutex
	Mode Mode

	currentTime time.Duration
	listeners   []func(time.Duration)

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewTimeController constructs a controller at simulation time zero.
func NewTimeController(mode Mode) *TimeController {
	return &TimeController{Mode: mode, sleep: time.Sleep}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the clock without pacing or notifying listeners.
func (tc *TimeController) SetTime(t time.Duration) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked after every advance.
func (tc *TimeController) AddListener(fn func(time.Duration)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// AdvanceTo moves simulation time forward to t. Time never runs backwards;
// advancing to the current time is allowed and still notifies listeners.
func (tc *TimeController) AdvanceTo(t time.Duration) error {
	tc.mu.Lock()
	if t < tc.currentTime {
		now := tc.currentTime
		tc.mu.Unlock()
		return fmt.Errorf("timectrl: cannot move time backwards from %s to %s", now, t)
	}
	step := t - tc.currentTime
	tc.currentTime = t
	listeners := append([]func(time.Duration){}, tc.listeners...)
	tc.mu.Unlock()

	if tc.Mode == RealTime && step > 0 && tc.sleep != nil {
		tc.sleep(step)
	}
	for _, fn := range listeners {
		fn(t)
	}
	return nil
}
