package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/wifi-scenario/timectrl"
)

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	when      time.Duration
	f         func()
	cancelled bool
}

// eventScheduler keeps callbacks ordered by simulation time. Events with
// equal timestamps run in the order they were scheduled.
type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by 'when' (earliest first)
	index   map[string]*scheduledEvent
}

func newEventScheduler(clock timectrl.SimClock) *eventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

// Schedule registers a callback to run at the specified simulation time and
// returns an ID usable with Cancel.
func (s *eventScheduler) Schedule(at time.Duration, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id := fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}

	// Insert after every event at the same time so ties stay FIFO.
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when > ev.when
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[id] = ev
	return id
}

// ScheduleIn schedules f at d after the current simulation time.
func (s *eventScheduler) ScheduleIn(d time.Duration, f func()) string {
	return s.Schedule(s.clock.Now()+d, f)
}

// Cancel is a no-op if the ID is unknown or the event already ran.
func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	// Removal from s.events is lazy; RunDue skips cancelled events.
	ev.cancelled = true
	delete(s.index, id)
}

// Next returns the time of the earliest pending event.
func (s *eventScheduler) Next() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if !ev.cancelled {
			return ev.when, true
		}
	}
	return 0, false
}

// Pending returns the number of events that have not run or been cancelled.
func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// popDueLocked removes and returns the earliest non-cancelled event due at
// or before now. Caller must hold s.mu.
func (s *eventScheduler) popDueLocked(now time.Duration) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when > now {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

// RunDue executes every event whose time is <= Now(), including events
// scheduled for the current time by callbacks it runs. It returns how many
// callbacks ran.
func (s *eventScheduler) RunDue() int {
	ran := 0
	for {
		s.mu.Lock()
		ev := s.popDueLocked(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return ran
		}

		// Execute callback outside the lock so it can schedule follow-ups.
		if ev.f != nil {
			ev.f()
		}
		ran++
	}
}

// Reset drops every pending event.
func (s *eventScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.index = make(map[string]*scheduledEvent)
}
