package clock

import (
	"sync"
	"time"

	"tradecore/internal/events"
	"tradecore/pkg/types"
)

// LiveClock is the wall-time clock variant. Each schedule is realized by a
// time.AfterFunc; on fire the handler is invoked synchronously on the
// scheduler goroutine, then the timer re-arms or is removed.
type LiveClock struct {
	mu             sync.Mutex
	set            timerSet
	defaultHandler Handler
	platform       map[types.Label]*time.Timer
}

// NewLiveClock creates a live clock.
func NewLiveClock() *LiveClock {
	return &LiveClock{
		set:      newTimerSet(),
		platform: make(map[types.Label]*time.Timer),
	}
}

// TimeNow returns the current UTC wall time.
func (c *LiveClock) TimeNow() time.Time { return time.Now().UTC() }

// NextEventTime returns the earliest scheduled firing, or zero when none.
func (c *LiveClock) NextEventTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.nextEvent
}

// TimerCount returns the number of live schedules.
func (c *LiveClock) TimerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.set.timers)
}

// TimerLabels returns the labels of all live schedules, sorted.
func (c *LiveClock) TimerLabels() []types.Label {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.labels()
}

// SetDefaultHandler registers the fallback handler.
func (c *LiveClock) SetDefaultHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultHandler = h
}

// SetTimeAlert schedules a single firing at t.
func (c *LiveClock) SetTimeAlert(label types.Label, t time.Time, h Handler) error {
	now := c.TimeNow()
	if err := validateAlert(label, t, now); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tm := &timer{label: label, start: now, nextTime: t.UTC(), handler: h}
	if err := c.set.add(tm); err != nil {
		return err
	}
	c.arm(tm, t.Sub(now))
	return nil
}

// SetTimer schedules a repeating timer.
func (c *LiveClock) SetTimer(label types.Label, interval time.Duration, start, stop time.Time, h Handler) error {
	now := c.TimeNow()
	if start.IsZero() {
		start = now
	}
	if err := validateTimer(label, interval, start, stop); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tm := &timer{
		label:    label,
		interval: interval,
		start:    start.UTC(),
		stop:     stop.UTC(),
		nextTime: start.UTC().Add(interval),
		handler:  h,
	}
	if err := c.set.add(tm); err != nil {
		return err
	}
	c.arm(tm, tm.nextTime.Sub(now))
	return nil
}

// arm schedules the platform timer for the next firing. Caller holds mu.
func (c *LiveClock) arm(tm *timer, wait time.Duration) {
	if wait < 0 {
		wait = 0
	}
	c.platform[tm.label] = time.AfterFunc(wait, func() { c.fire(tm.label) })
}

// fire runs on the scheduler goroutine: it emits the time event to the
// registered handler, then re-arms or removes the schedule.
func (c *LiveClock) fire(label types.Label) {
	c.mu.Lock()
	tm, ok := c.set.timers[label]
	if !ok {
		// Cancelled after the platform timer was already dispatched.
		c.mu.Unlock()
		return
	}

	event := events.TimeEvent{
		Meta:  events.NewMeta(tm.nextTime),
		Label: tm.label,
	}
	handler := tm.handler
	if handler == nil {
		handler = c.defaultHandler
	}
	c.mu.Unlock()

	if handler != nil {
		handler(event)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set.timers[label] != tm {
		// Cancelled or replaced while the handler ran.
		return
	}
	tm.advance()
	if tm.done() {
		delete(c.set.timers, label)
		delete(c.platform, label)
	} else {
		c.arm(tm, tm.nextTime.Sub(c.TimeNow()))
	}
	c.set.recomputeNext()
}

// CancelTimer suppresses further firings for the label. An in-flight
// callback already dispatched is not aborted. Idempotent.
func (c *LiveClock) CancelTimer(label types.Label) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pt, ok := c.platform[label]; ok {
		pt.Stop()
		delete(c.platform, label)
	}
	c.set.remove(label)
}

// CancelAllTimers removes every schedule.
func (c *LiveClock) CancelAllTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for label, pt := range c.platform {
		pt.Stop()
		delete(c.platform, label)
	}
	c.set.removeAll()
}
