package clock

import (
	"fmt"
	"sort"
	"time"

	"tradecore/internal/events"
	"tradecore/pkg/types"
)

// TimeEventPackage pairs a fired time event with the handler registered for
// it. TestClock.AdvanceTime returns these without invoking the handlers, so
// a backtest driver can interleave firings from multiple simulated clocks
// deterministically.
type TimeEventPackage struct {
	Event   events.TimeEvent
	Handler Handler
}

// TestClock is the discrete clock variant. Time only moves when the caller
// advances it, and advances never fire side effects themselves.
type TestClock struct {
	current        time.Time
	set            timerSet
	defaultHandler Handler
}

// UnixEpoch is the conventional start time for backtests that do not care
// about the calendar.
var UnixEpoch = time.Unix(0, 0).UTC()

// NewTestClock creates a test clock positioned at the given start time.
func NewTestClock(start time.Time) *TestClock {
	return &TestClock{current: start.UTC(), set: newTimerSet()}
}

// TimeNow returns the clock's current simulated time.
func (c *TestClock) TimeNow() time.Time { return c.current }

// SetTime repositions the clock without firing anything. Only meaningful
// between backtest runs.
func (c *TestClock) SetTime(t time.Time) { c.current = t.UTC() }

// NextEventTime returns the earliest scheduled firing, or zero when none.
func (c *TestClock) NextEventTime() time.Time { return c.set.nextEvent }

// TimerCount returns the number of live schedules.
func (c *TestClock) TimerCount() int { return len(c.set.timers) }

// TimerLabels returns the labels of all live schedules, sorted.
func (c *TestClock) TimerLabels() []types.Label { return c.set.labels() }

// SetDefaultHandler registers the fallback handler.
func (c *TestClock) SetDefaultHandler(h Handler) { c.defaultHandler = h }

// SetTimeAlert schedules a single firing at t.
func (c *TestClock) SetTimeAlert(label types.Label, t time.Time, h Handler) error {
	if err := validateAlert(label, t, c.current); err != nil {
		return err
	}
	return c.set.add(&timer{label: label, start: c.current, nextTime: t.UTC(), handler: h})
}

// SetTimer schedules a repeating timer.
func (c *TestClock) SetTimer(label types.Label, interval time.Duration, start, stop time.Time, h Handler) error {
	if start.IsZero() {
		start = c.current
	}
	if err := validateTimer(label, interval, start, stop); err != nil {
		return err
	}
	return c.set.add(&timer{
		label:    label,
		interval: interval,
		start:    start.UTC(),
		stop:     stop.UTC(),
		nextTime: start.UTC().Add(interval),
		handler:  h,
	})
}

// CancelTimer removes the schedule with the given label.
func (c *TestClock) CancelTimer(label types.Label) { c.set.remove(label) }

// CancelAllTimers removes every schedule.
func (c *TestClock) CancelAllTimers() { c.set.removeAll() }

// AdvanceTime moves the clock to t and returns the ordered list of time
// events due at or before t that have not fired yet (an alert set for the
// current time included), consuming alerts and expired timers in
// the process. The handlers are returned, not invoked: the caller decides
// whether and when to run them.
func (c *TestClock) AdvanceTime(t time.Time) ([]TimeEventPackage, error) {
	t = t.UTC()
	if t.Before(c.current) {
		return nil, fmt.Errorf("advance time: %s is before current time %s", t, c.current)
	}

	var fired []TimeEventPackage
	for _, tm := range c.set.timers {
		for !tm.done() && !tm.nextTime.After(t) {
			handler := tm.handler
			if handler == nil {
				handler = c.defaultHandler
			}
			fired = append(fired, TimeEventPackage{
				Event: events.TimeEvent{
					Meta:  events.NewMeta(tm.nextTime),
					Label: tm.label,
				},
				Handler: handler,
			})
			tm.advance()
		}
	}
	for label, tm := range c.set.timers {
		if tm.done() {
			delete(c.set.timers, label)
		}
	}
	c.set.recomputeNext()

	// Same-instant firings order by label so replays are stable across map
	// iteration orders.
	sort.Slice(fired, func(i, j int) bool {
		ti, tj := fired[i].Event.Timestamp, fired[j].Event.Timestamp
		if ti.Equal(tj) {
			return fired[i].Event.Label < fired[j].Event.Label
		}
		return ti.Before(tj)
	})

	c.current = t
	return fired, nil
}
