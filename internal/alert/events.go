package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/class-monitor/internal/behavior"
)

// TimeLayout is the timestamp format used in logs, messages and reports.
const TimeLayout = "2006-01-02 15:04:05"

// ErrInvalidLabel is returned when an event carries a label outside the
// closed set.
var ErrInvalidLabel = errors.New("invalid behavior label")

// Event is one alerted behavior.
type Event struct {
	Time  time.Time      `json:"time"`
	Label behavior.Label `json:"behavior"`
}

// String renders the event as "<time>: <label>".
func (e Event) String() string {
	return fmt.Sprintf("%s: %s", e.Time.Format(TimeLayout), e.Label)
}

// EventLog is the in-memory, append-only event list of a session.
// Timestamps never decrease: an event older than the last one is clamped
// to the last timestamp.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Append adds an event and returns it as stored.
func (l *EventLog) Append(label behavior.Label, ts time.Time) (Event, error) {
	if !label.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.events); n > 0 && ts.Before(l.events[n-1].Time) {
		ts = l.events[n-1].Time
	}
	ev := Event{Time: ts, Label: label}
	l.events = append(l.events, ev)
	return ev, nil
}

// Events returns a copy of all events in order.
func (l *EventLog) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Recent returns up to n most recent events, newest first.
func (l *EventLog) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.events) {
		n = len(l.events)
	}
	out := make([]Event, 0, n)
	for i := len(l.events) - 1; i >= len(l.events)-n; i-- {
		out = append(out, l.events[i])
	}
	return out
}

// Len returns the number of events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Counts returns the number of events per label.
func (l *EventLog) Counts() map[behavior.Label]int {
	return CountEvents(l.Events())
}

// CountEvents tallies events per label.
func CountEvents(events []Event) map[behavior.Label]int {
	counts := make(map[behavior.Label]int)
	for _, ev := range events {
		counts[ev.Label]++
	}
	return counts
}
