// Package alert decides when a behavior label is worth a notification and
// keeps the record of the labels that were alerted.
package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/class-monitor/internal/behavior"
)

// DefaultInterval is the minimum time between two alerts for one label.
const DefaultInterval = 60 * time.Second

// Decision is the outcome of Gate.Evaluate.
type Decision struct {
	Alert  bool
	Reason string
}

// Gate suppresses alerts for Normal frames, for the label that was alerted
// last, and for any label alerted less than Interval ago.
type Gate struct {
	mu            sync.Mutex
	interval      time.Duration
	resetOnNormal bool
	lastLabel     behavior.Label
	lastAlert     map[behavior.Label]time.Time
}

// NewGate creates a gate. interval <= 0 selects DefaultInterval. With
// resetOnNormal a Normal frame forgets the last alerted label, so
// Sleeping -> Normal -> Sleeping can alert twice once the interval passed.
func NewGate(interval time.Duration, resetOnNormal bool) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Gate{
		interval:      interval,
		resetOnNormal: resetOnNormal,
		lastAlert:     make(map[behavior.Label]time.Time),
	}
}

// Interval returns the configured per-label interval.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Evaluate decides whether label observed at now triggers an alert and, if
// so, records it.
func (g *Gate) Evaluate(label behavior.Label, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if label == behavior.Normal {
		if g.resetOnNormal {
			g.lastLabel = ""
		}
		return Decision{Reason: "normal"}
	}

	if label == g.lastLabel {
		return Decision{Reason: "unchanged"}
	}

	if last, ok := g.lastAlert[label]; ok {
		if elapsed := now.Sub(last); elapsed <= g.interval {
			return Decision{Reason: fmt.Sprintf("rate limited (%s since last alert)", elapsed.Truncate(time.Second))}
		}
	}

	g.lastLabel = label
	g.lastAlert[label] = now
	return Decision{Alert: true, Reason: "changed"}
}

// State is a snapshot of the gate for status endpoints.
type State struct {
	LastLabel behavior.Label               `json:"last_label"`
	LastAlert map[behavior.Label]time.Time `json:"last_alert"`
	Interval  time.Duration                `json:"interval_ns"`
}

// State returns a copy of the gate's memory.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	last := make(map[behavior.Label]time.Time, len(g.lastAlert))
	for k, v := range g.lastAlert {
		last[k] = v
	}
	return State{LastLabel: g.lastLabel, LastAlert: last, Interval: g.interval}
}
