package alert

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/class-monitor/internal/behavior"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local)

func TestGateSuppressesRepeatsWithinInterval(t *testing.T) {
	g := NewGate(60*time.Second, false)

	assert.False(t, g.Evaluate(behavior.Normal, t0).Alert)
	assert.True(t, g.Evaluate(behavior.Sleeping, t0).Alert)
	assert.False(t, g.Evaluate(behavior.Sleeping, t0.Add(time.Second)).Alert, "same label again")

	assert.True(t, g.Evaluate(behavior.Eating, t0.Add(2*time.Second)).Alert)

	// label changed back, but Sleeping was alerted 10s ago
	d := g.Evaluate(behavior.Sleeping, t0.Add(10*time.Second))
	assert.False(t, d.Alert)
	assert.Contains(t, d.Reason, "rate limited")

	// exactly at the interval is still suppressed
	assert.False(t, g.Evaluate(behavior.Sleeping, t0.Add(60*time.Second)).Alert)
	assert.True(t, g.Evaluate(behavior.Sleeping, t0.Add(61*time.Second)).Alert)
}

func TestGateRemembersLastAlertedLabelAcrossNormal(t *testing.T) {
	g := NewGate(time.Second, false)

	require.True(t, g.Evaluate(behavior.UsingPhone, t0).Alert)
	g.Evaluate(behavior.Normal, t0.Add(time.Minute))
	assert.False(t, g.Evaluate(behavior.UsingPhone, t0.Add(2*time.Minute)).Alert)
}

func TestGateResetOnNormal(t *testing.T) {
	g := NewGate(time.Second, true)

	require.True(t, g.Evaluate(behavior.UsingPhone, t0).Alert)
	g.Evaluate(behavior.Normal, t0.Add(time.Minute))
	assert.True(t, g.Evaluate(behavior.UsingPhone, t0.Add(2*time.Minute)).Alert)

	// interval still applies after a reset
	g.Evaluate(behavior.Normal, t0.Add(2*time.Minute+100*time.Millisecond))
	assert.False(t, g.Evaluate(behavior.UsingPhone, t0.Add(2*time.Minute+500*time.Millisecond)).Alert)
}

func TestGateDefaultsAndState(t *testing.T) {
	g := NewGate(0, false)
	assert.Equal(t, DefaultInterval, g.Interval())

	g.Evaluate(behavior.Eating, t0)
	st := g.State()
	assert.Equal(t, behavior.Eating, st.LastLabel)
	assert.Equal(t, t0, st.LastAlert[behavior.Eating])

	// mutating the snapshot does not leak into the gate
	st.LastAlert[behavior.Sleeping] = t0
	_, ok := g.State().LastAlert[behavior.Sleeping]
	assert.False(t, ok)
}

func TestEventLogNonDecreasing(t *testing.T) {
	l := NewEventLog()

	_, err := l.Append(behavior.Sleeping, t0.Add(5*time.Second))
	require.NoError(t, err)
	ev, err := l.Append(behavior.Eating, t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Second), ev.Time, "earlier timestamp is clamped")

	_, err = l.Append(behavior.Label("Dancing"), t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidLabel)

	events := l.Events()
	require.Len(t, events, 2)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Time.Before(events[i-1].Time))
	}

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, map[behavior.Label]int{behavior.Sleeping: 1, behavior.Eating: 1}, l.Counts())

	recent := l.Recent(5)
	require.Len(t, recent, 2)
	assert.Equal(t, behavior.Eating, recent[0].Label)
}

func TestEventLogConcurrentAppend(t *testing.T) {
	l := NewEventLog()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Append(behavior.Eating, t0.Add(time.Duration(i)*time.Second))
		}(i)
	}
	wg.Wait()

	events := l.Events()
	require.Len(t, events, 20)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Time.Before(events[i-1].Time))
	}
}

func TestLogWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "behavior_log.txt")
	w, err := NewLogWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Write(Event{Time: t0, Label: behavior.Sleeping}))
	require.NoError(t, w.Write(Event{Time: t0.Add(time.Minute), Label: behavior.UsingPhone}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01 09:00:00: Sleeping\n2025-03-01 09:01:00: Using Phone\n", string(data))

	// foreign lines are tolerated
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, _ = f.WriteString("garbage\n2025-03-01 09:02:00: Phone/Eating\n\n")
	require.NoError(t, f.Close())

	events, skipped, err := ReadLog(path)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, events, 2)
	assert.Equal(t, behavior.UsingPhone, events[1].Label)
	assert.True(t, events[1].Time.Equal(t0.Add(time.Minute)))
}

func TestReadLogMissingFile(t *testing.T) {
	_, _, err := ReadLog(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
