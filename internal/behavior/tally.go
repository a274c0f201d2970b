package behavior

import (
	"sync"
	"time"
)

// DefaultMaxGap caps the time credited between two frames so that a
// stalled camera does not inflate durations.
const DefaultMaxGap = 2 * time.Second

// Summary is a point-in-time view of a Tally.
type Summary struct {
	Frames      map[Label]int           `json:"frames"`
	Instances   map[Label]int           `json:"instances"`
	Durations   map[Label]time.Duration `json:"durations"`
	TotalFrames int                     `json:"total_frames"`
	Started     time.Time               `json:"started"`
	LastSeen    time.Time               `json:"last_seen"`
}

// Engagement is the share of frames labelled Normal, in percent.
func (s Summary) Engagement() float64 {
	if s.TotalFrames == 0 {
		return 0
	}
	return float64(s.Frames[Normal]) * 100 / float64(s.TotalFrames)
}

// Tally accumulates per-label frame counts, runs and durations.
type Tally struct {
	mu        sync.Mutex
	maxGap    time.Duration
	frames    map[Label]int
	instances map[Label]int
	durations map[Label]time.Duration
	total     int
	last      Label
	lastAt    time.Time
	started   time.Time
}

// NewTally returns an empty tally. maxGap <= 0 selects DefaultMaxGap.
func NewTally(maxGap time.Duration) *Tally {
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}
	return &Tally{
		maxGap:    maxGap,
		frames:    make(map[Label]int),
		instances: make(map[Label]int),
		durations: make(map[Label]time.Duration),
	}
}

// Observe records the label of one frame captured at ts. Time since the
// previous frame is credited to the previous frame's label.
func (t *Tally) Observe(label Label, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total == 0 {
		t.started = ts
	} else if delta := ts.Sub(t.lastAt); delta > 0 {
		if delta > t.maxGap {
			delta = t.maxGap
		}
		t.durations[t.last] += delta
	}

	if t.total == 0 || label != t.last {
		t.instances[label]++
	}

	t.frames[label]++
	t.total++
	t.last = label
	if ts.After(t.lastAt) {
		t.lastAt = ts
	}
}

// Summary returns a copy of the accumulated values.
func (t *Tally) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		Frames:      make(map[Label]int, len(t.frames)),
		Instances:   make(map[Label]int, len(t.instances)),
		Durations:   make(map[Label]time.Duration, len(t.durations)),
		TotalFrames: t.total,
		Started:     t.started,
		LastSeen:    t.lastAt,
	}
	for k, v := range t.frames {
		s.Frames[k] = v
	}
	for k, v := range t.instances {
		s.Instances[k] = v
	}
	for k, v := range t.durations {
		s.Durations[k] = v
	}
	return s
}
