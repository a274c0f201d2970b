package monitor

import (
	"time"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
	"github.com/dj-oyu/class-monitor/internal/notify"
	"github.com/dj-oyu/class-monitor/internal/recorder"
)

// Status is a snapshot of the session for the dashboard.
type Status struct {
	Student       string                  `json:"student"`
	SessionID     string                  `json:"session_id,omitempty"`
	Running       bool                    `json:"running"`
	Label         behavior.Label          `json:"behavior"`
	FrameNum      uint64                  `json:"frame_number"`
	LastFrame     time.Time               `json:"last_frame"`
	Engagement    float64                 `json:"engagement_percent"`
	Summary       behavior.Summary        `json:"summary"`
	AlertCounts   map[behavior.Label]int  `json:"alert_counts"`
	Recent        []alert.Event           `json:"recent_events"`
	Gate          alert.State             `json:"gate"`
	Recorder      *recorder.Status        `json:"recorder,omitempty"`
	Notifications *notify.DispatcherStats `json:"notifications,omitempty"`
}

// Status returns the current session state.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	st := Status{
		Student:   m.opts.Student,
		SessionID: m.sessionID,
		Running:   m.running,
		Label:     m.label,
		FrameNum:  m.frameNum,
		LastFrame: m.lastFrame,
	}
	m.mu.RUnlock()

	st.Summary = m.deps.Tally.Summary()
	st.Engagement = st.Summary.Engagement()
	st.AlertCounts = m.deps.Events.Counts()
	st.Recent = m.deps.Events.Recent(m.opts.RecentEvents)
	st.Gate = m.deps.Gate.State()
	if m.deps.Recorder != nil {
		rs := m.deps.Recorder.GetStatus()
		st.Recorder = &rs
	}
	if m.deps.Dispatcher != nil {
		ds := m.deps.Dispatcher.Stats()
		st.Notifications = &ds
	}
	return st
}
