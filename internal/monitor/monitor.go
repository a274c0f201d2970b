// Package monitor runs the live loop: capture, perceive, classify, gate
// and alert, one frame at a time.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
	"github.com/dj-oyu/class-monitor/internal/camera"
	"github.com/dj-oyu/class-monitor/internal/config"
	"github.com/dj-oyu/class-monitor/internal/logger"
	"github.com/dj-oyu/class-monitor/internal/metrics"
	"github.com/dj-oyu/class-monitor/internal/notify"
	"github.com/dj-oyu/class-monitor/internal/overlay"
	"github.com/dj-oyu/class-monitor/internal/perception"
	"github.com/dj-oyu/class-monitor/internal/recorder"
	"github.com/dj-oyu/class-monitor/internal/report"
	"github.com/dj-oyu/class-monitor/internal/store"
	"github.com/dj-oyu/class-monitor/pkg/types"
)

var (
	// ErrSessionLocked is returned when another monitor holds the session lock.
	ErrSessionLocked = errors.New("another monitoring session is running")
	// ErrTooManyReadFailures ends the loop after consecutive failed reads.
	ErrTooManyReadFailures = errors.New("too many consecutive camera read failures")
)

// Preview shows annotated frames locally and reports a quit request.
type Preview interface {
	Show(jpeg []byte) (quit bool, err error)
	Close() error
}

// Publisher receives annotated frames and alerted events for the dashboard.
type Publisher interface {
	PublishFrame(jpeg []byte)
	PublishEvent(ev alert.Event)
}

// ReportMailer emails the end-of-session report.
type ReportMailer interface {
	SendReport(ctx context.Context, r notify.Report) error
}

// Options are the scalar settings of a run.
type Options struct {
	Student         string
	MaxReadFailures int
	ReportDir       string
	KeepPDF         bool
	LockPath        string
	RecentEvents    int
	ReportTimeout   time.Duration
}

// OptionsFromConfig maps the config file onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	lock := ""
	if cfg.Store.DBPath != "" && cfg.Store.DBPath != ":memory:" {
		lock = cfg.Store.DBPath + ".lock"
	}
	return Options{
		Student:         cfg.Student,
		MaxReadFailures: cfg.Camera.MaxReadFailures,
		ReportDir:       cfg.Report.OutputDir,
		KeepPDF:         cfg.Report.KeepPDF,
		LockPath:        lock,
		RecentEvents:    20,
		ReportTimeout:   cfg.Notify.Timeout,
	}
}

// Deps are the collaborators of a run. Source, Perceiver and Classifier
// are required; everything else may be nil.
type Deps struct {
	Source     camera.Source
	Perceiver  perception.Perceiver
	Classifier *behavior.Classifier
	Gate       *alert.Gate
	Events     *alert.EventLog
	Tally      *behavior.Tally
	LogWriter  *alert.LogWriter
	Store      *store.Store
	Recorder   *recorder.SnapshotRecorder
	Dispatcher *notify.Dispatcher
	Mailer     ReportMailer
	Preview    Preview
	Publisher  Publisher
	Metrics    *metrics.Metrics
}

// Monitor is one live monitoring session.
type Monitor struct {
	opts Options
	deps Deps

	mu        sync.RWMutex
	running   bool
	sessionID string
	label     behavior.Label
	frameNum  uint64
	lastFrame time.Time
	reportPDF string
}

// New validates deps and fills defaults.
func New(opts Options, deps Deps) (*Monitor, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("monitor: camera source is required")
	}
	if deps.Perceiver == nil {
		return nil, fmt.Errorf("monitor: perceiver is required")
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("monitor: classifier is required")
	}
	if deps.Gate == nil {
		deps.Gate = alert.NewGate(alert.DefaultInterval, false)
	}
	if deps.Events == nil {
		deps.Events = alert.NewEventLog()
	}
	if deps.Tally == nil {
		deps.Tally = behavior.NewTally(behavior.DefaultMaxGap)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if opts.Student == "" {
		opts.Student = "Student"
	}
	if opts.RecentEvents <= 0 {
		opts.RecentEvents = 20
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 30 * time.Second
	}
	if opts.ReportDir == "" {
		opts.ReportDir = "."
	}
	return &Monitor{opts: opts, deps: deps, label: behavior.Normal}, nil
}

// Metrics returns the metrics the monitor updates.
func (m *Monitor) Metrics() *metrics.Metrics {
	return m.deps.Metrics
}

// Run processes frames until ctx is cancelled, the preview asks to quit,
// the source ends or too many reads fail in a row. The session report is
// sent on every exit path.
func (m *Monitor) Run(ctx context.Context) (err error) {
	if m.opts.LockPath != "" {
		lock := flock.New(m.opts.LockPath)
		locked, lockErr := lock.TryLock()
		if lockErr != nil {
			return fmt.Errorf("acquire session lock: %w", lockErr)
		}
		if !locked {
			return fmt.Errorf("%w (lock %s)", ErrSessionLocked, m.opts.LockPath)
		}
		defer lock.Unlock()
	}

	started := time.Now()
	if m.deps.Store != nil {
		sess, serr := m.deps.Store.CreateSession(ctx, m.opts.Student, started)
		if serr != nil {
			return fmt.Errorf("create session: %w", serr)
		}
		m.mu.Lock()
		m.sessionID = sess.ID
		m.mu.Unlock()
	}

	if m.deps.Recorder != nil {
		if rerr := m.deps.Recorder.Start(); rerr != nil {
			logger.Warn("Monitor", "Snapshot recorder not started: %v", rerr)
		}
	}
	if m.deps.Dispatcher != nil {
		m.deps.Dispatcher.Start()
	}

	m.setRunning(true)
	logger.Info("Monitor", "Monitoring %s (session %s)", m.opts.Student, m.SessionID())

	defer func() {
		m.setRunning(false)
		m.finish(started)
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			logger.Info("Monitor", "Stopping: %v", ctx.Err())
			return nil
		}

		frame, rerr := m.deps.Source.Read(ctx)
		if rerr != nil {
			if errors.Is(rerr, camera.ErrClosed) {
				logger.Info("Monitor", "Camera source ended")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			failures++
			m.deps.Metrics.ReadErrors.Add(1)
			logger.Warn("Monitor", "Frame read failed (%d/%d): %v", failures, m.opts.MaxReadFailures, rerr)
			if failures > m.opts.MaxReadFailures {
				return fmt.Errorf("%w: %v", ErrTooManyReadFailures, rerr)
			}
			continue
		}
		failures = 0
		m.deps.Metrics.FramesRead.Add(1)

		if quit := m.ProcessFrame(ctx, frame); quit {
			logger.Info("Monitor", "Quit requested from preview window")
			return nil
		}
	}
}

// ProcessFrame runs one frame through the pipeline. It returns true when
// the preview window asked to quit.
func (m *Monitor) ProcessFrame(ctx context.Context, frame *types.Frame) bool {
	start := time.Now()
	obs, err := m.deps.Perceiver.Perceive(ctx, frame)
	m.deps.Metrics.UpdatePerceptionLatency(time.Since(start))
	if err != nil {
		m.deps.Metrics.PerceptionErrors.Add(1)
		m.deps.Metrics.FramesDropped.Add(1)
		if errors.Is(err, perception.ErrSidecarUnavailable) {
			logger.Debug("Monitor", "Frame %d skipped: %v", frame.FrameNum, err)
		} else {
			logger.Warn("Monitor", "Perception failed for frame %d: %v", frame.FrameNum, err)
		}
		return m.show(frame.Data)
	}

	label := m.deps.Classifier.Classify(obs)
	m.deps.Metrics.ObserveLabel(label)
	m.deps.Metrics.UpdateFrameLatency(frame.Timestamp)
	m.deps.Tally.Observe(label, frame.Timestamp)

	m.mu.Lock()
	if label != m.label {
		logger.Debug("Monitor", "Frame %d: %s -> %s", frame.FrameNum, m.label, label)
	}
	m.label = label
	m.frameNum = frame.FrameNum
	m.lastFrame = frame.Timestamp
	m.mu.Unlock()

	annotated, err := overlay.Annotate(frame.Data, label, obs.Objects)
	if err != nil {
		logger.Debug("Monitor", "Overlay skipped for frame %d: %v", frame.FrameNum, err)
		annotated = frame.Data
	}

	decision := m.deps.Gate.Evaluate(label, frame.Timestamp)
	if decision.Alert {
		m.raise(ctx, label, frame.Timestamp, annotated)
	} else if label != behavior.Normal {
		m.deps.Metrics.AlertsSuppressed.Add(1)
		logger.Debug("Monitor", "%s not alerted: %s", label, decision.Reason)
	}

	if m.deps.Publisher != nil {
		m.deps.Publisher.PublishFrame(annotated)
		m.deps.Metrics.FramesPublished.Add(1)
	}
	return m.show(annotated)
}

func (m *Monitor) show(jpeg []byte) bool {
	if m.deps.Preview == nil {
		return false
	}
	quit, err := m.deps.Preview.Show(jpeg)
	if err != nil {
		logger.Debug("Monitor", "Preview error: %v", err)
	}
	return quit
}

// raise records an alert everywhere. Each sink failure is logged and the
// remaining sinks still run.
func (m *Monitor) raise(ctx context.Context, label behavior.Label, ts time.Time, jpeg []byte) {
	ev, err := m.deps.Events.Append(label, ts)
	if err != nil {
		logger.Error("Monitor", "Event rejected: %v", err)
		return
	}
	m.deps.Metrics.AlertsRaised.Add(1)
	logger.Info("Monitor", "Alert: %s", ev)

	if m.deps.LogWriter != nil {
		if err := m.deps.LogWriter.Write(ev); err != nil {
			logger.Error("Monitor", "Behavior log write failed: %v", err)
		}
	}

	if sid := m.SessionID(); m.deps.Store != nil && sid != "" {
		if err := m.deps.Store.AppendEvent(ctx, sid, ev); err != nil {
			m.deps.Metrics.StoreErrors.Add(1)
			logger.Error("Monitor", "Store event failed: %v", err)
		}
	}

	if m.deps.Recorder != nil && m.deps.Recorder.Submit(recorder.Snapshot{Label: label, Timestamp: ts, JPEG: jpeg}) {
		m.deps.Metrics.SnapshotsRecorded.Add(1)
	}

	if m.deps.Dispatcher != nil {
		m.deps.Dispatcher.Enqueue(notify.Alert{Student: m.opts.Student, Label: label, Timestamp: ev.Time})
	}

	if m.deps.Publisher != nil {
		m.deps.Publisher.PublishEvent(ev)
	}
}

// finish drains background work and delivers the session report.
func (m *Monitor) finish(started time.Time) {
	if m.deps.Dispatcher != nil {
		m.deps.Dispatcher.Stop()
	}
	if m.deps.Recorder != nil {
		if err := m.deps.Recorder.Close(); err != nil {
			logger.Warn("Monitor", "Snapshot recorder stop: %v", err)
		}
	}
	if m.deps.Preview != nil {
		m.deps.Preview.Close()
	}

	now := time.Now()
	summary := m.deps.Tally.Summary()
	if sid := m.SessionID(); m.deps.Store != nil && sid != "" {
		if summary.TotalFrames > 0 {
			if err := m.deps.Store.SaveSummary(context.Background(), sid, summary); err != nil {
				m.deps.Metrics.StoreErrors.Add(1)
				logger.Error("Monitor", "Save session summary failed: %v", err)
			}
		}
		if err := m.deps.Store.EndSession(context.Background(), sid, now); err != nil {
			logger.Error("Monitor", "End session failed: %v", err)
		}
	}

	logger.Info("Monitor", "Session ended after %s: %d frames, %d alerts, engagement %.0f%%",
		now.Sub(started).Truncate(time.Second), summary.TotalFrames, m.deps.Events.Len(), summary.Engagement())

	if err := m.sendSessionReport(now); err != nil && !errors.Is(err, report.ErrNoEvents) {
		logger.Error("Monitor", "Session report: %v", err)
	}
}

func (m *Monitor) sendSessionReport(now time.Time) error {
	events := m.deps.Events.Events()
	if len(events) == 0 {
		return report.ErrNoEvents
	}
	if m.deps.Mailer == nil && !m.opts.KeepPDF {
		logger.Info("Monitor", "Email not configured, session report skipped")
		return nil
	}

	path, err := report.SessionReport(m.opts.ReportDir, m.opts.Student, events, now)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.reportPDF = path
	m.mu.Unlock()
	logger.Info("Monitor", "Session report written to %s", path)

	if m.deps.Mailer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ReportTimeout)
	defer cancel()
	sendErr := m.deps.Mailer.SendReport(ctx, notify.Report{
		Student:    m.opts.Student,
		Time:       now,
		Body:       report.EmailBody(m.opts.Student),
		Attachment: path,
	})
	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveNotification("email", sendErr)
	}

	if !m.opts.KeepPDF {
		if err := os.Remove(path); err != nil {
			logger.Warn("Monitor", "Could not remove %s: %v", path, err)
		} else {
			m.mu.Lock()
			m.reportPDF = ""
			m.mu.Unlock()
		}
	}
	return sendErr
}

func (m *Monitor) setRunning(v bool) {
	m.mu.Lock()
	m.running = v
	m.mu.Unlock()
}

// SessionID returns the store id of the running session, if any.
func (m *Monitor) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// ReportPath returns the kept session PDF after Run returned.
func (m *Monitor) ReportPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reportPDF
}
