package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
)

var now = time.Date(2025, 3, 1, 10, 30, 0, 0, time.Local)

func TestSessionFileName(t *testing.T) {
	assert.Equal(t, "Alice_Report_01-03-2025.pdf", SessionFileName("Alice", now))
	assert.Equal(t, "A_B_Report_01-03-2025.pdf", SessionFileName("A/B", now))
}

func TestSummaryFileName(t *testing.T) {
	assert.Equal(t, "student_001_behavior_report.pdf", SummaryFileName("Student_001"))
	assert.Equal(t, "ada_lovelace_behavior_report.pdf", SummaryFileName("Ada Lovelace"))
}

func TestSessionReport(t *testing.T) {
	dir := t.TempDir()
	events := []alert.Event{
		{Time: now.Add(-time.Hour), Label: behavior.Sleeping},
		{Time: now.Add(-time.Minute), Label: behavior.UsingPhone},
	}

	path, err := SessionReport(dir, "Alice", events, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Alice_Report_01-03-2025.pdf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
}

func TestSessionReportEmpty(t *testing.T) {
	_, err := SessionReport(t.TempDir(), "Alice", nil, now)
	assert.ErrorIs(t, err, ErrNoEvents)
}

func TestSummaryReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "summary.pdf")
	rows := []Row{{Key: "Sleep Detections", Value: "3"}, {Key: "Engagement Level (%)", Value: "75"}}

	require.NoError(t, SummaryReport(path, "José", rows, now))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(100))
}

func TestSummaryRows(t *testing.T) {
	tally := behavior.NewTally(time.Minute)
	start := now
	tally.Observe(behavior.Normal, start)
	tally.Observe(behavior.UsingPhone, start.Add(30*time.Second))
	tally.Observe(behavior.Normal, start.Add(60*time.Second))
	tally.Observe(behavior.Sleeping, start.Add(90*time.Second))

	rows := SummaryRows(tally.Summary())
	assert.Equal(t, []Row{
		{Key: "Sleep Detections", Value: "1"},
		{Key: "Phone Usage Duration (minutes)", Value: "0.5"},
		{Key: "Eating Instances", Value: "0"},
		{Key: "Engagement Level (%)", Value: "50"},
	}, rows)
}

func TestEventSummaryRows(t *testing.T) {
	events := []alert.Event{
		{Time: now, Label: behavior.Eating},
		{Time: now.Add(time.Minute), Label: behavior.Sleeping},
		{Time: now.Add(2 * time.Minute), Label: behavior.Eating},
	}
	s := EventSummary(events)
	assert.Equal(t, now, s.Started)

	rows := SummaryRows(s)
	assert.Equal(t, "1", rows[0].Value)
	assert.Equal(t, "2", rows[2].Value)
	assert.Equal(t, "n/a", rows[3].Value)
}

func TestParseRow(t *testing.T) {
	r, err := ParseRow(" Eating Instances = 4 ")
	require.NoError(t, err)
	assert.Equal(t, Row{Key: "Eating Instances", Value: "4"}, r)

	_, err = ParseRow("novalue")
	assert.Error(t, err)
	_, err = ParseRow("=3")
	assert.Error(t, err)
}

func TestEmailBody(t *testing.T) {
	body := EmailBody("Alice")
	assert.True(t, strings.HasPrefix(body, "Hello,\n\n"))
	assert.Contains(t, body, "behavior report for **Alice**")
	assert.Contains(t, body, "AI Monitoring System")
}
