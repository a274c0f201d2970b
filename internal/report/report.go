// Package report renders session and summary PDFs for a student.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
)

// ErrNoEvents is returned when a session report would be empty.
var ErrNoEvents = errors.New("no behavior events to report")

const (
	dateLayout = "02-01-2006"
	font       = "Arial"
)

// Row is one "key: value" line of a summary report.
type Row struct {
	Key   string
	Value string
}

// SessionFileName is "<student>_Report_<dd-mm-YYYY>.pdf".
func SessionFileName(student string, now time.Time) string {
	return fmt.Sprintf("%s_Report_%s.pdf", fileSafe(student), now.Format(dateLayout))
}

// SummaryFileName is "<student>_behavior_report.pdf" in lower case.
func SummaryFileName(student string) string {
	return strings.ToLower(strings.ReplaceAll(fileSafe(student), " ", "_")) + "_behavior_report.pdf"
}

// SessionReport writes the full event list of a session to dir and returns
// the PDF path.
func SessionReport(dir, student string, events []alert.Event, now time.Time) (string, error) {
	if len(events) == 0 {
		return "", ErrNoEvents
	}

	pdf := newDocument()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont(font, "B", 14)
	pdf.CellFormat(190, 10, tr("Behavior Report for "+student), "", 1, "C", false, 0, "")
	pdf.SetFont(font, "", 12)
	pdf.CellFormat(190, 10, "Date: "+now.Format(dateLayout), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	for _, ev := range events {
		pdf.CellFormat(190, 8, tr(ev.String()), "", 1, "L", false, 0, "")
	}

	path := filepath.Join(dir, SessionFileName(student, now))
	if err := write(pdf, path); err != nil {
		return "", err
	}
	return path, nil
}

// SummaryReport writes a one-page summary with one "key: value" line per
// row, in order.
func SummaryReport(path, student string, rows []Row, now time.Time) error {
	pdf := newDocument()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont(font, "B", 16)
	pdf.CellFormat(190, 10, tr("Behavior Report: "+student), "", 1, "C", false, 0, "")
	pdf.Ln(6)
	pdf.SetFont(font, "", 12)
	pdf.CellFormat(190, 10, "Date: "+now.Format(alert.TimeLayout), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	for _, r := range rows {
		pdf.CellFormat(190, 10, tr(fmt.Sprintf("%s: %s", r.Key, r.Value)), "", 1, "L", false, 0, "")
	}
	return write(pdf, path)
}

// SummaryRows condenses a tally into the four headline figures. Without
// frame data the engagement level is reported as "n/a".
func SummaryRows(s behavior.Summary) []Row {
	engagement := "n/a"
	if s.TotalFrames > 0 {
		engagement = fmt.Sprintf("%.0f", s.Engagement())
	}
	return []Row{
		{Key: "Sleep Detections", Value: fmt.Sprintf("%d", s.Instances[behavior.Sleeping])},
		{Key: "Phone Usage Duration (minutes)", Value: fmt.Sprintf("%.1f", s.Durations[behavior.UsingPhone].Minutes())},
		{Key: "Eating Instances", Value: fmt.Sprintf("%d", s.Instances[behavior.Eating])},
		{Key: "Engagement Level (%)", Value: engagement},
	}
}

// EventSummary builds a summary from alerted events only: instances are
// the alert counts, there are no frame counts or durations.
func EventSummary(events []alert.Event) behavior.Summary {
	s := behavior.Summary{
		Frames:    map[behavior.Label]int{},
		Instances: alert.CountEvents(events),
		Durations: map[behavior.Label]time.Duration{},
	}
	if len(events) > 0 {
		s.Started = events[0].Time
		s.LastSeen = events[len(events)-1].Time
	}
	return s
}

// ParseRow parses "key=value".
func ParseRow(s string) (Row, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return Row{}, fmt.Errorf("invalid row %q, want key=value", s)
	}
	return Row{Key: key, Value: strings.TrimSpace(value)}, nil
}

// EmailBody is the markdown body of the report email.
func EmailBody(student string) string {
	return fmt.Sprintf("Hello,\n\nPlease find attached the detailed behavior report for **%s**.\n\nRegards,\n\nAI Monitoring System\n", student)
}

func newDocument() *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	return pdf
}

func write(pdf *fpdf.Fpdf, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

func fileSafe(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
