package alert

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/dj-oyu/class-monitor/internal/behavior"
)

// DefaultLogPath is the behavior log written next to the working directory.
const DefaultLogPath = "behavior_log.txt"

// LogWriter appends "<time>: <label>" lines to the behavior log. Writers in
// other processes are serialized through a sibling .lock file.
type LogWriter struct {
	path string
	lock *flock.Flock
}

// NewLogWriter prepares a writer for path, creating parent directories.
func NewLogWriter(path string) (*LogWriter, error) {
	if path == "" {
		path = DefaultLogPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	return &LogWriter{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the log file path.
func (w *LogWriter) Path() string {
	return w.path
}

// Write appends one event line.
func (w *LogWriter) Write(ev Event) error {
	if err := w.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", w.path, err)
	}
	defer w.lock.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open behavior log: %w", err)
	}
	if _, err := fmt.Fprintln(f, ev.String()); err != nil {
		f.Close()
		return fmt.Errorf("write behavior log: %w", err)
	}
	return f.Close()
}

// ReadLog parses a behavior log. Lines that do not parse are skipped and
// counted in the second return value.
func ReadLog(path string) ([]Event, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open behavior log: %w", err)
	}
	defer f.Close()

	var events []Event
	skipped := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, ok := parseLine(line)
		if !ok {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read behavior log: %w", err)
	}
	return events, skipped, nil
}

func parseLine(line string) (Event, bool) {
	if len(line) < len(TimeLayout)+2 {
		return Event{}, false
	}
	ts, err := time.ParseInLocation(TimeLayout, line[:len(TimeLayout)], time.Local)
	if err != nil {
		return Event{}, false
	}
	rest := line[len(TimeLayout):]
	if !strings.HasPrefix(rest, ":") {
		return Event{}, false
	}
	label, err := behavior.ParseLabel(rest[1:])
	if err != nil {
		return Event{}, false
	}
	return Event{Time: ts, Label: label}, true
}
