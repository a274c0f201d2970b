// Package recorder keeps an annotated JPEG of every alerted frame.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/class-monitor/internal/behavior"
	"github.com/dj-oyu/class-monitor/internal/logger"
)

// Snapshot is one alerted frame waiting to be written.
type Snapshot struct {
	Label     behavior.Label
	Timestamp time.Time
	JPEG      []byte
}

// SnapshotRecorder writes alert snapshots to a directory
type SnapshotRecorder struct {
	mu           sync.RWMutex
	dir          string
	enabled      bool
	running      bool
	fileCount    uint64
	bytesWritten uint64
	lastFile     string
	startTime    time.Time
	snapChan     chan Snapshot
	wg           sync.WaitGroup
}

// NewSnapshotRecorder creates a recorder for dir. A disabled recorder
// accepts everything and writes nothing.
func NewSnapshotRecorder(dir string, enabled bool) *SnapshotRecorder {
	return &SnapshotRecorder{
		dir:      dir,
		enabled:  enabled,
		snapChan: make(chan Snapshot, 8),
	}
}

// FileName returns the snapshot name for label at ts:
// <YYYYMMDD_HHMMSS>_<label-slug>_<short-uuid>.jpg
func FileName(label behavior.Label, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s.jpg",
		ts.Format("20060102_150405"), label.Slug(), uuid.NewString()[:8])
}

// Save writes one snapshot synchronously and returns its path.
func (r *SnapshotRecorder) Save(label behavior.Label, ts time.Time, jpegData []byte) (string, error) {
	if !r.enabled {
		return "", nil
	}
	if len(jpegData) == 0 {
		return "", fmt.Errorf("empty snapshot")
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	path := filepath.Join(r.dir, FileName(label, ts))
	if err := os.WriteFile(path, jpegData, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	r.mu.Lock()
	r.fileCount++
	r.bytesWritten += uint64(len(jpegData))
	r.lastFile = path
	r.mu.Unlock()
	return path, nil
}

// Start launches the background writer used by Submit.
func (r *SnapshotRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("already running")
	}
	r.running = true
	r.startTime = time.Now()
	r.snapChan = make(chan Snapshot, cap(r.snapChan))

	r.wg.Add(1)
	go r.writeSnapshots(r.snapChan)
	return nil
}

// Submit queues a snapshot without blocking. It returns false when the
// recorder is stopped, disabled or its queue is full.
func (r *SnapshotRecorder) Submit(snap Snapshot) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.running || !r.enabled {
		return false
	}

	select {
	case r.snapChan <- snap:
		return true
	default:
		return false
	}
}

func (r *SnapshotRecorder) writeSnapshots(ch <-chan Snapshot) {
	defer r.wg.Done()
	for snap := range ch {
		if _, err := r.Save(snap.Label, snap.Timestamp, snap.JPEG); err != nil {
			logger.Warn("Recorder", "Snapshot for %s dropped: %v", snap.Label, err)
		}
	}
}

// Stop drains queued snapshots and stops the writer.
func (r *SnapshotRecorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("not running")
	}
	r.running = false
	close(r.snapChan)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// Close stops the writer if it is running.
func (r *SnapshotRecorder) Close() error {
	r.mu.RLock()
	running := r.running
	r.mu.RUnlock()
	if running {
		return r.Stop()
	}
	return nil
}

// GetStatus returns the recorder counters
func (r *SnapshotRecorder) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Status{
		Enabled:      r.enabled,
		Dir:          r.dir,
		FileCount:    r.fileCount,
		BytesWritten: r.bytesWritten,
		LastFile:     r.lastFile,
		StartTime:    r.startTime,
	}
}

// Status holds the recorder counters
type Status struct {
	Enabled      bool      `json:"enabled"`
	Dir          string    `json:"dir"`
	FileCount    uint64    `json:"file_count"`
	BytesWritten uint64    `json:"bytes_written"`
	LastFile     string    `json:"last_file,omitempty"`
	StartTime    time.Time `json:"start_time"`
}
