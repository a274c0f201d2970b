// Package opencv binds the monitor to a local webcam and a preview window
// through OpenCV.
package opencv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/class-monitor/internal/camera"
	"github.com/dj-oyu/class-monitor/internal/logger"
	"github.com/dj-oyu/class-monitor/pkg/types"
)

// Webcam captures frames from a V4L2/AVFoundation device and encodes them
// as JPEG.
type Webcam struct {
	mu       sync.Mutex
	capture  *gocv.VideoCapture
	img      gocv.Mat
	frameNum uint64
	closed   bool
}

// OpenWebcam opens device. width/height <= 0 keep the driver default.
func OpenWebcam(device, width, height int) (*Webcam, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open video device %d: %w", device, err)
	}
	if width > 0 && height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	logger.Info("Camera", "Opened webcam %d (%.0fx%.0f)", device,
		capture.Get(gocv.VideoCaptureFrameWidth), capture.Get(gocv.VideoCaptureFrameHeight))
	return &Webcam{capture: capture, img: gocv.NewMat()}, nil
}

// Read grabs one frame. A failed grab is returned as an error; the caller
// decides how many to tolerate.
func (w *Webcam) Read(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, camera.ErrClosed
	}
	if ok := w.capture.Read(&w.img); !ok {
		return nil, fmt.Errorf("grab frame: device returned no data")
	}
	if w.img.Empty() {
		return nil, fmt.Errorf("grab frame: empty image")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, w.img)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	w.frameNum++
	return &types.Frame{
		Data:      data,
		Timestamp: time.Now(),
		FrameNum:  w.frameNum,
		Width:     w.img.Cols(),
		Height:    w.img.Rows(),
	}, nil
}

// Close releases the device.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.img.Close()
	return w.capture.Close()
}
