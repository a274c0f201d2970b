package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/class-monitor/internal/logger"
	"github.com/dj-oyu/class-monitor/pkg/types"
)

// maxPartSize bounds a single JPEG part.
const maxPartSize = 8 << 20

// MJPEGSource reads frames from a multipart/x-mixed-replace HTTP stream,
// such as the /stream endpoint of another classmon dashboard.
type MJPEGSource struct {
	url    string
	client *http.Client

	mu       sync.Mutex // guards reader and frameNum
	reader   *multipart.Reader
	frameNum uint64

	bodyMu sync.Mutex // guards body, may be taken while mu is held
	body   io.Closer
	closed atomic.Bool
}

// NewMJPEGSource creates a source for url. The connection is opened on the
// first Read.
func NewMJPEGSource(url string, client *http.Client) *MJPEGSource {
	if client == nil {
		client = &http.Client{}
	}
	return &MJPEGSource{url: url, client: client}
}

func (s *MJPEGSource) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("connect %s: status %d", s.url, resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return fmt.Errorf("connect %s: not a multipart stream (%q)", s.url, resp.Header.Get("Content-Type"))
	}

	s.bodyMu.Lock()
	s.body = resp.Body
	s.bodyMu.Unlock()
	s.reader = multipart.NewReader(resp.Body, params["boundary"])
	logger.Info("Camera", "Connected to MJPEG stream %s", s.url)
	return nil
}

// Read returns the next JPEG part. A finished stream yields ErrClosed.
func (s *MJPEGSource) Read(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.reader == nil {
		if err := s.connect(ctx); err != nil {
			return nil, err
		}
	}

	part, err := s.reader.NextPart()
	if err != nil {
		if errors.Is(err, io.EOF) || s.closed.Load() {
			s.closed.Store(true)
			s.resetLocked()
			return nil, ErrClosed
		}
		// drop the connection so the next Read reconnects
		s.resetLocked()
		return nil, fmt.Errorf("read part: %w", err)
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, maxPartSize))
	if err != nil {
		s.resetLocked()
		if s.closed.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("read jpeg: %w", err)
	}

	s.frameNum++
	frame := &types.Frame{
		Data:      data,
		Timestamp: time.Now(),
		FrameNum:  s.frameNum,
	}
	if w, h, err := DecodeSize(data); err == nil {
		frame.Width, frame.Height = w, h
	}
	return frame, nil
}

func (s *MJPEGSource) resetLocked() {
	s.closeBody()
	s.reader = nil
}

func (s *MJPEGSource) closeBody() {
	s.bodyMu.Lock()
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
	s.bodyMu.Unlock()
}

// Close ends the stream. A Read blocked on the connection returns ErrClosed.
func (s *MJPEGSource) Close() error {
	s.closed.Store(true)
	s.closeBody()
	return nil
}
