// Package camera provides frame sources for the monitor loop.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/dj-oyu/class-monitor/pkg/types"
)

// ErrClosed is returned by Read once a source has no more frames.
var ErrClosed = errors.New("camera source closed")

// Source yields encoded frames one at a time.
type Source interface {
	Read(ctx context.Context) (*types.Frame, error)
	Close() error
}

// ImageSource yields one image file once, then ErrClosed.
type ImageSource struct {
	path string
	done bool
}

// NewImageSource checks that path exists and decodes as an image.
func NewImageSource(path string) (*ImageSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("image source: %w", err)
	}
	return &ImageSource{path: path}, nil
}

func (s *ImageSource) Read(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, ErrClosed
	}
	s.done = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	w, h, err := DecodeSize(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return &types.Frame{
		Data:      data,
		Timestamp: time.Now(),
		FrameNum:  1,
		Width:     w,
		Height:    h,
	}, nil
}

func (s *ImageSource) Close() error {
	s.done = true
	return nil
}

// DecodeSize returns the pixel size of an encoded image.
func DecodeSize(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
