// Package perception turns camera frames into landmark and object
// observations. Models run in a sidecar process; this package talks to it.
package perception

import (
	"context"
	"errors"
	"sync"

	"github.com/dj-oyu/class-monitor/pkg/types"
)

var (
	// ErrSidecarUnavailable is returned when the health check failed.
	ErrSidecarUnavailable = errors.New("perception sidecar unavailable")
	// ErrEmptyFrame is returned for frames without JPEG data.
	ErrEmptyFrame = errors.New("empty frame")
)

// Perceiver runs face-mesh, hand and object models over one frame.
type Perceiver interface {
	Perceive(ctx context.Context, frame *types.Frame) (*types.Observation, error)
	Close() error
}

// Static returns the same observation for every frame, stamped with the
// frame number and time. Used for dry runs and tests.
type Static struct {
	mu  sync.Mutex
	obs types.Observation
}

// NewStatic creates a Static perceiver.
func NewStatic(obs types.Observation) *Static {
	return &Static{obs: obs}
}

// Set replaces the observation returned from now on.
func (s *Static) Set(obs types.Observation) {
	s.mu.Lock()
	s.obs = obs
	s.mu.Unlock()
}

func (s *Static) Perceive(ctx context.Context, frame *types.Frame) (*types.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	obs := s.obs
	s.mu.Unlock()
	if frame != nil {
		obs.FrameNum = frame.FrameNum
		obs.Timestamp = frame.Timestamp
	}
	return &obs, nil
}

func (s *Static) Close() error { return nil }
