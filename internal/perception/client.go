package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/class-monitor/internal/config"
	"github.com/dj-oyu/class-monitor/internal/logger"
	"github.com/dj-oyu/class-monitor/pkg/types"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Client posts JPEG frames to the perception sidecar with a lazy health
// check. A healthy result is kept; a failed one is retried once
// config.HealthRetry has passed.
type Client struct {
	config     config.PerceptionConfig
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	available bool
	checkedAt time.Time
	warned    bool
}

// NewClient creates a sidecar client. The HTTP timeout comes from the config.
func NewClient(cfg config.PerceptionConfig) *Client {
	return &Client{
		config:  cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		now: time.Now,
	}
}

// CheckHealth reports whether GET /healthz answers 200.
func (c *Client) CheckHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// IsAvailable reports whether the sidecar passed its health check. While
// it is down the check is repeated at most once per HealthRetry.
func (c *Client) IsAvailable(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.available {
		return true
	}
	now := c.now()
	if !c.checkedAt.IsZero() && now.Sub(c.checkedAt) < c.config.HealthRetry {
		return false
	}
	c.checkedAt = now
	c.available = c.CheckHealth(ctx)

	switch {
	case c.available && c.warned:
		logger.Info("Perception", "Sidecar at %s is back", c.baseURL)
	case !c.available && !c.warned:
		logger.Warn("Perception", "Sidecar at %s failed health check, retrying every %s",
			c.baseURL, c.config.HealthRetry)
		c.warned = true
	}
	return c.available
}

// Perceive sends one frame and decodes the observation.
func (c *Client) Perceive(ctx context.Context, frame *types.Frame) (*types.Observation, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, ErrEmptyFrame
	}
	if !c.IsAvailable(ctx) {
		return nil, ErrSidecarUnavailable
	}

	q := url.Values{}
	q.Set("max_faces", strconv.Itoa(c.config.MaxFaces))
	q.Set("max_hands", strconv.Itoa(c.config.MaxHands))
	q.Set("min_confidence", strconv.FormatFloat(c.config.MinConfidence, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/perceive?"+q.Encode(), bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("build perceive request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perceive frame %d: %w", frame.FrameNum, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("perceive frame %d: status %d: %s",
			frame.FrameNum, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var obs types.Observation
	if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
		return nil, fmt.Errorf("decode observation: %w", err)
	}
	obs.FrameNum = frame.FrameNum
	obs.Timestamp = frame.Timestamp
	return &obs, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
