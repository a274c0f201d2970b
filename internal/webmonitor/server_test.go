package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	_ "image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
	"github.com/dj-oyu/class-monitor/internal/metrics"
	"github.com/dj-oyu/class-monitor/internal/monitor"
	"github.com/dj-oyu/class-monitor/internal/notify"
)

var at = time.Date(2025, 3, 1, 9, 0, 1, 0, time.Local)

type fakeProvider struct {
	mu     sync.Mutex
	status monitor.Status
}

func (p *fakeProvider) Status() monitor.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{status: monitor.Status{
		Student:   "Ada",
		SessionID: "sess-1",
		Running:   true,
		Label:     behavior.Sleeping,
		FrameNum:  42,
		Summary: behavior.Summary{
			Frames:      map[behavior.Label]int{behavior.Normal: 3, behavior.Sleeping: 1},
			TotalFrames: 4,
		},
		Engagement:  75,
		AlertCounts: map[behavior.Label]int{behavior.Sleeping: 1},
		Recent:      []alert.Event{{Time: at, Label: behavior.Sleeping}},
	}}
}

func testConfig() Config {
	return Config{
		StatusInterval: 20 * time.Millisecond,
		FrameTimeout:   time.Second,
		KeepAlive:      time.Hour,
	}
}

func newTestServer(t *testing.T, hub *notify.Hub) (*Server, *httptest.Server) {
	t.Helper()
	return newTestServerWithConfig(t, testConfig(), hub)
}

func newTestServerWithConfig(t *testing.T, cfg Config, hub *notify.Hub) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(cfg, newFakeProvider(), hub, metrics.New())
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, ts
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

// openStream starts a streaming GET and returns the response with a cancel func.
func openStream(t *testing.T, url, accept string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, cancel
}

// readSSEData returns the payload of the next "data:" line.
func readSSEData(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimSpace(strings.TrimPrefix(line, "data: ")))
		}
	}
}

func TestNewServerRequiresProvider(t *testing.T) {
	_, err := NewServer(DefaultConfig(), nil, nil, nil)
	assert.Error(t, err)
}

func TestIndex(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	html := string(body)
	for _, needle := range []string{"<title>Class Monitor</title>", "/stream", "/api/status/stream", "/api/events/stream", "/ws"} {
		assert.Contains(t, html, needle)
	}
}

func TestStatus(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload struct {
		Status struct {
			Student     string         `json:"student"`
			Behavior    string         `json:"behavior"`
			Engagement  float64        `json:"engagement_percent"`
			AlertCounts map[string]int `json:"alert_counts"`
			Recent      []struct {
				Behavior string `json:"behavior"`
			} `json:"recent_events"`
		} `json:"status"`
		Stream struct {
			Clients int `json:"clients"`
		} `json:"stream"`
		Timestamp float64 `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "Ada", payload.Status.Student)
	assert.Equal(t, "Sleeping", payload.Status.Behavior)
	assert.InDelta(t, 75.0, payload.Status.Engagement, 0.001)
	assert.Equal(t, 1, payload.Status.AlertCounts["Sleeping"])
	require.Len(t, payload.Status.Recent, 1)
	assert.Equal(t, "Sleeping", payload.Status.Recent[0].Behavior)
	assert.Equal(t, 0, payload.Stream.Clients)
	assert.Greater(t, payload.Timestamp, 0.0)
}

func TestRecentEvents(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/api/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Events []struct {
			Behavior string `json:"behavior"`
		} `json:"events"`
		Counts map[string]int `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Events, 1)
	assert.Equal(t, "Sleeping", payload.Events[0].Behavior)
	assert.Equal(t, 1, payload.Counts["Sleeping"])
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"session_id":"sess-1"`)
}

func TestSnapshotFallsBackToBlank(t *testing.T) {
	s, ts := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/snapshot.jpg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	cfg, format, err := image.DecodeConfig(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)

	s.PublishFrame([]byte("frame-1"))
	_, body = get(t, ts.URL+"/snapshot.jpg")
	assert.Equal(t, "frame-1", string(body))
}

func TestMJPEGStreamDeliversPublishedFrames(t *testing.T) {
	s, ts := newTestServer(t, nil)
	s.PublishFrame([]byte("first-frame"))

	resp, cancel := openStream(t, ts.URL+"/stream", "")
	defer cancel()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	contentType := resp.Header.Get("Content-Type")
	assert.Contains(t, contentType, "multipart/x-mixed-replace")
	assert.Contains(t, contentType, "boundary=frame")

	require.Eventually(t, func() bool { return s.frames.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	s.PublishFrame([]byte("second-frame"))

	want := "--frame\r\nContent-Type: image/jpeg\r\n\r\nfirst-frame\r\n" +
		"--frame\r\nContent-Type: image/jpeg\r\n\r\nsecond-frame\r\n"
	buf := make([]byte, len(want))
	_, err := io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))
}

func TestMJPEGStreamSendsBlankWhenIdle(t *testing.T) {
	cfg := testConfig()
	cfg.FrameTimeout = 50 * time.Millisecond
	s, ts := newTestServerWithConfig(t, cfg, nil)

	resp, cancel := openStream(t, ts.URL+"/stream", "")
	defer cancel()

	header := "--frame\r\nContent-Type: image/jpeg\r\n\r\n"
	buf := make([]byte, len(header)+len(s.blank))
	_, err := io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, header, string(buf[:len(header)]))
	assert.Equal(t, s.blank, buf[len(header):])
}

func TestEventsStreamJSON(t *testing.T) {
	s, ts := newTestServer(t, nil)

	resp, cancel := openStream(t, ts.URL+"/api/events/stream", "")
	defer cancel()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	assert.Equal(t, "application/json", resp.Header.Get("X-Content-Format"))

	require.Eventually(t, func() bool { return s.events.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	s.PublishEvent(alert.Event{Time: at, Label: behavior.UsingPhone})

	var msg EventMessage
	require.NoError(t, json.Unmarshal(readSSEData(t, bufio.NewReader(resp.Body)), &msg))
	assert.Equal(t, uint64(1), msg.Sequence)
	assert.Equal(t, behavior.UsingPhone, msg.Behavior)
	assert.Equal(t, "2025-03-01 09:00:01", msg.Time)
	assert.Equal(t, "2025-03-01 09:00:01: Using Phone", msg.Message)
}

func TestEventsStreamProtobuf(t *testing.T) {
	s, ts := newTestServer(t, nil)

	resp, cancel := openStream(t, ts.URL+"/api/events/stream", "application/x-protobuf")
	defer cancel()
	assert.Equal(t, "application/protobuf", resp.Header.Get("X-Content-Format"))

	require.Eventually(t, func() bool { return s.events.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	s.PublishEvent(alert.Event{Time: at, Label: behavior.Eating})

	st, err := DecodeProtobufEvent(readSSEData(t, bufio.NewReader(resp.Body)))
	require.NoError(t, err)
	assert.Equal(t, "Eating", st.Fields["behavior"].GetStringValue())
	assert.Equal(t, float64(1), st.Fields["sequence"].GetNumberValue())
	assert.Equal(t, "2025-03-01 09:00:01: Eating", st.Fields["message"].GetStringValue())
}

func TestStatusStreamSendsSnapshotThenUpdates(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, cancel := openStream(t, ts.URL+"/api/status/stream", "")
	defer cancel()
	reader := bufio.NewReader(resp.Body)

	for i := 0; i < 2; i++ {
		var payload struct {
			Status struct {
				Student  string `json:"student"`
				FrameNum uint64 `json:"frame_number"`
			} `json:"status"`
		}
		require.NoError(t, json.Unmarshal(readSSEData(t, reader), &payload))
		assert.Equal(t, "Ada", payload.Status.Student)
		assert.Equal(t, uint64(42), payload.Status.FrameNum)
	}
}

func TestWebSocketRelaysHubAlerts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := notify.NewHub()
	s, ts := newTestServer(t, hub)
	go hub.Run(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.metrics.TotalClients.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	require.NoError(t, hub.Notify(ctx, notify.Alert{Student: "Ada", Label: behavior.Sleeping, Timestamp: at}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Type    string `json:"type"`
		Payload struct {
			Message string `json:"message"`
		} `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "alert", env.Type)
	assert.Equal(t, "Ada is Sleeping at 2025-03-01 09:00:01.", env.Payload.Message)
}

func TestWebSocketRouteAbsentWithoutHub(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, _ := get(t, ts.URL+"/ws")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsTracksStreamClients(t *testing.T) {
	s, ts := newTestServer(t, nil)

	resp, cancel := openStream(t, ts.URL+"/api/events/stream", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return s.metrics.ActiveClients.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, body := get(t, ts.URL+"/metrics")
	assert.Contains(t, string(body), "classmon_active_clients 1")

	cancel()
	resp.Body.Close()
	require.Eventually(t, func() bool { return s.metrics.ActiveClients.Load() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), s.metrics.TotalClients.Load())
}

func TestShutdownEndsStreams(t *testing.T) {
	s, err := NewServer(testConfig(), newFakeProvider(), nil, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	s.PublishFrame([]byte("frame"))
	resp, cancel := openStream(t, ts.URL+"/stream", "")
	defer cancel()
	require.Eventually(t, func() bool { return s.frames.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after shutdown")
	}
}

func TestStartServesOnListener(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "127.0.0.1:0"
	s, err := NewServer(cfg, newFakeProvider(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	resp, body := get(t, "http://"+s.Addr()+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"ok":true`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestAssetsServedFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(dir+"/app.css", "body{}"))

	cfg := testConfig()
	cfg.AssetsDir = dir
	s, err := NewServer(cfg, newFakeProvider(), nil, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Shutdown(context.Background())

	resp, body := get(t, ts.URL+"/assets/app.css")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{}", string(body))

	resp, _ = get(t, ts.URL+"/assets/missing.css")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
