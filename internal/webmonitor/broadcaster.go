package webmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/dj-oyu/class-monitor/internal/logger"
)

// FrameBroadcaster fans annotated JPEG frames out to MJPEG clients.
// Frames are pushed by the monitor loop; slow clients miss frames instead
// of stalling it.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	latest  []byte
	dropped uint64
	stopped bool
}

// NewFrameBroadcaster creates an empty frame broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The most recent frame, if any, is queued immediately.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.stopped {
		close(ch)
		return id, ch
	}
	if fb.latest != nil {
		ch <- fb.latest
	}
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Publish stores data as the latest frame and sends it to every client.
func (fb *FrameBroadcaster) Publish(data []byte) {
	if len(data) == 0 {
		return
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.stopped {
		return
	}
	fb.latest = data
	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
			fb.dropped++
		}
	}
}

// Latest returns the most recently published frame.
func (fb *FrameBroadcaster) Latest() ([]byte, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.latest, fb.latest != nil
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Dropped returns how many per-client frames were skipped.
func (fb *FrameBroadcaster) Dropped() uint64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.dropped
}

// Stop closes every client channel and rejects further frames.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.stopped {
		return
	}
	fb.stopped = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// EventBroadcaster fans pre-serialized events out to SSE clients.
type EventBroadcaster struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	stopped bool
}

// NewEventBroadcaster creates a broadcaster; name is used in log lines.
func NewEventBroadcaster(name string) *EventBroadcaster {
	return &EventBroadcaster{
		name:    name,
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, 8)
	if eb.stopped {
		close(ch)
		return id, ch
	}
	eb.clients[id] = ch

	logger.Debug(eb.name, "Client #%d subscribed (total clients: %d)", id, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		logger.Debug(eb.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (eb *EventBroadcaster) ClientCount() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// Broadcast sends event to every client without blocking.
func (eb *EventBroadcaster) Broadcast(event *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, ch := range eb.clients {
		select {
		case ch <- event:
		default:
			logger.Debug(eb.name, "Client #%d too slow, event skipped", id)
		}
	}
}

// Stop closes every client channel.
func (eb *EventBroadcaster) Stop() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}
	eb.stopped = true
	for id, ch := range eb.clients {
		close(ch)
		delete(eb.clients, id)
	}
}

// StatusBroadcaster periodically serializes the monitor status and pushes
// it to status stream clients. It does no work while nobody listens.
type StatusBroadcaster struct {
	*EventBroadcaster
	provider StatusProvider
	interval time.Duration
}

// NewStatusBroadcaster creates a status broadcaster polling provider.
func NewStatusBroadcaster(provider StatusProvider, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		EventBroadcaster: NewEventBroadcaster("StatusBroadcaster"),
		provider:         provider,
		interval:         interval,
	}
}

// Run pushes a status every interval until ctx is cancelled.
func (sb *StatusBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sb.Stop()
			return
		case <-ticker.C:
		}

		if sb.ClientCount() == 0 {
			continue
		}
		event, err := serializeStatus(sb.provider.Status())
		if err != nil {
			logger.Error("StatusBroadcaster", "Serialize status: %v", err)
			continue
		}
		sb.Broadcast(event)
	}
}
