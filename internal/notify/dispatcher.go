package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/class-monitor/internal/logger"
	"github.com/dj-oyu/class-monitor/internal/metrics"
)

// Dispatcher delivers alerts to every notifier from a single background
// worker so the frame loop never waits on the network.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	queue   chan Alert
	started bool
	stopped bool
	wg      sync.WaitGroup

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a dispatcher with a queue of queueSize alerts.
// Each notifier call is bounded by timeout. m may be nil.
func NewDispatcher(queueSize int, timeout time.Duration, m *metrics.Metrics, notifiers ...Notifier) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		metrics:   m,
		queue:     make(chan Alert, queueSize),
	}
}

// Notifiers returns the configured channels.
func (d *Dispatcher) Notifiers() []Notifier {
	return d.notifiers
}

// Start launches the worker.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
}

// Enqueue queues a without blocking. It returns false when the queue is
// full or the dispatcher is stopped.
func (d *Dispatcher) Enqueue(a Alert) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return false
	}
	select {
	case d.queue <- a:
		d.updateQueueUsage()
		return true
	default:
		d.dropped.Add(1)
		if d.metrics != nil {
			d.metrics.NotifyDropped.Add(1)
		}
		logger.Warn("Dispatcher", "Queue full, dropping %s alert for %s", a.Label, a.Student)
		return false
	}
}

// Stop closes the queue and waits until queued alerts are delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		// nobody will drain the queue; deliver inline
		d.wg.Add(1)
		d.run()
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for a := range d.queue {
		d.updateQueueUsage()
		d.deliver(a)
	}
}

func (d *Dispatcher) deliver(a Alert) {
	for _, n := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := n.Notify(ctx, a)
		cancel()

		if d.metrics != nil {
			d.metrics.ObserveNotification(n.Name(), err)
		}
		if err != nil {
			d.failed.Add(1)
			logger.Error("Dispatcher", "%s notification for %s failed: %v", n.Name(), a.Label, err)
			continue
		}
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) updateQueueUsage() {
	if d.metrics != nil {
		d.metrics.UpdateQueueUsage(len(d.queue), cap(d.queue))
	}
}

// DispatcherStats are the delivery counters.
type DispatcherStats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

// Stats returns the delivery counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}
