// Package webmonitor serves the live dashboard: the annotated MJPEG feed,
// JSON status, server-sent event streams, websocket alerts and metrics.
package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/logger"
	"github.com/dj-oyu/class-monitor/internal/metrics"
	"github.com/dj-oyu/class-monitor/internal/monitor"
	"github.com/dj-oyu/class-monitor/internal/notify"
	"github.com/dj-oyu/class-monitor/internal/overlay"
)

// StatusProvider supplies the session snapshot shown on the dashboard.
type StatusProvider interface {
	Status() monitor.Status
}

// StatusProviderFunc adapts a function to StatusProvider.
type StatusProviderFunc func() monitor.Status

func (f StatusProviderFunc) Status() monitor.Status { return f() }

// Server serves the dashboard endpoints. It implements monitor.Publisher.
type Server struct {
	cfg      Config
	provider StatusProvider
	hub      *notify.Hub
	metrics  *metrics.Metrics

	frames   *FrameBroadcaster
	events   *EventBroadcaster
	statuses *StatusBroadcaster
	blank    []byte
	eventSeq atomic.Uint64

	httpServer *http.Server
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

var _ monitor.Publisher = (*Server)(nil)

// NewServer returns a dashboard server. hub and m may be nil.
func NewServer(cfg Config, provider StatusProvider, hub *notify.Hub, m *metrics.Metrics) (*Server, error) {
	if provider == nil {
		return nil, errors.New("status provider is required")
	}
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.New()
	}

	blank, err := overlay.Blank(cfg.FrameWidth, cfg.FrameHeight)
	if err != nil {
		return nil, fmt.Errorf("render blank frame: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		metrics:  m,
		frames:   NewFrameBroadcaster(),
		events:   NewEventBroadcaster("EventBroadcaster"),
		statuses: NewStatusBroadcaster(provider, cfg.StatusInterval),
		blank:    blank,
		ctx:      ctx,
		cancel:   cancel,
	}
	if hub != nil {
		hub.OnConnect(func() { m.TotalClients.Add(1) })
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.statuses.Run(ctx)
	}()
	return s, nil
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	if s.cfg.AssetsDir != "" {
		r.Handle("/assets/*", http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	}
	r.Get("/healthz", s.handleHealth)
	r.Get("/stream", s.handleStream)
	r.Get("/snapshot.jpg", s.handleSnapshot)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/status/stream", s.handleStatusStream)
		r.Get("/events", s.handleEvents)
		r.Get("/events/stream", s.handleEventsStream)
	})
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// requestLogger logs completed requests at debug level through the module logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP", "%s %s -> %d (%dB, %s) [%s]",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(),
			time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
	})
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger.Info("WebMonitor", "Dashboard listening on http://%s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebMonitor", "Server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown closes every stream and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.frames.Stop()
	s.events.Stop()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// PublishFrame hands an annotated frame to the MJPEG clients.
func (s *Server) PublishFrame(jpeg []byte) {
	s.frames.Publish(jpeg)
}

// PublishEvent pushes an alerted event to the event stream clients.
func (s *Server) PublishEvent(ev alert.Event) {
	event, err := serializeEvent(s.eventSeq.Add(1), ev)
	if err != nil {
		logger.Error("WebMonitor", "Serialize event: %v", err)
		return
	}
	s.events.Broadcast(event)
}

// trackClient counts a streaming client until the returned func is called.
func (s *Server) trackClient() func() {
	s.metrics.ActiveClients.Add(1)
	s.metrics.TotalClients.Add(1)
	return func() { s.metrics.ActiveClients.Add(^uint64(0)) }
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.provider.Status()
	writeJSON(w, map[string]any{
		"ok":         true,
		"running":    st.Running,
		"session_id": st.SessionID,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	defer s.trackClient()()

	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	streamMJPEGFromChannel(w, r, frameCh, s.blank, s.cfg.FrameTimeout)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, ok := s.frames.Latest()
	if !ok {
		data = s.blank
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":        s.provider.Status(),
		"stream":        map[string]any{"clients": s.frames.ClientCount(), "dropped": s.frames.Dropped()},
		"event_clients": s.events.ClientCount(),
		"timestamp":     float64(time.Now().UnixMilli()) / 1000,
	})
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	defer s.trackClient()()

	id, eventCh := s.statuses.Subscribe()
	defer s.statuses.Unsubscribe(id)

	first, err := serializeStatus(s.provider.Status())
	if err != nil {
		writeJSONWithStatus(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	streamEventsFromChannel(w, r, eventCh, first, wantsProtobuf(r), s.cfg.KeepAlive)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	st := s.provider.Status()
	writeJSON(w, map[string]any{
		"events": st.Recent,
		"counts": st.AlertCounts,
	})
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	defer s.trackClient()()

	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	streamEventsFromChannel(w, r, eventCh, nil, wantsProtobuf(r), s.cfg.KeepAlive)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
