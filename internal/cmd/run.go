package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
	"github.com/dj-oyu/class-monitor/internal/camera"
	"github.com/dj-oyu/class-monitor/internal/camera/opencv"
	"github.com/dj-oyu/class-monitor/internal/config"
	"github.com/dj-oyu/class-monitor/internal/logger"
	"github.com/dj-oyu/class-monitor/internal/metrics"
	"github.com/dj-oyu/class-monitor/internal/monitor"
	"github.com/dj-oyu/class-monitor/internal/notify"
	"github.com/dj-oyu/class-monitor/internal/perception"
	"github.com/dj-oyu/class-monitor/internal/recorder"
	"github.com/dj-oyu/class-monitor/internal/store"
	"github.com/dj-oyu/class-monitor/internal/webmonitor"
)

type runOptions struct {
	student  string
	device   int
	mjpegURL string
	sidecar  string
	headless bool
	web      string
	noWeb    bool
	interval time.Duration
	record   bool
	keepPDF  bool
}

// NewRunCommand creates the 'classmon run' command
func NewRunCommand(g *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Monitor a student live from the webcam",
		Long: `Run the live monitor: read frames from the webcam (or an MJPEG URL),
classify each frame, raise rate-limited alerts over WhatsApp and the
dashboard, and email the session report when the run ends.

Press 'q' in the preview window or Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			return runLive(cmd.Context(), cfg, opts.headless, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.student, "student", "", "Student name (overrides config)")
	flags.IntVar(&opts.device, "device", 0, "Webcam device index")
	flags.StringVar(&opts.mjpegURL, "mjpeg-url", "", "Read frames from an MJPEG HTTP stream instead of a webcam")
	flags.StringVar(&opts.sidecar, "sidecar", "", "Perception sidecar base URL")
	flags.BoolVar(&opts.headless, "headless", false, "Do not open the preview window")
	flags.StringVar(&opts.web, "web", "", "Dashboard listen address")
	flags.BoolVar(&opts.noWeb, "no-web", false, "Disable the dashboard")
	flags.DurationVar(&opts.interval, "interval", 0, "Minimum time between alerts of the same behavior")
	flags.BoolVar(&opts.record, "record", false, "Save a JPEG snapshot of every alerted frame")
	flags.BoolVar(&opts.keepPDF, "keep-pdf", false, "Keep the session PDF after emailing it")

	return cmd
}

// apply copies explicitly set flags over cfg.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("student") {
		cfg.Student = o.student
	}
	if flags.Changed("device") {
		cfg.Camera.Device = o.device
	}
	if flags.Changed("mjpeg-url") {
		cfg.Camera.MJPEGURL = o.mjpegURL
	}
	if flags.Changed("sidecar") {
		cfg.Perception.URL = o.sidecar
	}
	if o.headless {
		cfg.Camera.Preview = false
	}
	if flags.Changed("web") {
		cfg.Web.Enabled = true
		cfg.Web.Addr = o.web
	}
	if o.noWeb {
		cfg.Web.Enabled = false
	}
	if flags.Changed("interval") {
		cfg.Alert.Interval = o.interval
	}
	if o.record {
		cfg.Recorder.Enabled = true
	}
	if o.keepPDF {
		cfg.Report.KeepPDF = true
	}
}

func openSource(cc config.CameraConfig) (camera.Source, error) {
	if cc.MJPEGURL != "" {
		logger.Info("Main", "Reading frames from %s", cc.MJPEGURL)
		return camera.NewMJPEGSource(cc.MJPEGURL, &http.Client{}), nil
	}
	logger.Info("Main", "Opening webcam %d (%dx%d)", cc.Device, cc.Width, cc.Height)
	return opencv.OpenWebcam(cc.Device, cc.Width, cc.Height)
}

// buildNotifiers returns the alert channels that are configured. A channel
// with missing credentials is skipped with a warning.
func buildNotifiers(cfg *config.Config, hub *notify.Hub) ([]notify.Notifier, monitor.ReportMailer) {
	var notifiers []notify.Notifier
	if hub != nil {
		notifiers = append(notifiers, hub)
	}
	if cfg.Notify.WhatsApp.Enabled {
		wa, err := notify.NewWhatsApp(cfg.Notify.WhatsApp)
		if err != nil {
			logger.Warn("Main", "WhatsApp alerts disabled: %v", err)
		} else {
			notifiers = append(notifiers, wa)
		}
	}

	var mailer monitor.ReportMailer
	if cfg.Notify.Email.Enabled {
		email, err := notify.NewEmail(cfg.Notify.Email, cfg.Notify.Timeout)
		if err != nil {
			logger.Warn("Main", "Session report email disabled: %v", err)
		} else {
			mailer = email
		}
	}
	return notifiers, mailer
}

func runLive(ctx context.Context, cfg *config.Config, headless bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	source, err := openSource(cfg.Camera)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer source.Close()

	perceiver := perception.NewClient(cfg.Perception)
	defer perceiver.Close()
	if !perceiver.IsAvailable(ctx) {
		logger.Warn("Main", "Perception sidecar %s is not reachable; frames are skipped until it is", cfg.Perception.URL)
	}

	classifier, err := behavior.NewClassifier(cfg.Classifier)
	if err != nil {
		return err
	}

	logWriter, err := alert.NewLogWriter(cfg.Alert.LogPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	hub := notify.NewHub()
	notifiers, mailer := buildNotifiers(cfg, hub)

	deps := monitor.Deps{
		Source:     source,
		Perceiver:  perceiver,
		Classifier: classifier,
		Gate:       alert.NewGate(cfg.Alert.Interval, cfg.Alert.ResetOnNormal),
		Events:     alert.NewEventLog(),
		Tally:      behavior.NewTally(behavior.DefaultMaxGap),
		LogWriter:  logWriter,
		Store:      st,
		Recorder:   recorder.NewSnapshotRecorder(cfg.Recorder.Dir, cfg.Recorder.Enabled),
		Dispatcher: notify.NewDispatcher(cfg.Notify.QueueSize, cfg.Notify.Timeout, m, notifiers...),
		Mailer:     mailer,
		Metrics:    m,
	}
	if cfg.Camera.Preview && !headless {
		deps.Preview = opencv.NewWindow("Behavior Monitor")
	}

	var mon *monitor.Monitor
	var web *webmonitor.Server
	if cfg.Web.Enabled {
		wcfg := webmonitor.DefaultConfig()
		wcfg.Addr = cfg.Web.Addr
		wcfg.FrameWidth, wcfg.FrameHeight = cfg.Camera.Width, cfg.Camera.Height
		web, err = webmonitor.NewServer(wcfg, webmonitor.StatusProviderFunc(func() monitor.Status {
			return mon.Status()
		}), hub, m)
		if err != nil {
			return err
		}
		deps.Publisher = web
	}

	mon, err = monitor.New(monitor.OptionsFromConfig(cfg), deps)
	if err != nil {
		return err
	}

	// The hub outlives the frame loop so the final alerts still reach it.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	if web != nil {
		if err := web.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := web.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Main", "Dashboard shutdown: %v", err)
			}
		}()
		fmt.Fprintf(out, "Dashboard: http://%s\n", web.Addr())
	}

	runErr := mon.Run(ctx)
	printSessionSummary(out, mon)
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func printSessionSummary(w io.Writer, mon *monitor.Monitor) {
	st := mon.Status()
	cyan.Fprintf(w, "\n=== Session %s: %s ===\n", st.SessionID, st.Student)
	fmt.Fprintf(w, "Frames classified: %d\n", st.Summary.TotalFrames)
	fmt.Fprintf(w, "Engagement: %.0f%%\n", st.Engagement)
	for _, label := range behavior.Labels() {
		if label == behavior.Normal {
			continue
		}
		fmt.Fprintf(w, "  ")
		printLabel(w, label)
		fmt.Fprintf(w, " alerts: %d\n", st.AlertCounts[label])
	}
	if path := mon.ReportPath(); path != "" {
		gray.Fprintf(w, "Report kept at %s\n", path)
	}
}
