package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
	"github.com/dj-oyu/class-monitor/internal/config"
	"github.com/dj-oyu/class-monitor/internal/notify"
	"github.com/dj-oyu/class-monitor/internal/report"
	"github.com/dj-oyu/class-monitor/internal/store"
	"github.com/dj-oyu/class-monitor/pkg/types"
)

var credentialEnv = []string{
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_PHONE_NUMBER", "RECIPIENT_PHONE_NUMBER",
	"SENDER_EMAIL", "SENDER_PASSWORD", "RECEIVER_EMAIL", "PUBLIC_PDF_URL",
	"CLASSMON_STUDENT", "CLASSMON_SIDECAR_URL",
}

type testEnv struct {
	dir        string
	configPath string
	dbPath     string
}

func newTestEnv(t *testing.T, extraYAML string) *testEnv {
	t.Helper()
	for _, key := range credentialEnv {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "classmon.yaml"),
		dbPath:     filepath.Join(dir, "classmon.db"),
	}
	yaml := fmt.Sprintf(`student: Alice
store:
  db_path: %s
report:
  output_dir: %s
logging:
  level: silent
  color: false
%s`, env.dbPath, dir, extraYAML)
	require.NoError(t, os.WriteFile(env.configPath, []byte(yaml), 0644))
	return env
}

func (e *testEnv) execute(args ...string) (string, error) {
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append(args,
		"--config", e.configPath,
		"--env-file", filepath.Join(e.dir, "missing.env"),
		"--no-color"))
	err := root.Execute()
	return buf.String(), err
}

func (e *testEnv) seedSession(t *testing.T, student string, labels ...behavior.Label) string {
	t.Helper()
	st, err := store.Open(e.dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local)
	sess, err := st.CreateSession(ctx, student, start)
	require.NoError(t, err)
	for i, label := range labels {
		ev := alert.Event{Time: start.Add(time.Duration(i+1) * time.Minute), Label: label}
		require.NoError(t, st.AppendEvent(ctx, sess.ID, ev))
	}
	require.NoError(t, st.EndSession(ctx, sess.ID, start.Add(time.Hour)))
	return sess.ID
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "classmon", root.Use)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "detect", "report", "whatsapp", "email", "sessions", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionCommand(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.execute("version")
	require.NoError(t, err)
	assert.Equal(t, "classmon dev\n", out)
}

func TestInvalidLogLevel(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.execute("sessions", "--log-level", "loud")
	assert.Error(t, err)
}

func TestSessionsEmpty(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.execute("sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions stored")
}

func TestSessionsList(t *testing.T) {
	env := newTestEnv(t, "")
	id := env.seedSession(t, "Bob", behavior.Sleeping, behavior.Eating)

	out, err := env.execute("sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "1 session(s)")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Bob")
	assert.Contains(t, out, "2025-03-01 09:00:00")
	assert.Contains(t, out, "2025-03-01 10:00:00")
}

func TestReportFromRows(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.execute("report",
		"--student", "Student_001",
		"--row", "Sleep Detections=3",
		"--row", "Engagement Level (%)=78")
	require.NoError(t, err)

	path := filepath.Join(env.dir, "student_001_behavior_report.pdf")
	assert.Contains(t, out, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
}

func TestReportInvalidRow(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.execute("report", "--row", "no separator")
	assert.Error(t, err)
}

func TestReportFromLatestSession(t *testing.T) {
	env := newTestEnv(t, "")
	env.seedSession(t, "Bob", behavior.Sleeping)

	out, err := env.execute("report")
	require.NoError(t, err)
	path := filepath.Join(env.dir, "bob_behavior_report.pdf")
	assert.Contains(t, out, path)
	assert.FileExists(t, path)
}

func TestStoredSessionUsesFrameTally(t *testing.T) {
	env := newTestEnv(t, "")
	id := env.seedSession(t, "Bob", behavior.UsingPhone)

	tally := behavior.NewTally(0)
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local)
	for i := 0; i <= 600; i++ {
		tally.Observe(behavior.UsingPhone, start.Add(time.Duration(i)*time.Second))
	}
	st, err := store.Open(env.dbPath)
	require.NoError(t, err)
	require.NoError(t, st.SaveSummary(context.Background(), id, tally.Summary()))
	require.NoError(t, st.Close())

	cfg := config.DefaultConfig()
	cfg.Store.DBPath = env.dbPath
	source := eventSource{sessionID: id}
	data, err := source.load(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "Bob", data.student)
	require.NotNil(t, data.summary)

	rows := data.rows()
	assert.Contains(t, rows, report.Row{Key: "Phone Usage Duration (minutes)", Value: "10.0"})
	assert.Contains(t, rows, report.Row{Key: "Engagement Level (%)", Value: "0"})
}

func TestLogSessionFallsBackToAlertCounts(t *testing.T) {
	env := newTestEnv(t, "")
	logPath := filepath.Join(env.dir, "behavior_log.txt")
	require.NoError(t, os.WriteFile(logPath, []byte(
		"2025-03-01 09:00:01: Sleeping\n2025-03-01 09:05:00: Sleeping\n"), 0644))

	source := eventSource{logPath: logPath}
	data, err := source.load(context.Background(), config.DefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, data.summary)
	assert.Equal(t, "Student", data.student)
	assert.Contains(t, data.rows(), report.Row{Key: "Sleep Detections", Value: "2"})
	assert.Contains(t, data.rows(), report.Row{Key: "Engagement Level (%)", Value: "n/a"})
}

func TestReportFromLog(t *testing.T) {
	env := newTestEnv(t, "")
	logPath := filepath.Join(env.dir, "behavior_log.txt")
	require.NoError(t, os.WriteFile(logPath, []byte(
		"2025-03-01 09:00:01: Sleeping\ngarbage\n2025-03-01 09:05:00: Using Phone\n"), 0644))

	out := filepath.Join(env.dir, "custom.pdf")
	_, err := env.execute("report", "--log", logPath, "-o", out)
	require.NoError(t, err)
	assert.FileExists(t, out)
}

func TestReportWithoutSession(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.execute("report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stored session")
}

func TestReportWhatsAppNeedsCredentials(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.execute("report", "--row", "Sleep Detections=1", "--whatsapp")
	assert.ErrorIs(t, err, notify.ErrMissingCredentials)
	assert.FileExists(t, filepath.Join(env.dir, "alice_behavior_report.pdf"))
}

func TestWhatsAppRequiresContent(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.execute("whatsapp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to send")
}

func TestWhatsAppNeedsCredentials(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.execute("whatsapp", "--body", "hello")
	assert.ErrorIs(t, err, notify.ErrMissingCredentials)
}

func TestEmailNeedsCredentials(t *testing.T) {
	env := newTestEnv(t, "")
	env.seedSession(t, "Bob", behavior.Sleeping)

	_, err := env.execute("email")
	assert.ErrorIs(t, err, notify.ErrMissingCredentials)
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 24)), nil))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func newSidecar(t *testing.T, obs types.Observation) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/perceive", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(obs)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestDetectPrintsBehavior(t *testing.T) {
	env := newTestEnv(t, "")
	sidecar := newSidecar(t, types.Observation{
		Objects: []types.Detection{{ClassName: "cell phone", Confidence: 0.9, BBox: types.BoundingBox{X: 2, Y: 2, W: 10, H: 10}}},
	})
	imagePath := filepath.Join(env.dir, "desk.jpg")
	writeJPEG(t, imagePath)
	annotated := filepath.Join(env.dir, "annotated.jpg")

	out, err := env.execute("detect", "--image", imagePath, "--sidecar", sidecar.URL, "--preset", "live", "--annotate", annotated)
	require.NoError(t, err)
	assert.Equal(t, "Detected behavior: Using Phone\n", out)

	data, err := os.ReadFile(annotated)
	require.NoError(t, err)
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestDetectStandaloneIgnoresObjects(t *testing.T) {
	env := newTestEnv(t, "")
	sidecar := newSidecar(t, types.Observation{
		Objects: []types.Detection{{ClassName: "cell phone", Confidence: 0.9, BBox: types.BoundingBox{X: 2, Y: 2, W: 10, H: 10}}},
	})
	imagePath := filepath.Join(env.dir, "desk.jpg")
	writeJPEG(t, imagePath)

	out, err := env.execute("detect", "--image", imagePath, "--sidecar", sidecar.URL)
	require.NoError(t, err)
	assert.Equal(t, "Detected behavior: Normal\n", out)
}

func TestDetectJSON(t *testing.T) {
	env := newTestEnv(t, "")
	sidecar := newSidecar(t, types.Observation{})
	imagePath := filepath.Join(env.dir, "desk.jpg")
	writeJPEG(t, imagePath)

	out, err := env.execute("detect", "--image", imagePath, "--sidecar", sidecar.URL, "--json")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "Normal", result["behavior"])
	assert.Equal(t, float64(0), result["faces"])
}

func TestDetectUnknownPreset(t *testing.T) {
	env := newTestEnv(t, "")
	imagePath := filepath.Join(env.dir, "desk.jpg")
	writeJPEG(t, imagePath)

	_, err := env.execute("detect", "--image", imagePath, "--preset", "fast")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown preset")
}

func TestDetectRequiresImage(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.execute("detect")
	assert.Error(t, err)
}

func TestBuildNotifiersSkipsUnconfiguredChannels(t *testing.T) {
	cfg := config.DefaultConfig()
	hub := notify.NewHub()

	notifiers, mailer := buildNotifiers(cfg, hub)
	require.Len(t, notifiers, 1)
	assert.Equal(t, "websocket", notifiers[0].Name())
	assert.Nil(t, mailer)
}

func TestBuildNotifiersWithCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Notify.WhatsApp = config.WhatsAppConfig{
		Enabled: true, AccountSID: "AC123", AuthToken: "token", From: "+14155238886", To: "+15550001111",
	}
	cfg.Notify.Email.Sender = "monitor@example.com"
	cfg.Notify.Email.Password = "secret"
	cfg.Notify.Email.Receiver = "parent@example.com"

	notifiers, mailer := buildNotifiers(cfg, nil)
	require.Len(t, notifiers, 1)
	assert.Equal(t, "whatsapp", notifiers[0].Name())
	assert.NotNil(t, mailer)
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	cmd := NewRunCommand(&globalOptions{})
	require.NoError(t, cmd.Flags().Parse([]string{
		"--student", "Carol", "--mjpeg-url", "http://cam/stream", "--headless",
		"--no-web", "--interval", "30s", "--record",
	}))

	opts := &runOptions{}
	flags := cmd.Flags()
	opts.student, _ = flags.GetString("student")
	opts.mjpegURL, _ = flags.GetString("mjpeg-url")
	opts.headless, _ = flags.GetBool("headless")
	opts.noWeb, _ = flags.GetBool("no-web")
	opts.interval, _ = flags.GetDuration("interval")
	opts.record, _ = flags.GetBool("record")

	cfg := config.DefaultConfig()
	opts.apply(cmd, cfg)
	assert.Equal(t, "Carol", cfg.Student)
	assert.Equal(t, "http://cam/stream", cfg.Camera.MJPEGURL)
	assert.False(t, cfg.Camera.Preview)
	assert.False(t, cfg.Web.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Alert.Interval)
	assert.True(t, cfg.Recorder.Enabled)
	assert.Equal(t, 0, cfg.Camera.Device, "unchanged flags keep config values")
}
