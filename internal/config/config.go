// Package config loads classmon settings from a YAML file, an optional
// .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "classmon.yaml"

// Config is the full configuration of the monitor
type Config struct {
	Student    string              `yaml:"student"`
	Camera     CameraConfig        `yaml:"camera"`
	Perception PerceptionConfig    `yaml:"perception"`
	Classifier behavior.Thresholds `yaml:"classifier"`
	Alert      AlertConfig         `yaml:"alert"`
	Store      StoreConfig         `yaml:"store"`
	Notify     NotifyConfig        `yaml:"notify"`
	Report     ReportConfig        `yaml:"report"`
	Web        WebConfig           `yaml:"web"`
	Recorder   RecorderConfig      `yaml:"recorder"`
	Logging    LoggingConfig       `yaml:"logging"`
}

// CameraConfig selects the frame source.
type CameraConfig struct {
	Device          int    `yaml:"device"`
	MJPEGURL        string `yaml:"mjpeg_url"`
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
	MaxReadFailures int    `yaml:"max_read_failures"`
	Preview         bool   `yaml:"preview"`
}

// PerceptionConfig points at the landmark/object sidecar.
type PerceptionConfig struct {
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxFaces      int           `yaml:"max_faces"`
	MaxHands      int           `yaml:"max_hands"`
	MinConfidence float64       `yaml:"min_confidence"`
	// HealthRetry is how long to wait before checking a sidecar that
	// failed its health check again.
	HealthRetry   time.Duration `yaml:"health_retry"`
}

type AlertConfig struct {
	Interval      time.Duration `yaml:"interval"`
	LogPath       string        `yaml:"log_path"`
	ResetOnNormal bool          `yaml:"reset_on_normal"`
}

type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// NotifyConfig holds outbound channel settings. Credentials usually come
// from the environment rather than the file.
type NotifyConfig struct {
	QueueSize int            `yaml:"queue_size"`
	Timeout   time.Duration  `yaml:"timeout"`
	WhatsApp  WhatsAppConfig `yaml:"whatsapp"`
	Email     EmailConfig    `yaml:"email"`
}

type WhatsAppConfig struct {
	Enabled    bool   `yaml:"enabled"`
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	To         string `yaml:"to"`
}

// Configured reports whether all Twilio fields are present.
func (w WhatsAppConfig) Configured() bool {
	return w.AccountSID != "" && w.AuthToken != "" && w.From != "" && w.To != ""
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Sender   string `yaml:"sender"`
	Password string `yaml:"password"`
	Receiver string `yaml:"receiver"`
}

// Configured reports whether SMTP can be attempted.
func (e EmailConfig) Configured() bool {
	return e.Host != "" && e.Port > 0 && e.Sender != "" && e.Receiver != ""
}

type ReportConfig struct {
	OutputDir    string `yaml:"output_dir"`
	KeepPDF      bool   `yaml:"keep_pdf"`
	PublicPDFURL string `yaml:"public_pdf_url"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Student: "Student",
		Camera: CameraConfig{
			Device:          0,
			Width:           640,
			Height:          480,
			MaxReadFailures: 30,
			Preview:         true,
		},
		Perception: PerceptionConfig{
			URL:           "http://127.0.0.1:8765",
			Timeout:       5 * time.Second,
			MaxFaces:      1,
			MaxHands:      2,
			MinConfidence: 0.5,
			HealthRetry:   2 * time.Second,
		},
		Classifier: behavior.LivePreset(),
		Alert: AlertConfig{
			Interval: alert.DefaultInterval,
			LogPath:  alert.DefaultLogPath,
		},
		Store: StoreConfig{
			DBPath: "classmon.db",
		},
		Notify: NotifyConfig{
			QueueSize: 16,
			Timeout:   15 * time.Second,
			WhatsApp: WhatsAppConfig{
				Enabled: true,
			},
			Email: EmailConfig{
				Enabled: true,
				Host:    "smtp.gmail.com",
				Port:    465,
			},
		},
		Report: ReportConfig{
			OutputDir: ".",
		},
		Web: WebConfig{
			Enabled: true,
			Addr:    ":8090",
		},
		Recorder: RecorderConfig{
			Enabled: false,
			Dir:     "snapshots",
		},
		Logging: LoggingConfig{
			Level: "info",
			Color: true,
		},
	}
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults; a malformed file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load is LoadConfig followed by LoadDotEnv, ApplyEnv and Validate.
func Load(path, envFile string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads envFile (default ".env") into the process environment
// without overriding variables that are already set. A missing file is fine.
func LoadDotEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

// ApplyEnv overrides credentials and endpoints from environment variables.
// getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Notify.WhatsApp.AccountSID, "TWILIO_ACCOUNT_SID")
	set(&c.Notify.WhatsApp.AuthToken, "TWILIO_AUTH_TOKEN")
	set(&c.Notify.WhatsApp.From, "TWILIO_PHONE_NUMBER")
	set(&c.Notify.WhatsApp.To, "RECIPIENT_PHONE_NUMBER")
	set(&c.Notify.Email.Sender, "SENDER_EMAIL")
	set(&c.Notify.Email.Password, "SENDER_PASSWORD")
	set(&c.Notify.Email.Receiver, "RECEIVER_EMAIL")
	set(&c.Report.PublicPDFURL, "PUBLIC_PDF_URL")
	set(&c.Student, "CLASSMON_STUDENT")
	set(&c.Perception.URL, "CLASSMON_SIDECAR_URL")
}

// Validate checks values that would otherwise fail deep inside the loop.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Student) == "" {
		return fmt.Errorf("student name must not be empty")
	}
	if c.Alert.Interval < 0 {
		return fmt.Errorf("alert.interval must be >= 0, got %s", c.Alert.Interval)
	}
	if c.Camera.MaxReadFailures < 0 {
		return fmt.Errorf("camera.max_read_failures must be >= 0, got %d", c.Camera.MaxReadFailures)
	}
	if c.Perception.HealthRetry < 0 {
		return fmt.Errorf("perception.health_retry must be >= 0, got %s", c.Perception.HealthRetry)
	}
	if c.Notify.QueueSize < 1 {
		return fmt.Errorf("notify.queue_size must be >= 1, got %d", c.Notify.QueueSize)
	}
	if c.Notify.Email.Port < 0 || c.Notify.Email.Port > 65535 {
		return fmt.Errorf("notify.email.port out of range: %d", c.Notify.Email.Port)
	}
	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	return nil
}
