package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/class-monitor/internal/config"
	"github.com/dj-oyu/class-monitor/internal/logger"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logFile    string
	noColor    bool
}

// NewRootCommand creates and returns the root cobra command for classmon
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "classmon",
		Short: "Webcam-based student behavior monitor",
		Long: `classmon watches a student through a webcam, classifies each frame as
Normal, Sleeping, Using Phone or Eating, and raises rate-limited alerts
over WhatsApp and a live dashboard. Every session is stored so PDF
reports can be generated and emailed afterwards.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.DefaultPath, "Path to the YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Path to the .env file with credentials")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error, silent); overrides the config")
	flags.StringVar(&opts.logFile, "log-file", "", "Also write logs to this file")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDetectCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewWhatsAppCommand(opts))
	cmd.AddCommand(NewEmailCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// load reads the configuration and initializes the global logger from it.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFile != "" {
		cfg.Logging.File = o.logFile
	}
	if o.noColor {
		cfg.Logging.Color = false
	}
	if err := initLogger(cfg.Logging); err != nil {
		return nil, err
	}
	setColor(cfg.Logging.Color)
	return cfg, nil
}

func initLogger(lc config.LoggingConfig) error {
	level, err := logger.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	logger.Init(level, os.Stderr, lc.Color)
	logger.SetLevel(level)
	if lc.File != "" {
		if err := logger.Default().AttachFile(lc.File); err != nil {
			return err
		}
	}
	return nil
}

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the classmon version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "classmon %s\n", Version)
		},
	}
}
