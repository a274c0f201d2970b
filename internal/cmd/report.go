package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/class-monitor/internal/logger"
	"github.com/dj-oyu/class-monitor/internal/notify"
	"github.com/dj-oyu/class-monitor/internal/report"
)

type reportOptions struct {
	source   eventSource
	rows     []string
	output   string
	whatsapp bool
	mediaURL string
}

// NewReportCommand creates the 'classmon report' command
func NewReportCommand(g *globalOptions) *cobra.Command {
	opts := &reportOptions{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a behavior summary PDF",
		Long: `Generate a one-page summary PDF for a student. The figures come from
explicit --row key=value pairs, a behavior log file (--log), or the
latest stored session.

With --whatsapp the student is notified; Twilio needs a public URL for
the PDF, taken from --media-url or PUBLIC_PDF_URL. Without one only the
text is sent.`,
		Example: `  classmon report
  classmon report --log behavior_log.txt --student Alice
  classmon report --student Student_001 --row "Sleep Detections=3" --row "Engagement Level (%)=78"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			var student string
			var rows []report.Row
			if len(opts.rows) > 0 {
				for _, raw := range opts.rows {
					row, err := report.ParseRow(raw)
					if err != nil {
						return err
					}
					rows = append(rows, row)
				}
				student = opts.source.student
				if student == "" {
					student = cfg.Student
				}
			} else {
				data, err := opts.source.load(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				student = data.student
				rows = data.rows()
			}

			output := opts.output
			if output == "" {
				output = filepath.Join(cfg.Report.OutputDir, report.SummaryFileName(student))
			}
			if err := report.SummaryReport(output, student, rows, time.Now()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			green.Fprintf(out, "Report written to %s\n", output)

			if !opts.whatsapp {
				return nil
			}
			wa, err := notify.NewWhatsApp(cfg.Notify.WhatsApp)
			if err != nil {
				return err
			}
			mediaURL := opts.mediaURL
			if mediaURL == "" {
				mediaURL = cfg.Report.PublicPDFURL
			}
			if mediaURL == "" {
				logger.Warn("Report", "No public PDF URL configured, sending text only")
			}
			sid, err := wa.Send(cmd.Context(), fmt.Sprintf("Hello %s, here is your behavior report.", student), mediaURL)
			if err != nil {
				red.Fprintf(out, "Failed to send WhatsApp message: %v\n", err)
				return err
			}
			fmt.Fprintf(out, "WhatsApp message sent successfully. SID: %s\n", sid)
			return nil
		},
	}

	opts.source.register(cmd)
	flags := cmd.Flags()
	flags.StringArrayVar(&opts.rows, "row", nil, "Summary row as key=value (repeatable)")
	flags.StringVarP(&opts.output, "output", "o", "", "PDF path (default: <output_dir>/<student>_behavior_report.pdf)")
	flags.BoolVar(&opts.whatsapp, "whatsapp", false, "Send the report over WhatsApp")
	flags.StringVar(&opts.mediaURL, "media-url", "", "Public URL of the PDF for the WhatsApp message")

	return cmd
}
