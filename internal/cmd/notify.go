package cmd

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/class-monitor/internal/notify"
	"github.com/dj-oyu/class-monitor/internal/report"
)

// NewWhatsAppCommand creates the 'classmon whatsapp' command
func NewWhatsAppCommand(g *globalOptions) *cobra.Command {
	var body, mediaURL string

	cmd := &cobra.Command{
		Use:   "whatsapp",
		Short: "Send a WhatsApp message through Twilio",
		Long: `Send a text and/or media message to RECIPIENT_PHONE_NUMBER. Media
must be reachable at a public URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if body == "" && mediaURL == "" {
				return errors.New("nothing to send: give --body and/or --media-url")
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			wa, err := notify.NewWhatsApp(cfg.Notify.WhatsApp)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			sid, err := wa.Send(cmd.Context(), body, mediaURL)
			if err != nil {
				red.Fprintf(out, "Failed to send WhatsApp message: %v\n", err)
				return err
			}
			green.Fprintf(out, "WhatsApp message sent. SID: %s\n", sid)
			return nil
		},
	}

	cmd.Flags().StringVar(&body, "body", "", "Message text")
	cmd.Flags().StringVar(&mediaURL, "media-url", "", "Public URL of a media file to attach")
	return cmd
}

// NewEmailCommand creates the 'classmon email' command
func NewEmailCommand(g *globalOptions) *cobra.Command {
	var source eventSource
	var keep bool

	cmd := &cobra.Command{
		Use:   "email",
		Short: "Email the session report PDF",
		Long: `Render the event-by-event session report for the latest stored session
(or --session, or a behavior log via --log) and email it to
RECEIVER_EMAIL. The PDF is removed after sending unless --keep is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			email, err := notify.NewEmail(cfg.Notify.Email, cfg.Notify.Timeout)
			if err != nil {
				return err
			}

			data, err := source.load(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			student := data.student
			now := time.Now()
			path, err := report.SessionReport(cfg.Report.OutputDir, student, data.events, now)
			if err != nil {
				return err
			}
			if !keep && !cfg.Report.KeepPDF {
				defer os.Remove(path)
			}

			out := cmd.OutOrStdout()
			err = email.SendReport(cmd.Context(), notify.Report{
				Student:    student,
				Time:       now,
				Body:       report.EmailBody(student),
				Attachment: path,
			})
			if err != nil {
				red.Fprintf(out, "Failed to send email: %v\n", err)
				return err
			}
			green.Fprintf(out, "Report for %s emailed (%d events)\n", student, len(data.events))
			if keep {
				gray.Fprintf(out, "PDF kept at %s\n", path)
			}
			return nil
		},
	}

	source.register(cmd)
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the PDF after sending")
	return cmd
}
