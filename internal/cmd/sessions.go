package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
	"github.com/dj-oyu/class-monitor/internal/config"
	"github.com/dj-oyu/class-monitor/internal/logger"
	"github.com/dj-oyu/class-monitor/internal/report"
	"github.com/dj-oyu/class-monitor/internal/store"
)

// eventSource selects where report commands read alerted events from.
type eventSource struct {
	sessionID string
	logPath   string
	student   string
}

func (s *eventSource) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&s.sessionID, "session", "", "Stored session id (default: latest session)")
	flags.StringVar(&s.logPath, "log", "", "Read events from a behavior log file instead of the session store")
	flags.StringVar(&s.student, "student", "", "Student name (filters the latest session, names log-based reports)")
}

// sessionData is what report commands render: the student, the alerted
// events and, for stored sessions, the frame tally.
type sessionData struct {
	student string
	events  []alert.Event
	summary *behavior.Summary
}

// rows returns the summary report rows, preferring the stored tally over
// figures derived from alerts alone.
func (d sessionData) rows() []report.Row {
	if d.summary != nil {
		return report.SummaryRows(*d.summary)
	}
	return report.SummaryRows(report.EventSummary(d.events))
}

// load returns the session selected by s.
func (s *eventSource) load(ctx context.Context, cfg *config.Config) (sessionData, error) {
	if s.logPath != "" {
		events, skipped, err := alert.ReadLog(s.logPath)
		if err != nil {
			return sessionData{}, err
		}
		if skipped > 0 {
			logger.Warn("Report", "Skipped %d unparseable lines in %s", skipped, s.logPath)
		}
		student := s.student
		if student == "" {
			student = cfg.Student
		}
		return sessionData{student: student, events: events}, nil
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return sessionData{}, fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	var sess store.Session
	if s.sessionID != "" {
		sess, err = st.GetSession(ctx, s.sessionID)
	} else {
		sess, err = st.LatestSession(ctx, s.student)
	}
	if errors.Is(err, store.ErrNotFound) {
		return sessionData{}, fmt.Errorf("no stored session found in %s", cfg.Store.DBPath)
	}
	if err != nil {
		return sessionData{}, err
	}

	events, err := st.SessionEvents(ctx, sess.ID)
	if err != nil {
		return sessionData{}, err
	}
	data := sessionData{student: sess.Student, events: events}

	summary, err := st.SessionSummary(ctx, sess.ID)
	switch {
	case err == nil:
		data.summary = &summary
	case !errors.Is(err, store.ErrNotFound):
		return sessionData{}, err
	}
	return data, nil
}

// NewSessionsCommand creates the 'classmon sessions' command
func NewSessionsCommand(g *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored monitoring sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.DBPath)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}
			defer st.Close()

			ctx := cmd.Context()
			sessions, err := st.ListSessions(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintf(out, "No sessions stored in %s\n", cfg.Store.DBPath)
				return nil
			}

			cyan.Fprintf(out, "=== %d session(s) in %s ===\n", len(sessions), cfg.Store.DBPath)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTUDENT\tSTARTED\tENDED\tALERTS")
			for _, sess := range sessions {
				events, err := st.SessionEvents(ctx, sess.ID)
				if err != nil {
					return err
				}
				ended := "running"
				if sess.EndedAt != nil {
					ended = sess.EndedAt.Format(alert.TimeLayout)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
					sess.ID, sess.Student, sess.StartedAt.Format(alert.TimeLayout), ended, len(events))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions to list")
	return cmd
}
