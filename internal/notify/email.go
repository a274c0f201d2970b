package notify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/mail.v2"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/config"
	"github.com/dj-oyu/class-monitor/internal/logger"
)

// mailSender is satisfied by *mail.Dialer.
type mailSender interface {
	DialAndSend(m ...*mail.Message) error
}

// Report is an emailed PDF report.
type Report struct {
	Student    string
	Time       time.Time
	Body       string // markdown
	Attachment string // PDF path
}

// Subject is the email subject of r.
func (r Report) Subject() string {
	return fmt.Sprintf("[Alert] Student Behavior Report – %s – %s", r.Student, r.Time.Format(alert.TimeLayout))
}

// Email sends reports over SMTP. Port 465 uses implicit TLS.
type Email struct {
	from   string
	to     string
	sender mailSender
}

// NewEmail builds an SMTP sender from cfg.
func NewEmail(cfg config.EmailConfig, timeout time.Duration) (*Email, error) {
	if !cfg.Configured() || cfg.Password == "" {
		return nil, fmt.Errorf("email: %w", ErrMissingCredentials)
	}
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Sender, cfg.Password)
	d.SSL = cfg.Port == 465
	if timeout > 0 {
		d.Timeout = timeout
	}
	return newEmail(cfg.Sender, cfg.Receiver, d), nil
}

func newEmail(from, to string, sender mailSender) *Email {
	return &Email{from: from, to: to, sender: sender}
}

// BuildMessage assembles the MIME message for r: the body as plain text,
// a goldmark-rendered HTML alternative and the PDF attachment.
func (e *Email) BuildMessage(r Report) (*mail.Message, error) {
	if r.Attachment != "" {
		if _, err := os.Stat(r.Attachment); err != nil {
			return nil, fmt.Errorf("attachment: %w", err)
		}
	}

	src := []byte(r.Body)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))
	var html bytes.Buffer
	if err := md.Renderer().Render(&html, src, doc); err != nil {
		return nil, fmt.Errorf("render email body: %w", err)
	}

	m := mail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.to)
	m.SetHeader("Subject", r.Subject())
	m.SetBody("text/plain", plainText(doc, src))
	m.AddAlternative("text/html", html.String())
	if r.Attachment != "" {
		m.Attach(r.Attachment)
	}
	return m, nil
}

// SendReport emails r.
func (e *Email) SendReport(ctx context.Context, r Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := e.BuildMessage(r)
	if err != nil {
		return err
	}
	if err := e.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	logger.Info("Email", "Report for %s sent to %s", r.Student, e.to)
	return nil
}

// plainText flattens a parsed markdown body: inline markup is dropped and
// blocks are separated by a blank line.
func plainText(doc ast.Node, src []byte) string {
	var buf strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				buf.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String()) + "\n"
}
