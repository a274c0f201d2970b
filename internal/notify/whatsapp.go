package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/dj-oyu/class-monitor/internal/config"
	"github.com/dj-oyu/class-monitor/internal/logger"
)

const whatsappPrefix = "whatsapp:"

// messageCreator is the part of the Twilio REST API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// WhatsApp sends messages through the Twilio WhatsApp sandbox or sender.
type WhatsApp struct {
	from string
	to   string
	api  messageCreator
}

// NewWhatsApp builds a Twilio-backed sender from cfg.
func NewWhatsApp(cfg config.WhatsAppConfig) (*WhatsApp, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("whatsapp: %w", ErrMissingCredentials)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newWhatsApp(cfg.From, cfg.To, client.Api), nil
}

func newWhatsApp(from, to string, api messageCreator) *WhatsApp {
	return &WhatsApp{
		from: WhatsAppAddress(from),
		to:   WhatsAppAddress(to),
		api:  api,
	}
}

// WhatsAppAddress adds the "whatsapp:" scheme to a bare phone number.
func WhatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if number == "" || strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Send posts body (and mediaURL when not empty) and returns the message SID.
func (w *WhatsApp) Send(ctx context.Context, body, mediaURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(w.from)
	params.SetTo(w.to)
	params.SetBody(body)
	if mediaURL != "" {
		params.SetMediaUrl([]string{mediaURL})
	}

	resp, err := w.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("whatsapp send: %w", err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	logger.Info("WhatsApp", "Message sent to %s (sid=%s)", w.to, sid)
	return sid, nil
}

// Notify sends the alert text.
func (w *WhatsApp) Notify(ctx context.Context, a Alert) error {
	_, err := w.Send(ctx, AlertMessage(a), "")
	return err
}
