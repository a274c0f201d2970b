// Package notify delivers behavior alerts to people: WhatsApp messages,
// emailed PDF reports and the dashboard websocket.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
)

// ErrMissingCredentials is returned when a channel is used without its
// credentials configured.
var ErrMissingCredentials = errors.New("missing credentials")

// Alert is one rate-limited behavior change of a student.
type Alert struct {
	Student   string         `json:"student"`
	Label     behavior.Label `json:"behavior"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertMessage renders the human text of a, e.g.
// "Alice is Sleeping at 2025-03-01 09:00:00."
func AlertMessage(a Alert) string {
	return fmt.Sprintf("%s is %s at %s.", a.Student, a.Label, a.Timestamp.Format(alert.TimeLayout))
}

// Notifier is one alert channel.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
	Name() string
}
