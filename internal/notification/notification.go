package notification

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nmbp/pledge_api/internal/logging"
)

const (
	// KindRegistrationOTP marks a one-time code sent during pledge registration.
	KindRegistrationOTP = "registration_otp"
)

// ErrDeliveryFailed is wrapped by notifiers when the channel rejects a message.
var ErrDeliveryFailed = errors.New("notification: delivery failed")

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems. Implementations do
// not retry.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger instead of a real channel.
// Bodies carry one-time codes, so they are only emitted at debug level.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", logging.MaskPhone(message.Destination))
	n.logger.DebugContext(ctx, "notification body", "kind", message.Kind, "body", message.Body)
	return nil
}
