package notification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nmbp/pledge_api/internal/logging"
)

const defaultGatewayTimeout = 10 * time.Second

// GatewayConfig holds credentials for a DLT-compliant HTTP SMS gateway.
type GatewayConfig struct {
	URL        string
	Username   string
	Password   string
	SenderID   string
	TemplateID string
	EntityID   string
	Key        string
	Timeout    time.Duration
}

// GatewayNotifier posts SMS messages to an HTTP gateway as a form.
type GatewayNotifier struct {
	cfg    GatewayConfig
	client *http.Client
	logger *slog.Logger
}

// NewGatewayNotifier builds a gateway notifier.
func NewGatewayNotifier(cfg GatewayConfig, logger *slog.Logger) *GatewayNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGatewayTimeout
	}
	return &GatewayNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Send delivers one SMS. The gateway answers 2xx even for rejected messages
// and signals them with a body starting with "4".
func (n *GatewayNotifier) Send(ctx context.Context, message Message) error {
	if n.cfg.URL == "" {
		return fmt.Errorf("%w: gateway url not configured", ErrDeliveryFailed)
	}
	start := time.Now()

	form := url.Values{}
	form.Set("username", n.cfg.Username)
	form.Set("password", n.cfg.Password)
	form.Set("smsservicetype", "singlemsg")
	form.Set("senderid", n.cfg.SenderID)
	form.Set("mobileno", message.Destination)
	form.Set("content", message.Body)
	form.Set("templateid", n.cfg.TemplateID)
	form.Set("entityid", n.cfg.EntityID)
	form.Set("key", n.cfg.Key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	reply := strings.TrimSpace(string(raw))

	attrs := []any{
		slog.String("kind", message.Kind),
		slog.String("destination", logging.MaskPhone(message.Destination)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || reply == "" || strings.HasPrefix(reply, "4") {
		if n.logger != nil {
			n.logger.Warn("sms gateway rejected message", append(attrs, slog.String("reply", reply))...)
		}
		return fmt.Errorf("%w: gateway status %d reply %q", ErrDeliveryFailed, resp.StatusCode, reply)
	}
	if n.logger != nil {
		n.logger.Info("sms sent", attrs...)
	}
	return nil
}
