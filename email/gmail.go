package email

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"moddb-notifier/pkg/notifier"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
)

// GmailTransport sends emails via Gmail API.
type GmailTransport struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailTransport creates a new Gmail transport.
func NewGmailTransport(service *gmail.Service, logger *slog.Logger) *GmailTransport {
	return &GmailTransport{
		service: service,
		logger:  logger,
	}
}

// Open returns a session over the already authenticated API service.
func (g *GmailTransport) Open(context.Context) (Session, error) {
	if g.service == nil {
		return nil, errors.New("gmail service not initialized")
	}
	return g, nil
}

// Send sends one message via Gmail API.
func (g *GmailTransport) Send(ctx context.Context, msg *notifier.Message) error {
	encoded := base64.URLEncoding.EncodeToString(buildMIME(msg, time.Now()))

	return retry.Do(
		func() error {
			g.logger.Info("Gmail API request starting",
				"method", "POST",
				"endpoint", "users.messages.send",
				"to", msg.To,
				"subject", msg.Subject)

			startTime := time.Now()
			_, err := g.service.Users.Messages.Send("me", &gmail.Message{
				Raw: encoded,
			}).Context(ctx).Do()
			duration := time.Since(startTime)

			if err != nil {
				g.logger.Warn("Gmail API send failed, will retry",
					"to", msg.To,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			g.logger.Info("Gmail API request completed",
				"endpoint", "users.messages.send",
				"to", msg.To,
				"duration_ms", duration.Milliseconds(),
				"status", "success")

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying Gmail email send after error", "attempt", n, "error", err)
		}),
	)
}

// Close is a no-op; the API service holds no connection of its own.
func (g *GmailTransport) Close() error {
	return nil
}
