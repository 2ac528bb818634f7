// Package email composes comment notifications and delivers them through a
// pluggable mail transport.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"moddb-notifier/pkg/notifier"
)

// Transport opens authenticated sessions with a mail service.
type Transport interface {
	// Open connects and authenticates once; every message of a batch is sent
	// through the returned session.
	Open(ctx context.Context) (Session, error)
}

// Session is one open, authenticated connection to a mail service.
type Session interface {
	Send(ctx context.Context, msg *notifier.Message) error
	Close() error
}

// Dispatcher sends a run's messages in a single transport session.
type Dispatcher struct {
	transport Transport
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher over the given transport.
func NewDispatcher(transport Transport, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		logger:    logger,
	}
}

// Dispatch sends msgs in order and returns how many were sent. An empty batch
// never opens a session. Delivery is at most once: when the session cannot be
// opened, or a send fails, the rest of the batch is dropped and the error is
// returned.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []*notifier.Message) (int, error) {
	if len(msgs) == 0 {
		d.logger.Debug("No messages to dispatch")
		return 0, nil
	}

	session, err := d.transport.Open(ctx)
	if err != nil {
		d.logger.Error("Unable to open mail session, dropping batch", "messages", len(msgs), "error", err)
		return 0, fmt.Errorf("open mail session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			d.logger.Warn("Failed to close mail session", "error", closeErr)
		}
	}()

	for i, msg := range msgs {
		if err := session.Send(ctx, msg); err != nil {
			d.logger.Error("Unable to send email, dropping rest of batch",
				"to", msg.To,
				"sent", i,
				"dropped", len(msgs)-i,
				"error", err)
			return i, fmt.Errorf("send message %d of %d: %w", i+1, len(msgs), err)
		}
	}

	d.logger.Info("Email batch sent", "count", len(msgs))
	return len(msgs), nil
}
