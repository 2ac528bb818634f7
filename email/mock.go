package email

import (
	"context"
	"log/slog"

	"moddb-notifier/pkg/notifier"
)

// MockTransport logs messages instead of sending them, for local development.
type MockTransport struct {
	logger *slog.Logger
}

// NewMockTransport creates a new mock transport.
func NewMockTransport(logger *slog.Logger) *MockTransport {
	return &MockTransport{
		logger: logger,
	}
}

// Open always succeeds.
func (m *MockTransport) Open(context.Context) (Session, error) {
	return m, nil
}

// Send logs the email instead of sending it.
func (m *MockTransport) Send(_ context.Context, msg *notifier.Message) error {
	m.logger.Info("MOCK EMAIL",
		"to", msg.To,
		"from", msg.From,
		"subject", msg.Subject,
		"body_length", len(msg.Body))
	return nil
}

// Close is a no-op.
func (m *MockTransport) Close() error {
	return nil
}
