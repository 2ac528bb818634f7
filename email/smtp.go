package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"moddb-notifier/pkg/notifier"
)

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string // Login and envelope sender
	Password string
	Timeout  time.Duration
}

// SMTPTransport sends email through an SMTP relay using STARTTLS and PLAIN auth.
type SMTPTransport struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPTransport creates a new SMTP transport.
func NewSMTPTransport(cfg SMTPConfig, logger *slog.Logger) *SMTPTransport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPTransport{
		cfg:    cfg,
		logger: logger,
	}
}

// Open dials the relay, upgrades to TLS when offered, and authenticates.
func (t *SMTPTransport) Open(ctx context.Context) (Session, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	t.logger.Info("SMTP connection starting", "addr", addr, "user", t.cfg.Username)

	startTime := time.Now()
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	// Covers the greeting, STARTTLS and AUTH; each Send sets its own.
	if err := conn.SetDeadline(time.Now().Add(t.cfg.Timeout)); err != nil {
		t.logger.Warn("Failed to set SMTP deadline", "error", err)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}

	if t.cfg.Password != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}

	t.logger.Info("SMTP session opened", "addr", addr, "duration_ms", time.Since(startTime).Milliseconds())
	return &smtpSession{
		conn:    conn,
		client:  client,
		from:    t.cfg.Username,
		timeout: t.cfg.Timeout,
		logger:  t.logger,
	}, nil
}

// smtpSession refreshes the connection deadline before every message.
type smtpSession struct {
	conn    net.Conn
	client  *smtp.Client
	from    string
	timeout time.Duration
	logger  *slog.Logger
}

func (s *smtpSession) extendDeadline() error {
	return s.conn.SetDeadline(time.Now().Add(s.timeout))
}

func (s *smtpSession) Send(_ context.Context, msg *notifier.Message) error {
	if err := s.extendDeadline(); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if err := s.client.Mail(envelopeAddress(s.from)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := s.client.Rcpt(envelopeAddress(msg.To)); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := s.client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(buildMIME(msg, time.Now())); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	s.logger.Info("Email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

func (s *smtpSession) Close() error {
	if err := s.extendDeadline(); err != nil {
		s.logger.Warn("Failed to set SMTP deadline", "error", err)
	}
	return s.client.Quit()
}
