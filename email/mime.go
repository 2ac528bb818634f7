package email

import (
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"moddb-notifier/pkg/notifier"
)

// sanitizeEmailHeader removes newlines and control characters to prevent header injection.
// Comment authors are site users, so the subject is attacker controlled.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// formatAddress renders an address header, encoding a non-ASCII display name.
func formatAddress(raw string) string {
	raw = sanitizeEmailHeader(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return raw
	}
	return addr.String()
}

// buildMIME renders msg as a plain text RFC 5322 message.
func buildMIME(msg *notifier.Message, now time.Time) []byte {
	var b strings.Builder
	if msg.From != "" {
		b.WriteString(fmt.Sprintf("From: %s\r\n", formatAddress(msg.From)))
	}
	b.WriteString(fmt.Sprintf("To: %s\r\n", formatAddress(msg.To)))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", sanitizeEmailHeader(msg.Subject))))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

// envelopeAddress extracts the bare address for SMTP MAIL/RCPT commands.
func envelopeAddress(raw string) string {
	addr, err := mail.ParseAddress(sanitizeEmailHeader(raw))
	if err != nil {
		return sanitizeEmailHeader(raw)
	}
	return addr.Address
}
