// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

// Package notify delivers out-of-band messages such as password reset emails.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/commguard/commguard/internal/auth"
)

// DefaultSMTPPort is the submission port used when none is configured.
const DefaultSMTPPort = 587

// DefaultTimeout bounds a whole SMTP exchange.
const DefaultTimeout = 10 * time.Second

// SMTPConfig configures the SMTP notifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string //nolint:gosec // configuration field, never logged
	From     string
	Timeout  time.Duration
}

// SMTPNotifier sends plain-text email through an SMTP relay. It upgrades to
// TLS when the server offers STARTTLS and authenticates when a username is set.
type SMTPNotifier struct {
	cfg    SMTPConfig
	logger *slog.Logger
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	now    func() time.Time
}

var _ auth.Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("smtp sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultSMTPPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &net.Dialer{}
	return &SMTPNotifier{cfg: cfg, logger: logger, dial: d.DialContext, now: time.Now}, nil
}

// Send delivers one message to every recipient.
func (n *SMTPNotifier) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return oops.Code("NOTIFY_NO_RECIPIENTS").Errorf("at least one recipient is required")
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	errb := oops.Code("NOTIFY_SEND_FAILED").With("addr", addr).With("recipients", len(to))

	n.logger.Info("sending email", "recipients", len(to), "subject", subject)

	conn, err := n.dial(ctx, "tcp", addr)
	if err != nil {
		return errb.Wrapf(err, "dial smtp server")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) //nolint:errcheck // surfaced by the next read or write
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // handshake error takes precedence
		return errb.Wrapf(err, "smtp handshake")
	}
	defer c.Close() //nolint:errcheck // Quit already reported the result

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return errb.Wrapf(err, "starttls")
		}
	}
	if n.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
			return errb.Wrapf(err, "smtp auth")
		}
	}

	if err := c.Mail(n.cfg.From); err != nil {
		return errb.Wrapf(err, "mail from")
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return errb.Wrapf(err, "rcpt to")
		}
	}
	w, err := c.Data()
	if err != nil {
		return errb.Wrapf(err, "data")
	}
	if _, err := w.Write(n.message(to, subject, body)); err != nil {
		return errb.Wrapf(err, "write message")
	}
	if err := w.Close(); err != nil {
		return errb.Wrapf(err, "end data")
	}
	if err := c.Quit(); err != nil {
		return errb.Wrapf(err, "quit")
	}

	n.logger.Info("email sent", "recipients", len(to))
	return nil
}

func (n *SMTPNotifier) message(to []string, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return b.Bytes()
}
