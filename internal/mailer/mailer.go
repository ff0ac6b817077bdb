// Package mailer sends plain-text notification emails over SMTP.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/emersion/go-message/mail"
)

// Mailer delivers one notification email to the configured recipients.
type Mailer interface {
	Send(ctx context.Context, subject, body string) error
}

// SMTP is the net/smtp backed Mailer, with optional STARTTLS and PLAIN auth.
type SMTP struct {
	host       string
	port       int
	username   string
	password   string
	useTLS     bool
	sender     string
	recipients []string
	logger     *slog.Logger
}

// NewSMTP creates a new SMTP mailer.
func NewSMTP(host string, port int, username, password string, useTLS bool, sender string, recipients []string, logger *slog.Logger) *SMTP {
	return &SMTP{
		host:       host,
		port:       port,
		username:   username,
		password:   password,
		useTLS:     useTLS,
		sender:     sender,
		recipients: recipients,
		logger:     logger,
	}
}

// IsProtocolError reports whether err is an SMTP protocol-level failure,
// i.e. the server responded with an error status code. These are the
// transient failures worth retrying; anything else is a transport or
// configuration problem.
func IsProtocolError(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr)
}

// Send delivers a single plain-text message to all recipients.
func (s *SMTP) Send(ctx context.Context, subject, body string) error {
	message, err := s.buildMessage(subject, body)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer client.Close()

	if s.useTLS {
		tlsConfig := &tls.Config{ServerName: s.host}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("smtp STARTTLS: %w", err)
		}
	}

	if s.username != "" && s.password != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.sender); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range s.recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("smtp quit: %w", err)
	}

	s.logger.Debug("sent notification", "recipients", len(s.recipients), "subject", subject)
	return nil
}

// buildMessage assembles the RFC 5322 notification message.
func (s *SMTP) buildMessage(subject, body string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: s.sender}})
	to := make([]*mail.Address, 0, len(s.recipients))
	for _, rcpt := range s.recipients {
		to = append(to, &mail.Address{Address: rcpt})
	}
	h.SetAddressList("To", to)
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}
