package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/sirupsen/logrus"
)

// SMTPConfig addresses an authenticated submission relay
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPMailer delivers through a submission relay using STARTTLS when offered
type SMTPMailer struct {
	cfg SMTPConfig
	log *logrus.Entry
	now func() time.Time
}

// NewSMTPMailer creates an SMTP transport
func NewSMTPMailer(cfg SMTPConfig, log *logrus.Entry) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPMailer{cfg: cfg, log: log, now: time.Now}
}

// Send delivers msg in a single SMTP session
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	content, err := Compose(msg, m.now())
	if err != nil {
		return err
	}

	address := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	client, err := m.connect(ctx, address)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO failed for %s: %w", msg.To, err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := writer.Write(content); err != nil {
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		m.log.WithError(err).Warn("QUIT command failed")
	}

	m.log.WithFields(logrus.Fields{
		"address": address,
		"to":      msg.To,
	}).Debug("SMTP delivery successful")

	return nil
}

func (m *SMTPMailer) connect(ctx context.Context, address string) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	return client, nil
}
