package delivery

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"OutreachEngine/internal/config"
	"OutreachEngine/internal/logging"
	"OutreachEngine/internal/ports"
)

// SMTPChannel delivers messages through an SMTP relay.
type SMTPChannel struct {
	cfg     config.SMTPConfig
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

var _ ports.Channel = (*SMTPChannel)(nil)

// NewSMTPChannel creates an SMTP channel from configuration.
func NewSMTPChannel(cfg config.SMTPConfig, logger *slog.Logger) *SMTPChannel {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SMTPChannel{cfg: cfg, timeout: 30 * time.Second, now: time.Now, logger: logger}
}

// Send transmits env and returns the generated Message-ID.
func (c *SMTPChannel) Send(ctx context.Context, env ports.Envelope) (string, error) {
	if c.cfg.Host == "" || c.cfg.Port == 0 {
		return "", fmt.Errorf("smtp channel misconfigured")
	}
	if env.To == "" || env.From == "" {
		return "", fmt.Errorf("envelope needs sender and recipient")
	}

	messageID := newMessageID(env.From)
	msg := buildMessage(env, messageID, c.now())

	client, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := c.transmit(client, env, msg); err != nil {
		return "", err
	}
	return messageID, nil
}

// connect dials the relay according to the TLS mode: implicit TLS (port 465),
// STARTTLS (port 587) or plain.
func (c *SMTPChannel) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName: c.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	dialer := &net.Dialer{Timeout: c.timeout}
	var (
		conn net.Conn
		err  error
	)
	if c.cfg.TLS == "tls" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("SMTP dial failed: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("SMTP client failed: %w", err)
	}

	if c.cfg.TLS == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	return client, nil
}

func (c *SMTPChannel) transmit(client *smtp.Client, env ports.Envelope, msg string) error {
	if c.cfg.Username != "" && c.cfg.Password != "" {
		auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	if err := client.Mail(env.From); err != nil {
		return fmt.Errorf("SMTP MAIL failed: %w", err)
	}
	if err := client.Rcpt(env.To); err != nil {
		return fmt.Errorf("SMTP RCPT failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA failed: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("SMTP write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("SMTP close failed: %w", err)
	}

	// The relay accepted the message once DATA closed; a failing QUIT must not
	// turn it into a failed delivery.
	if err := client.Quit(); err != nil {
		c.logger.Warn("SMTP quit failed after message was accepted", "to", env.To, "error", err)
	}
	return nil
}

func buildMessage(env ports.Envelope, messageID string, date time.Time) string {
	from := (&mail.Address{Name: env.FromName, Address: env.From}).String()

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", env.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", env.Subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", messageID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	msg.WriteString("\r\n")

	body := strings.ReplaceAll(env.Body, "\r\n", "\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	msg.WriteString("\r\n")
	return msg.String()
}

func newMessageID(from string) string {
	domain := "localhost"
	if _, host, ok := strings.Cut(from, "@"); ok && host != "" {
		domain = host
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
